package transaction

import "database/sql"

// Type tells the direction of the persisted transaction from the owning ledger point of view.
type Type string

const (
	Sending   Type = "SENDING"
	Receiving Type = "RECEIVING"
)

// Entry is the persisted transaction of a ledger.
// Source and Target are not stored, they are resolved from LedgerID and OtherID when read.
type Entry struct {
	ID       int64          `json:"id"        db:"id"`
	LedgerID int64          `json:"ledger_id" db:"ledger_id"`
	OtherID  int64          `json:"other_id"  db:"other_id"`
	IsSend   bool           `json:"is_send"   db:"is_send"`
	Amount   int64          `json:"amount"    db:"amount"`
	Nonce    string         `json:"nonce"     db:"nonce"`
	Hash     string         `json:"hash"      db:"hash"`
	PrevHash sql.NullString `json:"prev_hash" db:"prev_hash"`
	Pending  bool           `json:"pending"   db:"pending"`
	Source   string         `json:"-"         db:"-"`
	Target   string         `json:"-"         db:"-"`
}

// NewEntry creates entry owned by ledgerID from the signed transaction.
// Sending entries start pending until the counterparty receives them.
func NewEntry(ledgerID, otherID int64, trx Transaction) Entry {
	e := Entry{
		LedgerID: ledgerID,
		OtherID:  otherID,
		IsSend:   trx.IsSend,
		Amount:   trx.Amount,
		Nonce:    trx.Nonce,
		Hash:     trx.Signature,
		Pending:  trx.IsSend,
		Source:   trx.Source,
		Target:   trx.Target,
	}
	if trx.PreviousSignature != "" {
		e.PrevHash = sql.NullString{String: trx.PreviousSignature, Valid: true}
	}
	return e
}

// Type returns the entry direction.
func (e Entry) Type() Type {
	if e.IsSend {
		return Sending
	}
	return Receiving
}

// Serialize converts entry to the wire transaction.
func (e Entry) Serialize() Transaction {
	return Transaction{
		Source:            e.Source,
		Target:            e.Target,
		IsSend:            e.IsSend,
		Amount:            e.Amount,
		Nonce:             e.Nonce,
		Signature:         e.Hash,
		PreviousSignature: e.PrevHash.String,
	}
}

// SerializeAll converts entries to the wire transactions preserving the order.
func SerializeAll(entries []Entry) []Transaction {
	trxs := make([]Transaction, 0, len(entries))
	for _, e := range entries {
		trxs = append(trxs, e.Serialize())
	}
	return trxs
}
