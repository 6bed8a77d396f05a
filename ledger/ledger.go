// Package ledger holds the per account state and the verifiable representation of its
// hash-chained transaction history.
package ledger

import (
	"errors"
	"fmt"

	"github.com/bartossh/echoledger/transaction"
)

var (
	ErrBrokenChain  = errors.New("transaction hash chain is broken")
	ErrForeignEntry = errors.New("transaction does not belong to the ledger")
)

// Ledger is the balance and logical clock of the account owning PublicKey.
type Ledger struct {
	ID        int64  `json:"id"         db:"id"`
	PublicKey string `json:"public_key" db:"public_key"`
	Balance   int64  `json:"balance"    db:"balance"`
	Timestamp int64  `json:"timestamp"  db:"timestamp"`
}

// New creates ledger with the initial balance. ID is assigned by the persistence layer.
func New(publicKey string, initial int64) Ledger {
	return Ledger{PublicKey: publicKey, Balance: initial}
}

// Apply adjusts the balance by the effect of the transaction.
func (l *Ledger) Apply(isSend bool, amount int64) {
	if isSend {
		l.Balance -= amount
		return
	}
	l.Balance += amount
}

// Revert undoes the effect of the transaction on the balance.
func (l *Ledger) Revert(isSend bool, amount int64) {
	l.Apply(!isSend, amount)
}

// IsStale tells if the submitted logical clock is not newer than the local one.
func (l Ledger) IsStale(submitted int64) bool {
	return l.Timestamp >= submitted
}

// Snapshot is the ledger view exchanged with clients: ordered transactions and the logical clock.
type Snapshot struct {
	Transactions []transaction.Transaction `json:"transactions"`
	Timestamp    int64                     `json:"timestamp"`
}

// Owner returns public key of the snapshot owner or empty string if the snapshot is empty.
func (s Snapshot) Owner() string {
	if len(s.Transactions) == 0 {
		return ""
	}
	return s.Transactions[0].Source
}

// Signable returns the canonical text of the snapshot.
func (s Snapshot) Signable() string {
	return fmt.Sprintf("%s|%d", Verifiable(s.Transactions).Hashable(), s.Timestamp)
}

// VerifyChain checks entries ordered by id are linked by their hashes.
func VerifyChain(entries []transaction.Entry) error {
	for i, e := range entries {
		if i == 0 {
			if e.PrevHash.Valid {
				return errors.Join(ErrBrokenChain, fmt.Errorf("first transaction %d has previous hash", e.ID))
			}
			continue
		}
		if !e.PrevHash.Valid || e.PrevHash.String != entries[i-1].Hash {
			return errors.Join(ErrBrokenChain, fmt.Errorf("transaction %d does not link to %d", e.ID, entries[i-1].ID))
		}
	}
	return nil
}

// ReplayBalance computes the balance the ledger shall have after applying entries to the initial amount.
func ReplayBalance(l Ledger, initial int64, entries []transaction.Entry) (int64, error) {
	probe := Ledger{Balance: initial}
	for _, e := range entries {
		if e.LedgerID != l.ID {
			return 0, errors.Join(ErrForeignEntry, fmt.Errorf("transaction %d belongs to ledger %d", e.ID, e.LedgerID))
		}
		probe.Apply(e.IsSend, e.Amount)
	}
	return probe.Balance, nil
}
