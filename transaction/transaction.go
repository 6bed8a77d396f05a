package transaction

import (
	"errors"

	"github.com/bartossh/echoledger/signable"
)

var (
	ErrMissingSource    = errors.New("transaction source is missing")
	ErrMissingNonce     = errors.New("transaction nonce is missing")
	ErrMissingSignature = errors.New("transaction signature is missing")
	ErrNegativeAmount   = errors.New("transaction amount is negative")
)

// Transaction is the signed transaction record exchanged with clients and other replicas.
// Source is always the public key of the ledger the transaction belongs to, Target the counterparty.
// Signature is the transaction hash, PreviousSignature links it to the preceding transaction of the
// Source ledger and is empty for the first one.
type Transaction struct {
	Source            string `json:"source"`
	Target            string `json:"target"`
	IsSend            bool   `json:"isSend"`
	Amount            int64  `json:"amount"`
	Nonce             string `json:"nonce"`
	Signature         string `json:"signature"`
	PreviousSignature string `json:"previousSignature"`
}

// Signable returns canonical text signed by the Source owner.
func (t Transaction) Signable() string {
	return signable.Join(
		t.Source, t.Target, signable.Bool(t.IsSend), signable.Int(t.Amount), t.Nonce, t.PreviousSignature,
	)
}

// Hashable returns canonical text of all the fields including the signature.
func (t Transaction) Hashable() string {
	return signable.Join(
		t.Source, t.Target, signable.Bool(t.IsSend), signable.Int(t.Amount), t.Nonce, t.Signature, t.PreviousSignature,
	)
}

// Validate checks the transaction is well formed.
func (t Transaction) Validate() error {
	switch {
	case t.Source == "":
		return ErrMissingSource
	case t.Nonce == "":
		return ErrMissingNonce
	case t.Signature == "":
		return ErrMissingSignature
	case t.Amount < 0:
		return ErrNegativeAmount
	}
	return nil
}

// VerifySignature checks the transaction is signed by the Source owner.
func (t Transaction) VerifySignature(v signable.Verifier) error {
	return signable.Verify(v, t.Signature, t, t.Source)
}

// Sign sets Signature of the transaction signed by signer, the owner of Source.
func (t *Transaction) Sign(s signable.Signer) {
	t.Signature = signable.Sign(s, t)
}

// Initial is the transaction that opens a ledger with the initial balance.
type Initial struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Signable returns canonical text signed by the Source owner.
func (i Initial) Signable() string {
	return signable.Join(i.Source, signable.Int(i.Amount), i.Nonce)
}

// VerifySignature checks the initial transaction is signed by the Source owner.
func (i Initial) VerifySignature(v signable.Verifier) error {
	return signable.Verify(v, i.Signature, i, i.Source)
}

// Sign sets Signature of the initial transaction.
func (i *Initial) Sign(s signable.Signer) {
	i.Signature = signable.Sign(s, i)
}
