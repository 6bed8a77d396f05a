package ledger

import (
	"strings"

	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/transaction"
)

const entrySeparator = ";"

// Verifiable is an ordered transaction list that can be fingerprinted.
// Replicas and clients compare digests of Verifiable ledgers to detect divergence.
type Verifiable []transaction.Transaction

// Hashable returns canonical concatenation of every transaction in sequence order.
func (v Verifiable) Hashable() string {
	var b strings.Builder
	for _, trx := range v {
		b.WriteString(trx.Hashable())
		b.WriteString(entrySeparator)
	}
	return b.String()
}

// Digest returns the ledger fingerprint.
func (v Verifiable) Digest() string {
	return signable.Digest(v.Hashable())
}

// Prefix returns the first n transactions. n is clamped to the list bounds.
func (v Verifiable) Prefix(n int) Verifiable {
	if n < 0 {
		n = 0
	}
	if n > len(v) {
		n = len(v)
	}
	return v[:n]
}

// Last returns last transaction and true or zero value and false if ledger is empty.
func (v Verifiable) Last() (transaction.Transaction, bool) {
	if len(v) == 0 {
		return transaction.Transaction{}, false
	}
	return v[len(v)-1], true
}
