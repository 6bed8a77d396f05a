package bookkeeping

import (
	"context"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
)

// Account is the balance of the ledger and the transactions sent to it waiting to be received.
type Account struct {
	Balance             int64                     `json:"balance"`
	PendingTransactions []transaction.Transaction `json:"pendingTransactions"`
}

// CheckAccount reads the balance and pending incoming transactions of the ledger owned by key.
func (b *Bookkeeper) CheckAccount(ctx context.Context, key string) (Account, error) {
	if err := b.decodeKey(key); err != nil {
		return Account{}, err
	}
	s, err := b.begin(ctx, true)
	if err != nil {
		return Account{}, err
	}
	defer b.rollback(s)

	l, err := readLedger(ctx, s, key, false)
	if err != nil {
		return Account{}, err
	}
	pending, err := s.ReadPendingIncoming(ctx, l.ID)
	if err != nil {
		return Account{}, status.Server(err)
	}
	return Account{Balance: l.Balance, PendingTransactions: transaction.SerializeAll(pending)}, nil
}

// Audit reads full transaction history of the ledger owned by key.
func (b *Bookkeeper) Audit(ctx context.Context, key string) (ledger.Snapshot, error) {
	if err := b.decodeKey(key); err != nil {
		return ledger.Snapshot{}, err
	}
	s, err := b.begin(ctx, true)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer b.rollback(s)

	l, err := readLedger(ctx, s, key, false)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	entries, err := s.ReadTransactions(ctx, l.ID)
	if err != nil {
		return ledger.Snapshot{}, status.Server(err)
	}
	return ledger.Snapshot{Transactions: transaction.SerializeAll(entries), Timestamp: l.Timestamp}, nil
}
