package repository

import (
	"context"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/transaction"
)

// Session is the unit of work of a single request.
// Nothing written in the session is visible to other sessions until Commit.
// Rollback after Commit is a no-op so it can always be deferred.
type Session interface {
	ReadLedgerByKey(ctx context.Context, publicKey string) (ledger.Ledger, error)
	ReadLedgerForUpdate(ctx context.Context, publicKey string) (ledger.Ledger, error)
	NextLedgerID(ctx context.Context) (int64, error)
	WriteLedger(ctx context.Context, l ledger.Ledger) error
	UpdateLedger(ctx context.Context, l ledger.Ledger) error

	ReadTransactions(ctx context.Context, ledgerID int64) ([]transaction.Entry, error)
	ReadPendingIncoming(ctx context.Context, ledgerID int64) ([]transaction.Entry, error)
	ReadTransactionByHash(ctx context.Context, hash string) (transaction.Entry, error)
	NextTransactionID(ctx context.Context) (int64, error)
	WriteTransaction(ctx context.Context, e transaction.Entry) error
	UpdatePending(ctx context.Context, id int64, pending bool) error
	RemoveTransaction(ctx context.Context, id int64) error

	Commit() error
	Rollback() error
}
