// Package bookkeeping holds the request handlers of the replica.
// Write handlers reconcile the source ledger with the quorum agreed snapshot, validate the operation
// and commit exactly once under the ledger lock. Read handlers never mutate state.
package bookkeeping

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logger"
	"github.com/bartossh/echoledger/reconciliation"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
)

var (
	ErrLedgerExists       = errors.New("ledger already exists")
	ErrLedgerMissing      = errors.New("ledger does not exist")
	ErrEmptySnapshot      = errors.New("submitted ledger has no transactions")
	ErrSnapshotOwner      = errors.New("submitted ledger does not belong to the transaction source")
	ErrWrongDirection     = errors.New("transaction direction does not match the operation")
	ErrSelfTransfer       = errors.New("transaction source and target are the same")
	ErrAmountNotPositive  = errors.New("transaction amount must be positive")
	ErrInsufficientFunds  = errors.New("transaction amount exceeds the balance")
	ErrChainMismatch      = errors.New("previous signature is not the last local transaction hash")
	ErrTransactionExists  = errors.New("transaction already exists")
	ErrPendingMissing     = errors.New("pending transaction does not exist")
	ErrPendingNotPending  = errors.New("referenced transaction is not a pending send")
	ErrPendingNotMirrored = errors.New("pending transaction is not the mirror of the received one")
	ErrPendingAmount      = errors.New("pending transaction amount differs from the received one")
	ErrMissingPending     = errors.New("pending transaction hash is missing")
)

// Repository opens persistence sessions.
type Repository interface {
	Begin(ctx context.Context, readOnly bool) (repository.Session, error)
}

// Reconciler brings the local ledger in line with the submitted snapshot.
type Reconciler interface {
	Reconcile(ctx context.Context, s reconciliation.Session, l *ledger.Ledger, snap ledger.Snapshot) (reconciliation.Outcome, error)
}

// KeyVerifier decodes public keys and verifies signatures made with them.
type KeyVerifier interface {
	AddressToPubKey(address string) (ed25519.PublicKey, error)
	Verify(message, signature []byte, address string) error
}

// Notifier is notified about every committed operation. Notify must not block.
type Notifier interface {
	Notify(ev ledger.Committed)
}

// Bookkeeper performs the bookkeeping operations on the replica ledgers.
type Bookkeeper struct {
	repo       Repository
	reconciler Reconciler
	lock       sync.Locker
	verifier   KeyVerifier
	notifiers  []Notifier
	log        logger.Logger
}

// New creates Bookkeeper. The lock is the process wide ledger lock shared with the Reconciler.
func New(
	repo Repository, rec Reconciler, lock sync.Locker, v KeyVerifier, log logger.Logger, notifiers ...Notifier,
) *Bookkeeper {
	return &Bookkeeper{
		repo:       repo,
		reconciler: rec,
		lock:       lock,
		verifier:   v,
		notifiers:  notifiers,
		log:        log,
	}
}

func (b *Bookkeeper) notify(ev ledger.Committed) {
	for _, n := range b.notifiers {
		n.Notify(ev)
	}
}

func (b *Bookkeeper) begin(ctx context.Context, readOnly bool) (repository.Session, error) {
	s, err := b.repo.Begin(ctx, readOnly)
	if err != nil {
		return nil, status.Server(err)
	}
	return s, nil
}

// rollback is deferred by every handler, it is a no-op after a successful commit.
func (b *Bookkeeper) rollback(s repository.Session) {
	if err := s.Rollback(); err != nil {
		b.log.Error(fmt.Sprintf("session rollback failed: %s", err))
	}
}

// commit commits the session under the ledger lock.
func (b *Bookkeeper) commit(s repository.Session) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := s.Commit(); err != nil {
		return status.Server(err)
	}
	return nil
}

func (b *Bookkeeper) decodeKey(key string) error {
	if key == "" {
		return status.Client(status.ErrorMissingParameter, errors.New("public key is missing"))
	}
	if _, err := b.verifier.AddressToPubKey(key); err != nil {
		return status.Client(status.ErrorInvalidKey, err)
	}
	return nil
}

func readLedger(ctx context.Context, s repository.Session, key string, forUpdate bool) (ledger.Ledger, error) {
	var (
		l   ledger.Ledger
		err error
	)
	if forUpdate {
		l, err = s.ReadLedgerForUpdate(ctx, key)
	} else {
		l, err = s.ReadLedgerByKey(ctx, key)
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ledger.Ledger{}, status.Client(status.ErrorMissingLedger, errors.Join(ErrLedgerMissing, fmt.Errorf("key %s", key)))
	case err != nil:
		return ledger.Ledger{}, status.Server(err)
	}
	return l, nil
}

func lastHash(ctx context.Context, s repository.Session, ledgerID int64) (string, error) {
	entries, err := s.ReadTransactions(ctx, ledgerID)
	if err != nil {
		return "", status.Server(err)
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].Hash, nil
}

func validateTransaction(trx transaction.Transaction) error {
	err := trx.Validate()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transaction.ErrNegativeAmount):
		return status.Client(status.ErrorInvalidAmount, err)
	default:
		return status.Client(status.ErrorMissingParameter, err)
	}
}
