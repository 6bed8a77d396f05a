// Package reconciliation brings the local copy of a ledger in line with the quorum agreed snapshot
// presented by a client before a certified write is applied.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logger"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/signable"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
)

var (
	ErrStaleLedger        = errors.New("submitted ledger is not newer than the local one")
	ErrDivergence         = errors.New("no prefix of the submitted ledger matches the local ledger")
	ErrForeignTransaction = errors.New("submitted transaction does not belong to the ledger")
	ErrBrokenChain        = errors.New("submitted transaction does not link to the local chain")
	ErrUnknownTarget      = errors.New("submitted transaction targets unknown ledger")
)

// Session is the part of the persistence session used by the Engine.
type Session interface {
	ReadLedgerByKey(ctx context.Context, publicKey string) (ledger.Ledger, error)
	UpdateLedger(ctx context.Context, l ledger.Ledger) error
	ReadTransactions(ctx context.Context, ledgerID int64) ([]transaction.Entry, error)
	NextTransactionID(ctx context.Context) (int64, error)
	WriteTransaction(ctx context.Context, e transaction.Entry) error
	UpdatePending(ctx context.Context, id int64, pending bool) error
	RemoveTransaction(ctx context.Context, id int64) error
}

// Kind tells what the reconciliation had to do.
type Kind int

const (
	Synchronized Kind = iota // local ledger matched the snapshot
	Trimmed                  // local ledger was one uncertified transaction ahead
	Replayed                 // local ledger was behind and missing transactions were replayed
)

func (k Kind) String() string {
	switch k {
	case Synchronized:
		return "synchronized"
	case Trimmed:
		return "trimmed"
	case Replayed:
		return "replayed"
	default:
		return "unknown"
	}
}

// Outcome is the result of the reconciliation.
type Outcome struct {
	Kind     Kind
	Removed  transaction.Transaction   // set when Kind is Trimmed
	Appended []transaction.Transaction // set when Kind is Replayed
}

// Engine reconciles ledgers inside the request session. It never commits.
type Engine struct {
	lock     sync.Locker
	verifier signable.Verifier
	log      logger.Logger
}

// New creates Engine. The lock is the process wide ledger lock shared with the request handlers.
func New(lock sync.Locker, v signable.Verifier, log logger.Logger) *Engine {
	return &Engine{lock: lock, verifier: v, log: log}
}

// Reconcile makes the persisted transactions of l equal to the snapshot transactions.
// Balance changes are applied to l and persisted, the timestamp is left to the caller.
func (e *Engine) Reconcile(ctx context.Context, s Session, l *ledger.Ledger, snap ledger.Snapshot) (Outcome, error) {
	if l.IsStale(snap.Timestamp) {
		return Outcome{}, status.Client(status.ErrorInvalidLedger,
			errors.Join(ErrStaleLedger, fmt.Errorf("local %d, submitted %d", l.Timestamp, snap.Timestamp)))
	}

	entries, err := s.ReadTransactions(ctx, l.ID)
	if err != nil {
		return Outcome{}, status.Server(err)
	}
	local := ledger.Verifiable(transaction.SerializeAll(entries))
	received := ledger.Verifiable(snap.Transactions)
	localHash := local.Digest()

	if localHash == received.Digest() {
		return Outcome{Kind: Synchronized}, nil
	}

	if len(entries) > 0 && local.Prefix(len(local)-1).Digest() == received.Digest() {
		last := entries[len(entries)-1]
		if err := e.trim(ctx, s, l, last); err != nil {
			return Outcome{}, err
		}
		e.log.Info(fmt.Sprintf("ledger [ %s ] trimmed uncertified transaction [ %s ]", l.PublicKey, last.Hash))
		return Outcome{Kind: Trimmed, Removed: last.Serialize()}, nil
	}

	behind := Behind(localHash, received)
	if behind < 0 {
		return Outcome{}, status.Server(errors.Join(ErrDivergence, fmt.Errorf(
			"ledger %s, local %d transactions, submitted %d", l.PublicKey, len(local), len(received))))
	}

	prevHash := ""
	if last, ok := local.Last(); ok {
		prevHash = last.Signature
	}
	missing := received[len(received)-behind:]
	for _, trx := range missing {
		if err := e.replay(ctx, s, l, trx, prevHash); err != nil {
			return Outcome{}, err
		}
		prevHash = trx.Signature
	}
	e.log.Info(fmt.Sprintf("ledger [ %s ] replayed [ %d ] missing transactions", l.PublicKey, behind))

	return Outcome{Kind: Replayed, Appended: missing}, nil
}

// Behind returns how many trailing transactions of received are missing from the ledger with localHash.
// It looks for the longest proper prefix of received matching localHash and returns -1 if there is none.
func Behind(localHash string, received ledger.Verifiable) int {
	for k := len(received) - 1; k >= 0; k-- {
		if received.Prefix(k).Digest() == localHash {
			return len(received) - k
		}
	}
	return -1
}

// trim allocates no id and runs outside the ledger lock.
// Trimming a receive puts the send it settled back to pending.
func (e *Engine) trim(ctx context.Context, s Session, l *ledger.Ledger, last transaction.Entry) error {
	if err := s.RemoveTransaction(ctx, last.ID); err != nil {
		return status.Server(err)
	}
	if !last.IsSend {
		if err := e.flipMirror(ctx, s, last.OtherID, last.LedgerID, last.Amount, true); err != nil {
			return err
		}
	}
	l.Revert(last.IsSend, last.Amount)
	if err := s.UpdateLedger(ctx, *l); err != nil {
		return status.Server(err)
	}
	return nil
}

func (e *Engine) replay(ctx context.Context, s Session, l *ledger.Ledger, trx transaction.Transaction, prevHash string) error {
	if trx.Source != l.PublicKey {
		return status.Client(status.ErrorInvalidLedger,
			errors.Join(ErrForeignTransaction, fmt.Errorf("transaction %s has source %s", trx.Signature, trx.Source)))
	}
	if trx.PreviousSignature != prevHash {
		return status.Client(status.ErrorInvalidLedger,
			errors.Join(ErrBrokenChain, fmt.Errorf("transaction %s", trx.Signature)))
	}
	if err := trx.Validate(); err != nil {
		return status.Client(status.ErrorInvalidLedger, err)
	}
	if err := trx.VerifySignature(e.verifier); err != nil {
		return status.Protocol(status.ErrorNoSignatureMatch, err)
	}

	target, err := s.ReadLedgerByKey(ctx, trx.Target)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Client(status.ErrorMissingLedger, errors.Join(ErrUnknownTarget, fmt.Errorf("target %s", trx.Target)))
	case err != nil:
		return status.Server(err)
	}

	if !trx.IsSend {
		if err := e.flipMirror(ctx, s, target.ID, l.ID, trx.Amount, false); err != nil {
			return err
		}
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	entry := transaction.NewEntry(l.ID, target.ID, trx)
	if entry.ID, err = s.NextTransactionID(ctx); err != nil {
		return status.Server(err)
	}
	if err := s.WriteTransaction(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			return status.Client(status.ErrorInvalidValue, err)
		}
		return status.Server(err)
	}
	l.Apply(trx.IsSend, trx.Amount)
	if err := s.UpdateLedger(ctx, *l); err != nil {
		return status.Server(err)
	}
	return nil
}

// flipMirror sets the pending flag of the send from senderID to receiverID carrying amount.
// Settling takes the oldest pending send, reopening takes the newest settled one.
// A send missing on this replica is logged and skipped, the receiving ledger stays consistent on its own.
func (e *Engine) flipMirror(ctx context.Context, s Session, senderID, receiverID, amount int64, pending bool) error {
	entries, err := s.ReadTransactions(ctx, senderID)
	if err != nil {
		return status.Server(err)
	}
	var (
		mirror transaction.Entry
		found  bool
	)
	for _, en := range entries {
		if !en.IsSend || en.OtherID != receiverID || en.Amount != amount || en.Pending == pending {
			continue
		}
		mirror, found = en, true
		if !pending {
			break
		}
	}
	if !found {
		e.log.Warn(fmt.Sprintf("no send of [ %d ] from ledger [ %d ] to ledger [ %d ] to set pending [ %v ]",
			amount, senderID, receiverID, pending))
		return nil
	}
	if err := s.UpdatePending(ctx, mirror.ID, pending); err != nil {
		return status.Server(err)
	}
	return nil
}
