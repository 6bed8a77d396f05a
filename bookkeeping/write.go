package bookkeeping

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/reconciliation"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
)

// RegisterRequest opens a new ledger.
type RegisterRequest struct {
	InitialTransaction transaction.Initial `json:"initialTransaction"`
}

// SendRequest debits the source ledger.
type SendRequest struct {
	Transaction transaction.Transaction `json:"transaction"`
	Ledger      ledger.Snapshot         `json:"ledger"`
}

// Signable returns canonical text of the request certified by the replica quorum.
func (r SendRequest) Signable() string {
	return r.Transaction.Hashable() + "|" + r.Ledger.Signable()
}

// ReceiveRequest credits the source ledger with the pending transaction sent to it.
type ReceiveRequest struct {
	Transaction            transaction.Transaction `json:"transaction"`
	Ledger                 ledger.Snapshot         `json:"ledger"`
	PendingTransactionHash string                  `json:"pendingTransactionHash"`
}

// Signable returns canonical text of the request certified by the replica quorum.
func (r ReceiveRequest) Signable() string {
	return r.Transaction.Hashable() + "|" + r.Ledger.Signable() + "|" + r.PendingTransactionHash
}

// WriteBackRequest pushes quorum agreed ledger to the replica.
type WriteBackRequest struct {
	Nonce  string          `json:"nonce"`
	Ledger ledger.Snapshot `json:"ledger"`
}

// Signable returns canonical text of the request certified by the replica quorum.
func (r WriteBackRequest) Signable() string {
	return r.Nonce + "|" + r.Ledger.Signable()
}

// Register creates the ledger of the initial transaction source with the initial balance.
func (b *Bookkeeper) Register(ctx context.Context, req RegisterRequest) (ledger.Ledger, error) {
	initial := req.InitialTransaction
	if err := b.decodeKey(initial.Source); err != nil {
		return ledger.Ledger{}, err
	}
	if initial.Amount < 0 {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidAmount, transaction.ErrNegativeAmount)
	}
	if initial.Nonce == "" || initial.Signature == "" {
		return ledger.Ledger{}, status.Client(status.ErrorMissingParameter, errors.New("initial transaction nonce or signature is missing"))
	}
	if err := initial.VerifySignature(b.verifier); err != nil {
		return ledger.Ledger{}, status.Protocol(status.ErrorNoSignatureMatch, err)
	}

	s, err := b.begin(ctx, false)
	if err != nil {
		return ledger.Ledger{}, err
	}
	defer b.rollback(s)

	_, err = s.ReadLedgerByKey(ctx, initial.Source)
	switch {
	case err == nil:
		return ledger.Ledger{}, status.Client(status.ErrorInvalidLedger, ErrLedgerExists)
	case !errors.Is(err, repository.ErrNotFound):
		return ledger.Ledger{}, status.Server(err)
	}

	l := ledger.New(initial.Source, initial.Amount)

	b.lock.Lock()
	defer b.lock.Unlock()

	if l.ID, err = s.NextLedgerID(ctx); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}
	if err := s.WriteLedger(ctx, l); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return ledger.Ledger{}, status.Client(status.ErrorInvalidLedger, errors.Join(ErrLedgerExists, err))
		}
		return ledger.Ledger{}, status.Server(err)
	}
	if err := s.Commit(); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}

	b.log.Info(fmt.Sprintf("registered ledger [ %d ] for [ %s ] with balance [ %d ]", l.ID, l.PublicKey, l.Balance))
	b.notify(ledger.Committed{
		Operation: ledger.OperationRegister,
		PublicKey: l.PublicKey,
		Balance:   l.Balance,
		Timestamp: l.Timestamp,
	})
	return l, nil
}

// SendAmount reconciles the source ledger, debits it and persists the pending sending transaction.
func (b *Bookkeeper) SendAmount(ctx context.Context, req SendRequest) (ledger.Ledger, error) {
	if !req.Transaction.IsSend {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, ErrWrongDirection)
	}
	return b.transfer(ctx, ledger.OperationSend, req.Transaction, req.Ledger, "")
}

// ReceiveAmount reconciles the source ledger, credits it with the pending transaction and persists
// the receiving transaction.
func (b *Bookkeeper) ReceiveAmount(ctx context.Context, req ReceiveRequest) (ledger.Ledger, error) {
	if req.Transaction.IsSend {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, ErrWrongDirection)
	}
	if req.PendingTransactionHash == "" {
		return ledger.Ledger{}, status.Client(status.ErrorMissingParameter, ErrMissingPending)
	}
	return b.transfer(ctx, ledger.OperationReceive, req.Transaction, req.Ledger, req.PendingTransactionHash)
}

func (b *Bookkeeper) transfer(
	ctx context.Context, op ledger.Operation, trx transaction.Transaction, snap ledger.Snapshot, pendingHash string,
) (ledger.Ledger, error) {
	if err := validateTransaction(trx); err != nil {
		return ledger.Ledger{}, err
	}
	if err := b.decodeKey(trx.Source); err != nil {
		return ledger.Ledger{}, err
	}
	if err := b.decodeKey(trx.Target); err != nil {
		return ledger.Ledger{}, err
	}
	if trx.Source == trx.Target {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, ErrSelfTransfer)
	}
	if owner := snap.Owner(); owner != "" && owner != trx.Source {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidLedger, ErrSnapshotOwner)
	}
	if err := trx.VerifySignature(b.verifier); err != nil {
		return ledger.Ledger{}, status.Protocol(status.ErrorNoSignatureMatch, err)
	}

	s, err := b.begin(ctx, false)
	if err != nil {
		return ledger.Ledger{}, err
	}
	defer b.rollback(s)

	source, err := readLedger(ctx, s, trx.Source, true)
	if err != nil {
		return ledger.Ledger{}, err
	}
	outcome, err := b.reconciler.Reconcile(ctx, s, &source, snap)
	if err != nil {
		return ledger.Ledger{}, err
	}
	target, err := readLedger(ctx, s, trx.Target, false)
	if err != nil {
		return ledger.Ledger{}, err
	}

	if trx.Amount <= 0 {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidAmount, ErrAmountNotPositive)
	}
	if trx.IsSend && trx.Amount > source.Balance {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidAmount,
			errors.Join(ErrInsufficientFunds, fmt.Errorf("balance %d, amount %d", source.Balance, trx.Amount)))
	}

	last, err := lastHash(ctx, s, source.ID)
	if err != nil {
		return ledger.Ledger{}, err
	}
	if trx.PreviousSignature != last {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, ErrChainMismatch)
	}

	_, err = s.ReadTransactionByHash(ctx, trx.Signature)
	switch {
	case err == nil:
		return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, ErrTransactionExists)
	case !errors.Is(err, repository.ErrNotFound):
		return ledger.Ledger{}, status.Server(err)
	}

	if !trx.IsSend {
		if err := b.settlePending(ctx, s, source, target, trx, pendingHash); err != nil {
			return ledger.Ledger{}, err
		}
	}

	source.Apply(trx.IsSend, trx.Amount)
	source.Timestamp = snap.Timestamp
	entry := transaction.NewEntry(source.ID, target.ID, trx)

	b.lock.Lock()
	defer b.lock.Unlock()

	if entry.ID, err = s.NextTransactionID(ctx); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}
	if err := s.WriteTransaction(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateHash) {
			return ledger.Ledger{}, status.Client(status.ErrorInvalidValue, errors.Join(ErrTransactionExists, err))
		}
		return ledger.Ledger{}, status.Server(err)
	}
	if err := s.UpdateLedger(ctx, source); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}
	if err := s.Commit(); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}

	b.log.Info(fmt.Sprintf("%s [ %s ] of [ %d ] committed for [ %s ]", op, entry.Type(), trx.Amount, source.PublicKey))
	b.notify(committed(op, source, trx.Signature, outcome))
	return source, nil
}

// settlePending checks the pending sending transaction is the mirror of trx and flips its pending flag.
func (b *Bookkeeper) settlePending(
	ctx context.Context, s repository.Session, source, target ledger.Ledger, trx transaction.Transaction, pendingHash string,
) error {
	pending, err := s.ReadTransactionByHash(ctx, pendingHash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Client(status.ErrorMissingTransaction, errors.Join(ErrPendingMissing, fmt.Errorf("hash %s", pendingHash)))
	case err != nil:
		return status.Server(err)
	}
	if !pending.IsSend || !pending.Pending {
		return status.Client(status.ErrorInvalidValue, ErrPendingNotPending)
	}
	if pending.LedgerID != target.ID || pending.OtherID != source.ID {
		return status.Client(status.ErrorInvalidValue, ErrPendingNotMirrored)
	}
	if pending.Amount != trx.Amount {
		return status.Client(status.ErrorInvalidAmount,
			errors.Join(ErrPendingAmount, fmt.Errorf("pending %d, received %d", pending.Amount, trx.Amount)))
	}
	if err := s.UpdatePending(ctx, pending.ID, false); err != nil {
		return status.Server(err)
	}
	return nil
}

// LedgerWriteback reconciles the owner ledger of the snapshot and adopts the snapshot timestamp.
func (b *Bookkeeper) LedgerWriteback(ctx context.Context, req WriteBackRequest) (ledger.Ledger, error) {
	owner := req.Ledger.Owner()
	if owner == "" {
		return ledger.Ledger{}, status.Client(status.ErrorInvalidLedger, ErrEmptySnapshot)
	}
	if err := b.decodeKey(owner); err != nil {
		return ledger.Ledger{}, err
	}

	s, err := b.begin(ctx, false)
	if err != nil {
		return ledger.Ledger{}, err
	}
	defer b.rollback(s)

	l, err := readLedger(ctx, s, owner, true)
	if err != nil {
		return ledger.Ledger{}, err
	}
	outcome, err := b.reconciler.Reconcile(ctx, s, &l, req.Ledger)
	if err != nil {
		return ledger.Ledger{}, err
	}

	l.Timestamp = req.Ledger.Timestamp
	if err := s.UpdateLedger(ctx, l); err != nil {
		return ledger.Ledger{}, status.Server(err)
	}
	if err := b.commit(s); err != nil {
		return ledger.Ledger{}, err
	}

	b.log.Info(fmt.Sprintf("ledger [ %s ] written back, %s", l.PublicKey, outcome.Kind))
	b.notify(committed(ledger.OperationWriteback, l, "", outcome))
	return l, nil
}

func committed(op ledger.Operation, l ledger.Ledger, trxHash string, outcome reconciliation.Outcome) ledger.Committed {
	return ledger.Committed{
		Operation:      op,
		PublicKey:      l.PublicKey,
		Balance:        l.Balance,
		Timestamp:      l.Timestamp,
		Transaction:    trxHash,
		Reconciliation: outcome.Kind.String(),
		Replayed:       len(outcome.Appended),
	}
}
