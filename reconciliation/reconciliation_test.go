package reconciliation

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/logging"
	"github.com/bartossh/echoledger/memstore"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/status"
	"github.com/bartossh/echoledger/transaction"
	"github.com/bartossh/echoledger/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *memstore.Store
	engine *Engine
	alice  wallet.Wallet
	bob    wallet.Wallet
}

func newFixture(t *testing.T) fixture {
	alice, err := wallet.New()
	require.NoError(t, err)
	bob, err := wallet.New()
	require.NoError(t, err)

	f := fixture{
		store:  memstore.New(),
		engine: New(&sync.Mutex{}, wallet.NewVerifier(), logging.New("test", func(error) {}, io.Discard)),
		alice:  alice,
		bob:    bob,
	}

	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	require.NoError(t, s.WriteLedger(ctx, ledger.Ledger{ID: 1, PublicKey: alice.Address(), Balance: 100, Timestamp: 1}))
	require.NoError(t, s.WriteLedger(ctx, ledger.Ledger{ID: 2, PublicKey: bob.Address(), Balance: 0}))
	require.NoError(t, s.Commit())
	return f
}

// sends builds chain of signed alice to bob sending transactions.
func (f fixture) sends(amounts ...int64) []transaction.Transaction {
	trxs := make([]transaction.Transaction, 0, len(amounts))
	prev := ""
	for i, amount := range amounts {
		trx := transaction.Transaction{
			Source:            f.alice.Address(),
			Target:            f.bob.Address(),
			IsSend:            true,
			Amount:            amount,
			Nonce:             fmt.Sprintf("nonce-%d", i),
			PreviousSignature: prev,
		}
		trx.Sign(&f.alice)
		prev = trx.Signature
		trxs = append(trxs, trx)
	}
	return trxs
}

// persist stores transactions as the local alice ledger and applies their balance effect.
func (f fixture) persist(t *testing.T, trxs []transaction.Transaction) {
	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	l, err := s.ReadLedgerByKey(ctx, f.alice.Address())
	require.NoError(t, err)
	for i, trx := range trxs {
		e := transaction.NewEntry(1, 2, trx)
		e.ID = int64(i + 1)
		require.NoError(t, s.WriteTransaction(ctx, e))
		l.Apply(trx.IsSend, trx.Amount)
	}
	require.NoError(t, s.UpdateLedger(ctx, l))
	require.NoError(t, s.Commit())
}

func (f fixture) reconcile(t *testing.T, snap ledger.Snapshot) (Outcome, ledger.Ledger, []transaction.Entry, error) {
	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()

	l, err := s.ReadLedgerByKey(ctx, f.alice.Address())
	require.NoError(t, err)
	out, rerr := f.engine.Reconcile(ctx, s, &l, snap)
	if rerr == nil {
		require.NoError(t, s.Commit())
	} else {
		require.NoError(t, s.Rollback())
	}

	r, err := f.store.Begin(ctx, true)
	require.NoError(t, err)
	defer r.Rollback()
	persisted, err := r.ReadLedgerByKey(ctx, f.alice.Address())
	require.NoError(t, err)
	entries, err := r.ReadTransactions(ctx, 1)
	require.NoError(t, err)
	return out, persisted, entries, rerr
}

func TestBehind(t *testing.T) {
	f := newFixture(t)
	trxs := ledger.Verifiable(f.sends(1, 2, 3, 4))

	assert.Equal(t, 4, Behind(ledger.Verifiable(nil).Digest(), trxs))
	assert.Equal(t, 2, Behind(trxs.Prefix(2).Digest(), trxs))
	assert.Equal(t, 1, Behind(trxs.Prefix(3).Digest(), trxs))
	assert.Equal(t, -1, Behind(trxs.Digest(), trxs))
	assert.Equal(t, -1, Behind("unknown", trxs))
}

func TestReconcileStaleRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	local := f.sends(10)
	f.persist(t, local)

	for _, ts := range []int64{0, 1} {
		_, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: f.sends(10, 20), Timestamp: ts})
		assert.ErrorIs(t, err, ErrStaleLedger)
		se := status.From(err)
		assert.Equal(t, status.ClassClient, se.Class)
		assert.Equal(t, status.ErrorInvalidLedger, se.Status)
		assert.Equal(t, int64(90), l.Balance)
		assert.Len(t, entries, 1)
	}
}

func TestReconcileSynchronized(t *testing.T) {
	f := newFixture(t)
	local := f.sends(10, 20)
	f.persist(t, local)

	out, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: local, Timestamp: 2})
	assert.NoError(t, err)
	assert.Equal(t, Synchronized, out.Kind)
	assert.Equal(t, int64(70), l.Balance)
	assert.Len(t, entries, 2)
}

func TestReconcileAheadByOne(t *testing.T) {
	f := newFixture(t)
	local := f.sends(10, 20)
	f.persist(t, local)

	out, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: local[:1], Timestamp: 2})
	assert.NoError(t, err)
	assert.Equal(t, Trimmed, out.Kind)
	assert.Equal(t, local[1], out.Removed)
	assert.Equal(t, int64(90), l.Balance)
	require.Len(t, entries, 1)
	assert.Equal(t, local[0].Signature, entries[0].Hash)
}

func TestReconcileBehindByTwo(t *testing.T) {
	f := newFixture(t)
	all := f.sends(10, 20, 30)
	f.persist(t, all[:1])

	out, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
	assert.NoError(t, err)
	assert.Equal(t, Replayed, out.Kind)
	assert.Equal(t, all[1:], out.Appended)
	assert.Equal(t, int64(40), l.Balance)
	require.Len(t, entries, 3)
	assert.NoError(t, ledger.VerifyChain(entries))
	assert.Equal(t, ledger.Verifiable(all).Digest(), ledger.Verifiable(transaction.SerializeAll(entries)).Digest())
	for _, e := range entries[1:] {
		assert.True(t, e.Pending)
		assert.Equal(t, int64(2), e.OtherID)
	}
}

func TestReconcileEmptyLocalReplaysAll(t *testing.T) {
	f := newFixture(t)
	all := f.sends(5, 5)

	out, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
	assert.NoError(t, err)
	assert.Equal(t, Replayed, out.Kind)
	assert.Equal(t, int64(90), l.Balance)
	assert.Len(t, entries, 2)
}

func TestReconcileDivergence(t *testing.T) {
	f := newFixture(t)
	f.persist(t, f.sends(10, 20, 30))

	_, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: f.sends(10), Timestamp: 2})
	assert.ErrorIs(t, err, ErrDivergence)
	assert.Equal(t, status.ClassServer, status.From(err).Class)
	assert.Equal(t, int64(40), l.Balance)
	assert.Len(t, entries, 3)
}

func TestReconcileReplayFailuresRollback(t *testing.T) {
	t.Run("broken chain", func(t *testing.T) {
		f := newFixture(t)
		all := f.sends(10, 20)
		all[1].PreviousSignature = "elsewhere"
		all[1].Sign(&f.alice)
		_, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
		assert.ErrorIs(t, err, ErrBrokenChain)
		assert.Equal(t, status.ErrorInvalidLedger, status.From(err).Status)
		assert.Equal(t, int64(100), l.Balance)
		assert.Empty(t, entries)
	})

	t.Run("foreign source", func(t *testing.T) {
		f := newFixture(t)
		all := f.sends(10)
		all[0].Source = f.bob.Address()
		all[0].Target = f.alice.Address()
		all[0].Sign(&f.bob)
		_, _, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
		assert.ErrorIs(t, err, ErrForeignTransaction)
		assert.Empty(t, entries)
	})

	t.Run("forged signature", func(t *testing.T) {
		f := newFixture(t)
		all := f.sends(10)
		all[0].Sign(&f.bob)
		_, _, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
		se := status.From(err)
		assert.Equal(t, status.ClassProtocol, se.Class)
		assert.Equal(t, status.ErrorNoSignatureMatch, se.Status)
		assert.Empty(t, entries)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		stranger, err := wallet.New()
		require.NoError(t, err)
		trx := transaction.Transaction{
			Source: f.alice.Address(), Target: stranger.Address(), IsSend: true, Amount: 1, Nonce: "n",
		}
		trx.Sign(&f.alice)
		_, l, entries, rerr := f.reconcile(t, ledger.Snapshot{Transactions: []transaction.Transaction{trx}, Timestamp: 2})
		assert.ErrorIs(t, rerr, ErrUnknownTarget)
		assert.Equal(t, status.ErrorMissingLedger, status.From(rerr).Status)
		assert.Equal(t, int64(100), l.Balance)
		assert.Empty(t, entries)
	})

	t.Run("second replay fails after first applied", func(t *testing.T) {
		f := newFixture(t)
		all := f.sends(10, 20)
		all[1].Nonce = ""
		all[1].Sign(&f.alice)
		_, l, entries, err := f.reconcile(t, ledger.Snapshot{Transactions: all, Timestamp: 2})
		assert.ErrorIs(t, err, transaction.ErrMissingNonce)
		assert.Equal(t, int64(100), l.Balance)
		assert.Empty(t, entries)
	})
}

func TestReconcileReadFailureIsServerFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	l, err := s.ReadLedgerByKey(ctx, f.alice.Address())
	require.NoError(t, err)
	require.NoError(t, s.Commit())

	_, err = f.engine.Reconcile(ctx, s, &l, ledger.Snapshot{Timestamp: 2})
	assert.ErrorIs(t, err, repository.ErrSessionClosed)
	assert.Equal(t, status.ClassServer, status.From(err).Class)
}

// receipt builds bob receiving transaction of amount sent by alice.
func (f fixture) receipt(amount int64, prev string) transaction.Transaction {
	trx := transaction.Transaction{
		Source:            f.bob.Address(),
		Target:            f.alice.Address(),
		Amount:            amount,
		Nonce:             fmt.Sprintf("receipt-%d", amount),
		PreviousSignature: prev,
	}
	trx.Sign(&f.bob)
	return trx
}

func (f fixture) reconcileBob(t *testing.T, snap ledger.Snapshot) (Outcome, ledger.Ledger) {
	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()

	l, err := s.ReadLedgerByKey(ctx, f.bob.Address())
	require.NoError(t, err)
	out, err := f.engine.Reconcile(ctx, s, &l, snap)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	return out, l
}

func (f fixture) pendingIncomingOfBob(t *testing.T) []transaction.Entry {
	ctx := context.Background()
	r, err := f.store.Begin(ctx, true)
	require.NoError(t, err)
	defer r.Rollback()
	incoming, err := r.ReadPendingIncoming(ctx, 2)
	require.NoError(t, err)
	return incoming
}

func TestReconcileTrimReopensSettledSend(t *testing.T) {
	f := newFixture(t)
	f.persist(t, f.sends(10))

	ctx := context.Background()
	s, err := f.store.Begin(ctx, false)
	require.NoError(t, err)
	recv := transaction.NewEntry(2, 1, f.receipt(10, ""))
	recv.ID = 2
	require.NoError(t, s.WriteTransaction(ctx, recv))
	require.NoError(t, s.UpdatePending(ctx, 1, false))
	require.NoError(t, s.UpdateLedger(ctx, ledger.Ledger{ID: 2, Balance: 10}))
	require.NoError(t, s.Commit())
	require.Empty(t, f.pendingIncomingOfBob(t))

	out, l := f.reconcileBob(t, ledger.Snapshot{Timestamp: 1})
	assert.Equal(t, Trimmed, out.Kind)
	assert.Equal(t, int64(0), l.Balance)

	incoming := f.pendingIncomingOfBob(t)
	require.Len(t, incoming, 1)
	assert.Equal(t, int64(1), incoming[0].ID)
}

func TestReconcileReplayedReceiveSettlesSend(t *testing.T) {
	f := newFixture(t)
	f.persist(t, f.sends(10, 10))
	require.Len(t, f.pendingIncomingOfBob(t), 2)

	out, l := f.reconcileBob(t, ledger.Snapshot{Transactions: []transaction.Transaction{f.receipt(10, "")}, Timestamp: 1})
	assert.Equal(t, Replayed, out.Kind)
	assert.Equal(t, int64(10), l.Balance)

	incoming := f.pendingIncomingOfBob(t)
	require.Len(t, incoming, 1)
	assert.Equal(t, int64(2), incoming[0].ID)
}

func TestReconcileReplayedReceiveWithoutLocalSend(t *testing.T) {
	f := newFixture(t)

	out, l := f.reconcileBob(t, ledger.Snapshot{Transactions: []transaction.Transaction{f.receipt(10, "")}, Timestamp: 1})
	assert.Equal(t, Replayed, out.Kind)
	assert.Equal(t, int64(10), l.Balance)
	assert.Empty(t, f.pendingIncomingOfBob(t))
}
