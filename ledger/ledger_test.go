package ledger

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bartossh/echoledger/transaction"
)

func chain(n int) []transaction.Entry {
	entries := make([]transaction.Entry, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		hash := string(rune('a' + i))
		e := transaction.Entry{ID: int64(i + 1), LedgerID: 1, OtherID: 2, IsSend: i%2 == 0, Amount: int64(i + 1), Hash: hash}
		if prev != "" {
			e.PrevHash = sql.NullString{String: prev, Valid: true}
		}
		prev = hash
		entries = append(entries, e)
	}
	return entries
}

func TestApplyRevert(t *testing.T) {
	l := New("key", 100)
	l.Apply(true, 30)
	assert.Equal(t, int64(70), l.Balance)
	l.Apply(false, 10)
	assert.Equal(t, int64(80), l.Balance)
	l.Revert(false, 10)
	assert.Equal(t, int64(70), l.Balance)
	l.Revert(true, 30)
	assert.Equal(t, int64(100), l.Balance)
}

func TestIsStale(t *testing.T) {
	l := Ledger{Timestamp: 5}
	assert.True(t, l.IsStale(4))
	assert.True(t, l.IsStale(5))
	assert.False(t, l.IsStale(6))
}

func TestVerifyChain(t *testing.T) {
	assert.Nil(t, VerifyChain(nil))
	assert.Nil(t, VerifyChain(chain(4)))

	broken := chain(3)
	broken[2].PrevHash = sql.NullString{String: "zz", Valid: true}
	assert.ErrorIs(t, VerifyChain(broken), ErrBrokenChain)

	first := chain(1)
	first[0].PrevHash = sql.NullString{String: "zz", Valid: true}
	assert.ErrorIs(t, VerifyChain(first), ErrBrokenChain)
}

func TestReplayBalance(t *testing.T) {
	l := Ledger{ID: 1}
	// sends: 1, 3 ; receives: 2, 4
	balance, err := ReplayBalance(l, 100, chain(4))
	assert.Nil(t, err)
	assert.Equal(t, int64(100-1+2-3+4), balance)

	_, err = ReplayBalance(Ledger{ID: 9}, 100, chain(1))
	assert.ErrorIs(t, err, ErrForeignEntry)
}

func TestVerifiableDigest(t *testing.T) {
	trxs := transaction.SerializeAll(chain(3))
	v := Verifiable(trxs)

	assert.Equal(t, v.Digest(), Verifiable(transaction.SerializeAll(chain(3))).Digest())
	assert.NotEqual(t, v.Digest(), v.Prefix(2).Digest())
	assert.Equal(t, Verifiable(nil).Digest(), v.Prefix(0).Digest())

	reordered := Verifiable{trxs[1], trxs[0], trxs[2]}
	assert.NotEqual(t, v.Digest(), reordered.Digest())
}

func TestVerifiablePrefixBounds(t *testing.T) {
	v := Verifiable(transaction.SerializeAll(chain(2)))
	assert.Len(t, v.Prefix(-1), 0)
	assert.Len(t, v.Prefix(5), 2)

	last, ok := v.Last()
	assert.True(t, ok)
	assert.Equal(t, "b", last.Signature)

	_, ok = Verifiable(nil).Last()
	assert.False(t, ok)
}

func TestSnapshotOwner(t *testing.T) {
	assert.Equal(t, "", Snapshot{}.Owner())
	s := Snapshot{Transactions: []transaction.Transaction{{Source: "owner"}}}
	assert.Equal(t, "owner", s.Owner())
}
