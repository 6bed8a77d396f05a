//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/transaction"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *DataBase {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	godotenv.Load("../.env")
	user := os.Getenv("POSTGRES_DB_USER")
	passwd := os.Getenv("POSTGRES_DB_PASSWORD")
	dbName := os.Getenv("POSTGRES_DB_NAME")

	db, err := Connect(ctx, DBConfig{
		ConnStr:      fmt.Sprintf("postgres://%s:%s@localhost:5432", user, passwd),
		DatabaseName: dbName,
	})
	require.NoError(t, err)
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.RunMigration(ctx))
	t.Cleanup(func() { db.Disconnect(context.Background()) })
	return db
}

func uniqueKey(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestConnection(t *testing.T) {
	connect(t)
}

func TestLedgerAndTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	db := connect(t)

	s, err := db.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()

	alice := ledger.New(uniqueKey("alice"), 100)
	alice.ID, err = s.NextLedgerID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteLedger(ctx, alice))

	bob := ledger.New(uniqueKey("bob"), 0)
	bob.ID, err = s.NextLedgerID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteLedger(ctx, bob))

	err = s.WriteLedger(ctx, ledger.Ledger{ID: bob.ID + 1, PublicKey: bob.PublicKey})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, s.Rollback())

	s, err = db.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()
	require.NoError(t, s.WriteLedger(ctx, alice))
	require.NoError(t, s.WriteLedger(ctx, bob))

	send := transaction.Entry{
		LedgerID: alice.ID, OtherID: bob.ID, IsSend: true, Amount: 10,
		Nonce: "n1", Hash: uniqueKey("hash"), Pending: true,
	}
	send.ID, err = s.NextTransactionID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteTransaction(ctx, send))

	dup := send
	dup.ID++
	require.NoError(t, s.Commit())

	s, err = db.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()

	err = s.WriteTransaction(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateHash)
	require.NoError(t, s.Rollback())

	s, err = db.Begin(ctx, false)
	require.NoError(t, err)
	defer s.Rollback()

	incoming, err := s.ReadPendingIncoming(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, alice.PublicKey, incoming[0].Source)
	assert.Equal(t, bob.PublicKey, incoming[0].Target)

	recv := transaction.Entry{
		LedgerID: bob.ID, OtherID: alice.ID, IsSend: false, Amount: 10,
		Nonce: "n2", Hash: uniqueKey("hash"),
	}
	recv.ID, err = s.NextTransactionID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteTransaction(ctx, recv))
	require.NoError(t, s.UpdatePending(ctx, send.ID, false))

	next := transaction.Entry{
		LedgerID: alice.ID, OtherID: bob.ID, IsSend: true, Amount: 5, Nonce: "n3",
		Hash: uniqueKey("hash"), PrevHash: sql.NullString{String: send.Hash, Valid: true}, Pending: true,
	}
	next.ID, err = s.NextTransactionID(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteTransaction(ctx, next))

	alice.Balance, alice.Timestamp = 85, 2
	require.NoError(t, s.UpdateLedger(ctx, alice))
	require.NoError(t, s.Commit())

	s, err = db.Begin(ctx, true)
	require.NoError(t, err)
	defer s.Rollback()

	read, err := s.ReadLedgerByKey(ctx, alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, alice, read)

	entries, err := s.ReadTransactions(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NoError(t, ledger.VerifyChain(entries))
	assert.False(t, entries[0].Pending)

	byHash, err := s.ReadTransactionByHash(ctx, recv.Hash)
	require.NoError(t, err)
	assert.Equal(t, bob.PublicKey, byHash.Source)

	_, err = s.ReadLedgerByKey(ctx, uniqueKey("nobody"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadTransactionByHash(ctx, uniqueKey("nothing"))
	assert.ErrorIs(t, err, ErrNotFound)
}
