// Package repository is the PostgreSQL persistence gateway of the replica.
// Every read and write happens inside an explicit Session that is committed or rolled back as a whole.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

var (
	ErrNotFound       = errors.New("entity not found")
	ErrDuplicateKey   = errors.New("ledger with the public key already exists")
	ErrDuplicateHash  = errors.New("transaction with the hash already exists")
	ErrInsertFailed   = errors.New("insert failed")
	ErrUpdateFailed   = errors.New("update failed")
	ErrRemoveFailed   = errors.New("remove failed")
	ErrSelectFailed   = errors.New("select failed")
	ErrScanFailed     = errors.New("scan failed")
	ErrCommitFailed   = errors.New("transaction commit failed")
	ErrRollbackFailed = errors.New("transaction rollback failed")
	ErrTrxBeginFailed = errors.New("transaction begin failed")
	ErrMigrateFailed  = errors.New("migration failed")
	ErrSessionClosed  = errors.New("session is already closed")
)

// DBConfig contains configuration for the database.
type DBConfig struct {
	ConnStr      string `yaml:"conn_str"`      // ConnStr is the connection string to the database.
	DatabaseName string `yaml:"database_name"` // DatabaseName is the name of the database.
	IsSSL        bool   `yaml:"is_ssl"`        // IsSSL is the flag that indicates if the connection should be encrypted.
}

// DataBase provides database access for read, write and delete of repository entities.
type DataBase struct {
	inner *sql.DB
}

// Connect creates new connection to the repository and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg DBConfig) (*DataBase, error) {
	sslMode := "sslmode=disable"
	if cfg.IsSSL {
		sslMode = "sslmode=require"
	}
	db, err := sql.Open("postgres", fmt.Sprintf("%s/%s?%s", cfg.ConnStr, cfg.DatabaseName, sslMode))
	if err != nil {
		return nil, err
	}

	return &DataBase{inner: db}, nil
}

// Disconnect disconnects user from database
func (db DataBase) Disconnect(ctx context.Context) error {
	return db.inner.Close()
}

// Ping checks if the connection to the database is still alive.
func (db DataBase) Ping(ctx context.Context) error {
	return db.inner.PingContext(ctx)
}

// Begin starts new Session. Read only sessions are used by the queries that never mutate state.
func (db DataBase) Begin(ctx context.Context, readOnly bool) (Session, error) {
	opts := &sql.TxOptions{ReadOnly: readOnly}
	if !readOnly {
		opts.Isolation = sql.LevelReadCommitted
	}
	tx, err := db.inner.BeginTx(ctx, opts)
	if err != nil {
		return nil, errors.Join(ErrTrxBeginFailed, err)
	}
	return &pgSession{tx: tx, readOnly: readOnly}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
