package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bartossh/echoledger/ledger"
)

type pgSession struct {
	tx       *sql.Tx
	readOnly bool
	closed   bool
}

func (s *pgSession) readLedger(ctx context.Context, where string, arg any, lock bool) (ledger.Ledger, error) {
	query := `SELECT id, public_key, balance, "timestamp" FROM ledger WHERE ` + where
	if lock && !s.readOnly {
		// NO KEY UPDATE does not block foreign key checks of tx inserts made under the ledger lock.
		query += " FOR NO KEY UPDATE"
	}
	var l ledger.Ledger
	err := s.tx.QueryRowContext(ctx, query, arg).Scan(&l.ID, &l.PublicKey, &l.Balance, &l.Timestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ledger.Ledger{}, ErrNotFound
	case err != nil:
		return ledger.Ledger{}, errors.Join(ErrSelectFailed, err)
	}
	return l, nil
}

// ReadLedgerByKey reads ledger owned by the public key.
func (s *pgSession) ReadLedgerByKey(ctx context.Context, publicKey string) (ledger.Ledger, error) {
	return s.readLedger(ctx, "public_key = $1", publicKey, false)
}

// ReadLedgerForUpdate reads ledger owned by the public key and locks the row until the session ends.
func (s *pgSession) ReadLedgerForUpdate(ctx context.Context, publicKey string) (ledger.Ledger, error) {
	return s.readLedger(ctx, "public_key = $1", publicKey, true)
}

// NextLedgerID returns the next ledger id from ledger_id_seq.
// The id is never handed out again, even when the session rolls back.
func (s *pgSession) NextLedgerID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.tx.QueryRowContext(ctx, "SELECT nextval('ledger_id_seq')").Scan(&id); err != nil {
		return 0, errors.Join(ErrSelectFailed, err)
	}
	return id, nil
}

// WriteLedger inserts new ledger.
func (s *pgSession) WriteLedger(ctx context.Context, l ledger.Ledger) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO ledger(id, public_key, balance, "timestamp") VALUES($1, $2, $3, $4)`,
		l.ID, l.PublicKey, l.Balance, l.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Join(ErrDuplicateKey, err)
		}
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// UpdateLedger updates balance and timestamp of the ledger.
func (s *pgSession) UpdateLedger(ctx context.Context, l ledger.Ledger) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE ledger SET balance = $1, "timestamp" = $2 WHERE id = $3`, l.Balance, l.Timestamp, l.ID)
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	return expectOne(res, fmt.Sprintf("ledger %d", l.ID))
}

// Commit commits the session.
func (s *pgSession) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	if err := s.tx.Commit(); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}
	return nil
}

// Rollback discards the session. It is a no-op for a closed session.
func (s *pgSession) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback(); err != nil {
		return errors.Join(ErrRollbackFailed, err)
	}
	return nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	if n == 0 {
		return errors.Join(ErrNotFound, errors.New(what))
	}
	return nil
}
