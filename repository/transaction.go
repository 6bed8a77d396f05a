package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bartossh/echoledger/transaction"
)

const selectEntry = `SELECT t.id, t.ledger_id, t.other_id, t.is_send, t.amount, t.nonce, t.hash, t.prev_hash, t.pending,
		owner.public_key, other.public_key
	FROM tx t
	JOIN ledger owner ON owner.id = t.ledger_id
	JOIN ledger other ON other.id = t.other_id `

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (transaction.Entry, error) {
	var e transaction.Entry
	err := row.Scan(
		&e.ID, &e.LedgerID, &e.OtherID, &e.IsSend, &e.Amount, &e.Nonce, &e.Hash, &e.PrevHash, &e.Pending,
		&e.Source, &e.Target)
	return e, err
}

func (s *pgSession) readEntries(ctx context.Context, where string, arg any) ([]transaction.Entry, error) {
	rows, err := s.tx.QueryContext(ctx, selectEntry+where+" ORDER BY t.id", arg)
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var entries []transaction.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return entries, nil
}

// ReadTransactions reads all transactions of the ledger ordered by id.
func (s *pgSession) ReadTransactions(ctx context.Context, ledgerID int64) ([]transaction.Entry, error) {
	return s.readEntries(ctx, "WHERE t.ledger_id = $1", ledgerID)
}

// ReadPendingIncoming reads pending sending transactions addressed to the ledger.
func (s *pgSession) ReadPendingIncoming(ctx context.Context, ledgerID int64) ([]transaction.Entry, error) {
	return s.readEntries(ctx, "WHERE t.other_id = $1 AND t.is_send AND t.pending", ledgerID)
}

// ReadTransactionByHash reads transaction with the given hash.
func (s *pgSession) ReadTransactionByHash(ctx context.Context, hash string) (transaction.Entry, error) {
	e, err := scanEntry(s.tx.QueryRowContext(ctx, selectEntry+"WHERE t.hash = $1", hash))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return transaction.Entry{}, ErrNotFound
	case err != nil:
		return transaction.Entry{}, errors.Join(ErrSelectFailed, err)
	}
	return e, nil
}

// NextTransactionID returns the next transaction id from tx_id_seq.
// Concurrent sessions never receive the same id so an insert never waits on an uncommitted one.
func (s *pgSession) NextTransactionID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.tx.QueryRowContext(ctx, "SELECT nextval('tx_id_seq')").Scan(&id); err != nil {
		return 0, errors.Join(ErrSelectFailed, err)
	}
	return id, nil
}

// WriteTransaction inserts the transaction.
func (s *pgSession) WriteTransaction(ctx context.Context, e transaction.Entry) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO tx(id, ledger_id, other_id, is_send, amount, nonce, hash, prev_hash, pending)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.LedgerID, e.OtherID, e.IsSend, e.Amount, e.Nonce, e.Hash, e.PrevHash, e.Pending)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Join(ErrDuplicateHash, err)
		}
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// UpdatePending sets pending flag of the transaction.
func (s *pgSession) UpdatePending(ctx context.Context, id int64, pending bool) error {
	res, err := s.tx.ExecContext(ctx, "UPDATE tx SET pending = $1 WHERE id = $2", pending, id)
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	return expectOne(res, fmt.Sprintf("transaction %d", id))
}

// RemoveTransaction removes the transaction.
func (s *pgSession) RemoveTransaction(ctx context.Context, id int64) error {
	res, err := s.tx.ExecContext(ctx, "DELETE FROM tx WHERE id = $1", id)
	if err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	return expectOne(res, fmt.Sprintf("transaction %d", id))
}
