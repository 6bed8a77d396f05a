package repository

import (
	"context"
	"errors"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ledger (
		id          BIGINT PRIMARY KEY,
		public_key  TEXT   NOT NULL UNIQUE,
		balance     BIGINT NOT NULL,
		"timestamp" BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS tx (
		id        BIGINT  PRIMARY KEY,
		ledger_id BIGINT  NOT NULL REFERENCES ledger(id),
		other_id  BIGINT  NOT NULL REFERENCES ledger(id),
		is_send   BOOLEAN NOT NULL,
		amount    BIGINT  NOT NULL,
		nonce     TEXT    NOT NULL,
		hash      TEXT    NOT NULL UNIQUE,
		prev_hash TEXT    NULL REFERENCES tx(hash),
		pending   BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS tx_ledger_id_idx ON tx(ledger_id, id)`,
	`CREATE INDEX IF NOT EXISTS tx_pending_other_idx ON tx(other_id) WHERE pending`,
	`CREATE SEQUENCE IF NOT EXISTS ledger_id_seq AS BIGINT OWNED BY ledger.id`,
	`CREATE SEQUENCE IF NOT EXISTS tx_id_seq AS BIGINT OWNED BY tx.id`,
	alignSequence("ledger_id_seq", "ledger"),
	alignSequence("tx_id_seq", "tx"),
}

// alignSequence moves the sequence past ids inserted before it existed. It never moves it back.
func alignSequence(seq, table string) string {
	return `SELECT setval('` + seq + `', m.id)
		FROM (SELECT MAX(id) AS id FROM ` + table + `) AS m, ` + seq + ` AS s
		WHERE m.id > CASE WHEN s.is_called THEN s.last_value ELSE 0 END`
}

// RunMigration creates the ledger and tx tables and their id sequences when they do not exist.
func (db DataBase) RunMigration(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := db.inner.ExecContext(ctx, m); err != nil {
			return errors.Join(ErrMigrateFailed, err)
		}
	}
	return nil
}
