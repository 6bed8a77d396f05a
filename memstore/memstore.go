// Package memstore is the in memory persistence gateway with the same session semantics as the
// PostgreSQL repository. Sessions are serialized: a write session owns the store until it is closed
// and a rollback restores the state from before Begin.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/repository"
	"github.com/bartossh/echoledger/transaction"
)

var ErrReadOnly = errors.New("write in read only session")

type state struct {
	ledgers map[int64]ledger.Ledger
	keys    map[string]int64
	txs     map[int64]transaction.Entry
	hashes  map[string]int64
}

func newState() state {
	return state{
		ledgers: make(map[int64]ledger.Ledger),
		keys:    make(map[string]int64),
		txs:     make(map[int64]transaction.Entry),
		hashes:  make(map[string]int64),
	}
}

func (s state) clone() state {
	c := state{
		ledgers: make(map[int64]ledger.Ledger, len(s.ledgers)),
		keys:    make(map[string]int64, len(s.keys)),
		txs:     make(map[int64]transaction.Entry, len(s.txs)),
		hashes:  make(map[string]int64, len(s.hashes)),
	}
	for k, v := range s.ledgers {
		c.ledgers[k] = v
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.hashes {
		c.hashes[k] = v
	}
	return c
}

// Store is the in memory database.
type Store struct {
	mux  sync.RWMutex
	data state
}

// New creates empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// RunMigration is a no-op, the in memory store has no schema.
func (st *Store) RunMigration(_ context.Context) error {
	return nil
}

// Ping always succeeds.
func (st *Store) Ping(_ context.Context) error {
	return nil
}

// Begin starts new Session blocking until all conflicting sessions are closed.
func (st *Store) Begin(ctx context.Context, readOnly bool) (repository.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(repository.ErrTrxBeginFailed, err)
	}
	if readOnly {
		st.mux.RLock()
		return &session{store: st, readOnly: true}, nil
	}
	st.mux.Lock()
	return &session{store: st, backup: st.data.clone()}, nil
}

type session struct {
	store    *Store
	readOnly bool
	closed   bool
	backup   state
}

func (s *session) data() state {
	return s.store.data
}

func (s *session) writable() error {
	if s.closed {
		return repository.ErrSessionClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *session) readable() error {
	if s.closed {
		return repository.ErrSessionClosed
	}
	return nil
}

func (s *session) release() {
	s.closed = true
	if s.readOnly {
		s.store.mux.RUnlock()
		return
	}
	s.backup = state{}
	s.store.mux.Unlock()
}

func (s *session) ReadLedgerByKey(_ context.Context, publicKey string) (ledger.Ledger, error) {
	if err := s.readable(); err != nil {
		return ledger.Ledger{}, err
	}
	id, ok := s.data().keys[publicKey]
	if !ok {
		return ledger.Ledger{}, repository.ErrNotFound
	}
	return s.data().ledgers[id], nil
}

// ReadLedgerForUpdate is ReadLedgerByKey, write sessions already own the whole store.
func (s *session) ReadLedgerForUpdate(ctx context.Context, publicKey string) (ledger.Ledger, error) {
	return s.ReadLedgerByKey(ctx, publicKey)
}

func (s *session) NextLedgerID(_ context.Context) (int64, error) {
	if err := s.readable(); err != nil {
		return 0, err
	}
	var max int64
	for id := range s.data().ledgers {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

func (s *session) WriteLedger(_ context.Context, l ledger.Ledger) error {
	if err := s.writable(); err != nil {
		return err
	}
	d := s.data()
	if _, ok := d.keys[l.PublicKey]; ok {
		return repository.ErrDuplicateKey
	}
	if _, ok := d.ledgers[l.ID]; ok {
		return repository.ErrInsertFailed
	}
	d.ledgers[l.ID] = l
	d.keys[l.PublicKey] = l.ID
	return nil
}

func (s *session) UpdateLedger(_ context.Context, l ledger.Ledger) error {
	if err := s.writable(); err != nil {
		return err
	}
	d := s.data()
	cur, ok := d.ledgers[l.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Balance, cur.Timestamp = l.Balance, l.Timestamp
	d.ledgers[l.ID] = cur
	return nil
}

func (s *session) resolve(e transaction.Entry) transaction.Entry {
	d := s.data()
	e.Source = d.ledgers[e.LedgerID].PublicKey
	e.Target = d.ledgers[e.OtherID].PublicKey
	return e
}

func (s *session) collect(match func(transaction.Entry) bool) []transaction.Entry {
	var entries []transaction.Entry
	for _, e := range s.data().txs {
		if match(e) {
			entries = append(entries, s.resolve(e))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (s *session) ReadTransactions(_ context.Context, ledgerID int64) ([]transaction.Entry, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.collect(func(e transaction.Entry) bool { return e.LedgerID == ledgerID }), nil
}

func (s *session) ReadPendingIncoming(_ context.Context, ledgerID int64) ([]transaction.Entry, error) {
	if err := s.readable(); err != nil {
		return nil, err
	}
	return s.collect(func(e transaction.Entry) bool {
		return e.OtherID == ledgerID && e.IsSend && e.Pending
	}), nil
}

func (s *session) ReadTransactionByHash(_ context.Context, hash string) (transaction.Entry, error) {
	if err := s.readable(); err != nil {
		return transaction.Entry{}, err
	}
	id, ok := s.data().hashes[hash]
	if !ok {
		return transaction.Entry{}, repository.ErrNotFound
	}
	return s.resolve(s.data().txs[id]), nil
}

func (s *session) NextTransactionID(_ context.Context) (int64, error) {
	if err := s.readable(); err != nil {
		return 0, err
	}
	var max int64
	for id := range s.data().txs {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

func (s *session) WriteTransaction(_ context.Context, e transaction.Entry) error {
	if err := s.writable(); err != nil {
		return err
	}
	d := s.data()
	if _, ok := d.hashes[e.Hash]; ok {
		return repository.ErrDuplicateHash
	}
	if _, ok := d.txs[e.ID]; ok {
		return repository.ErrInsertFailed
	}
	if _, ok := d.ledgers[e.LedgerID]; !ok {
		return errors.Join(repository.ErrInsertFailed, repository.ErrNotFound)
	}
	if _, ok := d.ledgers[e.OtherID]; !ok {
		return errors.Join(repository.ErrInsertFailed, repository.ErrNotFound)
	}
	if e.PrevHash.Valid {
		if _, ok := d.hashes[e.PrevHash.String]; !ok {
			return errors.Join(repository.ErrInsertFailed, repository.ErrNotFound)
		}
	}
	e.Source, e.Target = "", ""
	d.txs[e.ID] = e
	d.hashes[e.Hash] = e.ID
	return nil
}

func (s *session) UpdatePending(_ context.Context, id int64, pending bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	d := s.data()
	e, ok := d.txs[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Pending = pending
	d.txs[id] = e
	return nil
}

func (s *session) RemoveTransaction(_ context.Context, id int64) error {
	if err := s.writable(); err != nil {
		return err
	}
	d := s.data()
	e, ok := d.txs[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(d.txs, id)
	delete(d.hashes, e.Hash)
	return nil
}

func (s *session) Commit() error {
	if s.closed {
		return repository.ErrSessionClosed
	}
	s.release()
	return nil
}

func (s *session) Rollback() error {
	if s.closed {
		return nil
	}
	if !s.readOnly {
		s.store.data = s.backup
	}
	s.release()
	return nil
}
