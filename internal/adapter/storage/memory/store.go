// Package memory is an in-process implementation of the storage ports.
// Transactions are serialized: one writer at a time, with staged writes that
// become visible on Commit and vanish on Rollback.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ownerKey struct {
	owner    uuid.UUID
	currency string
}

type sourceKey struct {
	source domain.EntrySource
	id     string
}

// Store holds committed state.
type Store struct {
	sem chan struct{} // held by the open transaction

	mu         sync.RWMutex
	accounts   map[uuid.UUID]domain.Account
	byOwner    map[ownerKey]uuid.UUID
	entries    map[uuid.UUID]domain.LedgerEntry
	entryOrder []uuid.UUID
	bySource   map[sourceKey]uuid.UUID
	byIdemKey  map[string]uuid.UUID
	deals      map[uuid.UUID]domain.Deal
	dealOrder  []uuid.UUID
	products   map[uuid.UUID]domain.ProductSnapshot
	audit      []domain.AuditLog
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		accounts:  make(map[uuid.UUID]domain.Account),
		byOwner:   make(map[ownerKey]uuid.UUID),
		entries:   make(map[uuid.UUID]domain.LedgerEntry),
		bySource:  make(map[sourceKey]uuid.UUID),
		byIdemKey: make(map[string]uuid.UUID),
		deals:     make(map[uuid.UUID]domain.Deal),
		products:  make(map[uuid.UUID]domain.ProductSnapshot),
	}
}

// Begin waits for the single transaction slot. It implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperror.ErrTransientStore(fmt.Errorf("begin tx: %w", ctx.Err()))
	}
	return &Tx{
		store:    s,
		accounts: make(map[uuid.UUID]domain.Account),
		entries:  make(map[uuid.UUID]domain.LedgerEntry),
		deals:    make(map[uuid.UUID]domain.Deal),
	}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string {
	return "memory"
}

// PutProduct adds or replaces a catalog listing.
func (s *Store) PutProduct(p domain.ProductSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Accounts returns a copy of every committed account.
func (s *Store) Accounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out
}

// Entries returns every committed ledger entry in insertion order.
func (s *Store) Entries() []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LedgerEntry, 0, len(s.entryOrder))
	for _, id := range s.entryOrder {
		out = append(out, s.entries[id])
	}
	return out
}

// AuditLogs returns the recorded audit trail.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditLog(nil), s.audit...)
}

// Tx is a staged transaction. Only the methods the repositories need are
// implemented; the embedded interface is nil.
type Tx struct {
	pgx.Tx

	store *Store
	done  bool

	accounts   map[uuid.UUID]domain.Account
	entries    map[uuid.UUID]domain.LedgerEntry
	newEntries []uuid.UUID
	deals      map[uuid.UUID]domain.Deal
	newDeals   []uuid.UUID
}

// Commit publishes staged writes atomically.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	defer t.release()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for _, id := range t.newEntries {
		e := t.entries[id]
		s.entryOrder = append(s.entryOrder, id)
		if e.HasSource() {
			s.bySource[sourceKey{e.Source, *e.SourceID}] = id
		}
		if e.IdempotencyKey != nil {
			s.byIdemKey[*e.IdempotencyKey] = id
		}
	}
	for id, e := range t.entries {
		s.entries[id] = e
	}
	s.dealOrder = append(s.dealOrder, t.newDeals...)
	for id, d := range t.deals {
		s.deals[id] = d
	}
	return nil
}

// Rollback discards staged writes. It is a no-op after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *Tx) release() {
	<-t.store.sem
}

func asTx(tx pgx.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok || mt == nil {
		return nil, fmt.Errorf("memory store: expected *memory.Tx, got %T", tx)
	}
	if mt.done {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

func now() time.Time {
	return time.Now().UTC()
}
