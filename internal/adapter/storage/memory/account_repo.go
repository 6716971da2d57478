package memory

import (
	"context"
	"fmt"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	s *Store
}

func NewAccountRepo(s *Store) *AccountRepo {
	return &AccountRepo{s: s}
}

// GetOrCreate inserts zero-balance accounts straight into committed state,
// so a rolled back transaction still leaves the (empty) account behind.
func (r *AccountRepo) GetOrCreate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	r.s.mu.Lock()
	id, ok := r.s.byOwner[ownerKey{ownerID, currency}]
	if !ok {
		a := domain.NewAccount(ownerID, currency)
		r.s.accounts[a.ID] = *a
		r.s.byOwner[ownerKey{ownerID, currency}] = a.ID
		id = a.ID
	}
	a := r.s.accounts[id]
	r.s.mu.Unlock()

	if mt, err := asTx(tx); err == nil {
		if staged, ok := mt.accounts[id]; ok {
			a = staged
		}
	}
	return &a, nil
}

func (r *AccountRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byOwner[ownerKey{ownerID, currency}]
	if !ok {
		return nil, nil
	}
	a := r.s.accounts[id]
	return &a, nil
}

func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if a, ok := mt.accounts[id]; ok {
		return &a, nil
	}
	r.s.mu.RLock()
	a, ok := r.s.accounts[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64, auditHash string) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("account %s: balance %d violates non-negative check", id, balance)
	}
	a, ok := mt.accounts[id]
	if !ok {
		r.s.mu.RLock()
		a, ok = r.s.accounts[id]
		r.s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("account not found: %s", id)
		}
	}
	a.Balance = balance
	a.LastAuditHash = auditHash
	a.UpdatedAt = now()
	mt.accounts[id] = a
	return nil
}
