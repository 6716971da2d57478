package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, owner_id, currency, balance, last_audit_hash, created_at, updated_at`

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// GetOrCreate returns the owner's account in currency, inserting a
// zero-balance row first if none exists. Concurrent callers converge on the
// same row through the (owner_id, currency) unique constraint.
// tx may be nil to run on the pool.
func (r *AccountRepo) GetOrCreate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	q := on(r.pool, tx)
	a := domain.NewAccount(ownerID, currency)

	insert := `INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, currency) DO NOTHING`
	if _, err := q.Exec(ctx, insert,
		a.ID, a.OwnerID, a.Currency, a.Balance, a.LastAuditHash, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return nil, storeError("insert account", err)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND currency = $2`
	acc, err := scanAccount(q.QueryRow(ctx, query, ownerID, currency))
	if err != nil {
		return nil, storeError("get account after upsert", err)
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s/%s vanished after upsert", ownerID, currency)
	}
	return acc, nil
}

// GetByOwner fetches an account by owner and currency (non-locking read).
// Returns nil, nil when the account does not exist yet.
func (r *AccountRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 AND currency = $2`

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, ownerID, currency))
	if err != nil {
		return nil, storeError("get account by owner", err)
	}
	return acc, nil
}

// GetByIDForUpdate fetches an account by ID with pessimistic locking.
// This MUST be called within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	acc, err := scanAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError("lock account", err)
	}
	return acc, nil
}

// UpdateBalance writes the new balance and audit hash within a transaction.
func (r *AccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64, auditHash string) error {
	query := `UPDATE accounts SET balance = $1, last_audit_hash = $2, updated_at = NOW() WHERE id = $3`

	tag, err := tx.Exec(ctx, query, balance, auditHash, id)
	if err != nil {
		return storeError("update account balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Balance, &a.LastAuditHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
