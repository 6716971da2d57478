package ports

import (
	"context"
	"time"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository persists balances.
// Methods accepting pgx.Tx run inside the escrow transfer transaction;
// UpdateBalance must only be called by the transfer service.
type AccountRepository interface {
	GetOrCreate(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, currency string) (*domain.Account, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance int64, auditHash string) error
}

// LedgerRepository is the append-only store of ledger entries.
type LedgerRepository interface {
	Append(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.EntryStatus, completedAt time.Time) error
	FindBySource(ctx context.Context, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error)
	FindBySourceForUpdate(ctx context.Context, tx pgx.Tx, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	List(ctx context.Context, filter HistoryFilter) ([]domain.LedgerEntry, int64, error)
}

// DealRepository persists deals. UpdateStatus is a compare-and-swap on status.
type DealRepository interface {
	Create(ctx context.Context, tx pgx.Tx, deal *domain.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Deal, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Deal, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.DealStatus) (bool, error)
	List(ctx context.Context, filter DealFilter) ([]domain.Deal, int64, error)
	Stats(ctx context.Context) ([]domain.DealStat, error)
}

// ProductCatalog reads listings owned by the catalog service.
type ProductCatalog interface {
	GetSnapshot(ctx context.Context, productID uuid.UUID) (*domain.ProductSnapshot, error)
}

// AuditRepository stores audit trail entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int
	Limit int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps page and limit to sane values.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// HistoryFilter selects ledger entries of one owner.
type HistoryFilter struct {
	OwnerID  uuid.UUID
	Currency string
	Kind     *domain.EntryKind
	Status   *domain.EntryStatus
	From     *time.Time
	To       *time.Time
	Pagination
}

// DealRole narrows deal listings to one side of the trade.
type DealRole string

const (
	DealRoleAny    DealRole = ""
	DealRoleBuyer  DealRole = "buyer"
	DealRoleSeller DealRole = "seller"
)

// DealFilter selects deals. A nil UserID lists all deals.
type DealFilter struct {
	UserID *uuid.UUID
	Role   DealRole
	Status *domain.DealStatus
	Pagination
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// HealthChecker is a dependency probed by GET /health. Name labels the
// dependency in the report; Ping returns nil when it can serve traffic.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}
