package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ledgerColumns = `id, account_id, owner_id, kind, amount, currency, status, description,
		source, source_id, metadata, idempotency_key, deal_id, created_at, completed_at`

// Unique constraints declared in migrations/001_init.sql.
const (
	constraintSourceUnique      = "ledger_entries_source_uq"
	constraintIdempotencyUnique = "ledger_entries_idempotency_key_uq"
)

// LedgerRepo implements ports.LedgerRepository. Rows are never deleted and
// only status/completed_at are ever updated.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts a new entry within a database transaction.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = tx.Exec(ctx, query,
		e.ID, e.AccountID, e.OwnerID, e.Kind, e.Amount, e.Currency, e.Status, e.Description,
		e.Source, e.SourceID, meta, e.IdempotencyKey, e.DealID, e.CreatedAt, e.CompletedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintSourceUnique:
				return apperror.ErrDuplicateExternalEvent()
			case constraintIdempotencyUnique:
				return apperror.ErrDuplicateRequest()
			}
		}
		return storeError("insert ledger entry", err)
	}
	return nil
}

// TransitionStatus finalizes a pending entry. Anything but
// pending -> completed|failed is an InvalidLedgerTransition.
func (r *LedgerRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.EntryStatus, completedAt time.Time) error {
	if !domain.CanTransition(domain.EntryPending, to) {
		return apperror.ErrInvalidLedgerTransition(string(domain.EntryPending), string(to))
	}

	query := `UPDATE ledger_entries SET status = $1, completed_at = $2 WHERE id = $3 AND status = 'pending'`
	tag, err := tx.Exec(ctx, query, to, completedAt, id)
	if err != nil {
		return storeError("transition ledger entry", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current domain.EntryStatus
	err = tx.QueryRow(ctx, `SELECT status FROM ledger_entries WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("ledger entry not found: %s", id)
		}
		return storeError("read ledger entry status", err)
	}
	return apperror.ErrInvalidLedgerTransition(string(current), string(to))
}

// FindBySource looks up the entry recorded for an external reference.
// Returns nil, nil if absent.
func (r *LedgerRepo) FindBySource(ctx context.Context, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE source = $1 AND source_id = $2`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, source, sourceID))
	if err != nil {
		return nil, storeError("find ledger entry by source", err)
	}
	return e, nil
}

// FindBySourceForUpdate is FindBySource with a row lock, serializing
// concurrent deliveries of the same external event.
func (r *LedgerRepo) FindBySourceForUpdate(ctx context.Context, tx pgx.Tx, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE source = $1 AND source_id = $2 FOR UPDATE`

	e, err := scanEntry(tx.QueryRow(ctx, query, source, sourceID))
	if err != nil {
		return nil, storeError("lock ledger entry by source", err)
	}
	return e, nil
}

// FindByIdempotencyKey returns the entry written under key, or nil, nil.
func (r *LedgerRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE idempotency_key = $1`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		return nil, storeError("find ledger entry by idempotency key", err)
	}
	return e, nil
}

// List fetches an owner's entries with filtering and pagination, newest first.
func (r *LedgerRepo) List(ctx context.Context, f ports.HistoryFilter) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
	args = append(args, f.OwnerID)
	argIdx++

	if f.Currency != "" {
		conditions = append(conditions, fmt.Sprintf("currency = $%d", argIdx))
		args = append(args, f.Currency)
		argIdx++
	}
	if f.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *f.Kind)
		argIdx++
	}
	if f.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *f.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM ledger_entries " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, storeError("count ledger entries", err)
	}

	page := f.Pagination.Normalize()
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		ledgerColumns, where, argIdx, argIdx+1)
	args = append(args, page.Limit, page.Offset())

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, storeError("list ledger entries", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("iterate ledger rows", err)
	}
	return entries, total, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var meta []byte
	err := row.Scan(
		&e.ID, &e.AccountID, &e.OwnerID, &e.Kind, &e.Amount, &e.Currency, &e.Status, &e.Description,
		&e.Source, &e.SourceID, &meta, &e.IdempotencyKey, &e.DealID, &e.CreatedAt, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode ledger metadata: %w", err)
		}
	}
	return e, nil
}

func marshalMetadata(m domain.Metadata) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode ledger metadata: %w", err)
	}
	return b, nil
}
