package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const dealColumns = `id, product, buyer_id, seller_id, amount_minor, currency,
		delivery_method, delivery_address, delivery_note, status, created_at, updated_at`

// DealRepo implements ports.DealRepository. Amounts are stored in minor units.
type DealRepo struct {
	pool Pool
}

// NewDealRepo creates a new DealRepo.
func NewDealRepo(pool Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

// Create inserts a new deal within a database transaction.
func (r *DealRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.Deal) error {
	product, err := json.Marshal(d.Product)
	if err != nil {
		return fmt.Errorf("encode product snapshot: %w", err)
	}
	amount, err := money.ToMinor(d.Amount)
	if err != nil {
		return fmt.Errorf("deal amount: %w", err)
	}

	query := `INSERT INTO deals (product_id, ` + dealColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = tx.Exec(ctx, query,
		d.Product.ID, d.ID, product, d.BuyerID, d.SellerID, amount, d.Currency,
		d.Delivery.Method, d.Delivery.Address, d.Delivery.Note, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return storeError("insert deal", err)
	}
	return nil
}

// GetByID fetches a deal (non-locking read). Returns nil, nil if absent.
func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

	d, err := scanDeal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError("get deal", err)
	}
	return d, nil
}

// GetByIDForUpdate fetches a deal with a row lock.
// This MUST be called within a transaction.
func (r *DealRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1 FOR UPDATE`

	d, err := scanDeal(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError("lock deal", err)
	}
	return d, nil
}

// UpdateStatus moves the deal from -> to only if it is still in from.
// It reports false when another transaction changed the status first.
func (r *DealRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.DealStatus) (bool, error) {
	query := `UPDATE deals SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`

	tag, err := tx.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, storeError("update deal status", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List fetches deals with filtering and pagination, newest first.
func (r *DealRepo) List(ctx context.Context, f ports.DealFilter) ([]domain.Deal, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if f.UserID != nil {
		switch f.Role {
		case ports.DealRoleBuyer:
			conditions = append(conditions, fmt.Sprintf("buyer_id = $%d", argIdx))
		case ports.DealRoleSeller:
			conditions = append(conditions, fmt.Sprintf("seller_id = $%d", argIdx))
		default:
			conditions = append(conditions, fmt.Sprintf("(buyer_id = $%d OR seller_id = $%d)", argIdx, argIdx))
		}
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM deals "+where, args...).Scan(&total); err != nil {
		return nil, 0, storeError("count deals", err)
	}

	page := f.Pagination.Normalize()
	dataQuery := fmt.Sprintf(`SELECT %s FROM deals %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		dealColumns, where, argIdx, argIdx+1)
	args = append(args, page.Limit, page.Offset())

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, storeError("list deals", err)
	}
	defer rows.Close()

	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan deal row: %w", err)
		}
		deals = append(deals, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("iterate deal rows", err)
	}
	return deals, total, nil
}

// Stats returns count and total amount of deals per status.
func (r *DealRepo) Stats(ctx context.Context) ([]domain.DealStat, error) {
	query := `SELECT status, COUNT(*), COALESCE(SUM(amount_minor), 0)::BIGINT
		FROM deals GROUP BY status ORDER BY status`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, storeError("deal stats", err)
	}
	defer rows.Close()

	var stats []domain.DealStat
	for rows.Next() {
		var s domain.DealStat
		var sum int64
		if err := rows.Scan(&s.Status, &s.Count, &sum); err != nil {
			return nil, fmt.Errorf("scan deal stats: %w", err)
		}
		s.Amount = money.FromMinor(sum)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate deal stats", err)
	}
	return stats, nil
}

func scanDeal(row pgx.Row) (*domain.Deal, error) {
	d := &domain.Deal{}
	var product []byte
	var amount int64
	err := row.Scan(
		&d.ID, &product, &d.BuyerID, &d.SellerID, &amount, &d.Currency,
		&d.Delivery.Method, &d.Delivery.Address, &d.Delivery.Note, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(product, &d.Product); err != nil {
		return nil, fmt.Errorf("decode product snapshot: %w", err)
	}
	d.Amount = money.FromMinor(amount)
	return d, nil
}
