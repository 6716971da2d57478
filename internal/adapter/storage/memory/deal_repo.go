package memory

import (
	"context"
	"fmt"
	"sort"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DealRepo implements ports.DealRepository.
type DealRepo struct {
	s *Store
}

func NewDealRepo(s *Store) *DealRepo {
	return &DealRepo{s: s}
}

func (r *DealRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.Deal) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, err := money.ToMinor(d.Amount); err != nil {
		return fmt.Errorf("deal amount: %w", err)
	}
	r.s.mu.RLock()
	_, exists := r.s.deals[d.ID]
	r.s.mu.RUnlock()
	if _, staged := mt.deals[d.ID]; exists || staged {
		return fmt.Errorf("deal %s already exists", d.ID)
	}
	mt.deals[d.ID] = *d
	mt.newDeals = append(mt.newDeals, d.ID)
	return nil
}

func (r *DealRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *DealRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Deal, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if d, ok := mt.deals[id]; ok {
		return &d, nil
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus swaps the status only if the deal is still in from.
func (r *DealRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.DealStatus) (bool, error) {
	d, err := r.GetByIDForUpdate(ctx, tx, id)
	if err != nil || d == nil {
		return false, err
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = now()
	tx.(*Tx).deals[id] = *d
	return true, nil
}

func (r *DealRepo) List(ctx context.Context, f ports.DealFilter) ([]domain.Deal, int64, error) {
	r.s.mu.RLock()
	var matched []domain.Deal
	for i := len(r.s.dealOrder) - 1; i >= 0; i-- {
		d := r.s.deals[r.s.dealOrder[i]]
		if matchesDeal(d, f) {
			matched = append(matched, d)
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, f.Pagination), int64(len(matched)), nil
}

func matchesDeal(d domain.Deal, f ports.DealFilter) bool {
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	if f.UserID == nil {
		return true
	}
	switch f.Role {
	case ports.DealRoleBuyer:
		return d.BuyerID == *f.UserID
	case ports.DealRoleSeller:
		return d.SellerID == *f.UserID
	default:
		return d.IsParticipant(*f.UserID)
	}
}

// Stats aggregates committed deals per status, ordered by status.
func (r *DealRepo) Stats(ctx context.Context) ([]domain.DealStat, error) {
	r.s.mu.RLock()
	byStatus := make(map[domain.DealStatus]*domain.DealStat)
	for _, d := range r.s.deals {
		st, ok := byStatus[d.Status]
		if !ok {
			st = &domain.DealStat{Status: d.Status}
			byStatus[d.Status] = st
		}
		st.Count++
		st.Amount = st.Amount.Add(d.Amount)
	}
	r.s.mu.RUnlock()

	stats := make([]domain.DealStat, 0, len(byStatus))
	for _, st := range byStatus {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Status < stats[j].Status })
	return stats, nil
}
