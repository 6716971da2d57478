package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository with the same uniqueness and
// transition rules the database schema enforces.
type LedgerRepo struct {
	s *Store
}

func NewLedgerRepo(s *Store) *LedgerRepo {
	return &LedgerRepo{s: s}
}

func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, ok := mt.entries[e.ID]; ok {
		return fmt.Errorf("ledger entry %s already exists", e.ID)
	}

	r.s.mu.RLock()
	_, exists := r.s.entries[e.ID]
	var dupSource, dupKey bool
	if e.HasSource() {
		_, dupSource = r.s.bySource[sourceKey{e.Source, *e.SourceID}]
	}
	if e.IdempotencyKey != nil {
		_, dupKey = r.s.byIdemKey[*e.IdempotencyKey]
	}
	r.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("ledger entry %s already exists", e.ID)
	}

	for _, id := range mt.newEntries {
		staged := mt.entries[id]
		if e.HasSource() && staged.HasSource() && staged.Source == e.Source && *staged.SourceID == *e.SourceID {
			dupSource = true
		}
		if e.IdempotencyKey != nil && staged.IdempotencyKey != nil && *staged.IdempotencyKey == *e.IdempotencyKey {
			dupKey = true
		}
	}
	if dupSource {
		return apperror.ErrDuplicateExternalEvent()
	}
	if dupKey {
		return apperror.ErrDuplicateRequest()
	}

	mt.entries[e.ID] = *e
	mt.newEntries = append(mt.newEntries, e.ID)
	return nil
}

func (r *LedgerRepo) TransitionStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, to domain.EntryStatus, completedAt time.Time) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	e, ok := mt.entries[id]
	if !ok {
		r.s.mu.RLock()
		e, ok = r.s.entries[id]
		r.s.mu.RUnlock()
		if !ok {
			return fmt.Errorf("ledger entry not found: %s", id)
		}
	}
	if !domain.CanTransition(e.Status, to) {
		return apperror.ErrInvalidLedgerTransition(string(e.Status), string(to))
	}
	e.Status = to
	at := completedAt
	e.CompletedAt = &at
	mt.entries[id] = e
	return nil
}

func (r *LedgerRepo) FindBySource(ctx context.Context, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.bySource[sourceKey{source, sourceID}]
	if !ok {
		return nil, nil
	}
	e := r.s.entries[id]
	return &e, nil
}

func (r *LedgerRepo) FindBySourceForUpdate(ctx context.Context, tx pgx.Tx, source domain.EntrySource, sourceID string) (*domain.LedgerEntry, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	for _, id := range mt.newEntries {
		e := mt.entries[id]
		if e.HasSource() && e.Source == source && *e.SourceID == sourceID {
			return &e, nil
		}
	}
	found, err := r.FindBySource(ctx, source, sourceID)
	if err != nil || found == nil {
		return found, err
	}
	if staged, ok := mt.entries[found.ID]; ok {
		return &staged, nil
	}
	return found, nil
}

func (r *LedgerRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byIdemKey[key]
	if !ok {
		return nil, nil
	}
	e := r.s.entries[id]
	return &e, nil
}

// List returns an owner's entries newest first.
func (r *LedgerRepo) List(ctx context.Context, f ports.HistoryFilter) ([]domain.LedgerEntry, int64, error) {
	r.s.mu.RLock()
	var matched []domain.LedgerEntry
	for i := len(r.s.entryOrder) - 1; i >= 0; i-- {
		e := r.s.entries[r.s.entryOrder[i]]
		if matchesHistory(e, f) {
			matched = append(matched, e)
		}
	}
	r.s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, f.Pagination), int64(len(matched)), nil
}

func matchesHistory(e domain.LedgerEntry, f ports.HistoryFilter) bool {
	switch {
	case e.OwnerID != f.OwnerID:
		return false
	case f.Currency != "" && e.Currency != f.Currency:
		return false
	case f.Kind != nil && e.Kind != *f.Kind:
		return false
	case f.Status != nil && e.Status != *f.Status:
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && e.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func paginate[T any](items []T, p ports.Pagination) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(items) {
		return nil
	}
	end := min(start+p.Limit, len(items))
	return items[start:end]
}
