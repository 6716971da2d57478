package memory

import (
	"context"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
)

// ProductCatalog implements ports.ProductCatalog over products added with
// Store.PutProduct.
type ProductCatalog struct {
	s *Store
}

func NewProductCatalog(s *Store) *ProductCatalog {
	return &ProductCatalog{s: s}
}

func (c *ProductCatalog) GetSnapshot(ctx context.Context, productID uuid.UUID) (*domain.ProductSnapshot, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	s *Store
}

func NewAuditRepo(s *Store) *AuditRepo {
	return &AuditRepo{s: s}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *log)
	return nil
}
