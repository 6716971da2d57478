package postgres

import (
	"context"
	"errors"
	"fmt"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ProductRepo implements ports.ProductCatalog over the catalog's products
// table. The escrow engine only reads it.
type ProductRepo struct {
	pool     Pool
	currency string
}

// NewProductRepo creates a new ProductRepo. Listings without a currency
// are priced in defaultCurrency.
func NewProductRepo(pool Pool, defaultCurrency string) *ProductRepo {
	return &ProductRepo{pool: pool, currency: defaultCurrency}
}

// GetSnapshot returns the product as it is right now, or nil, nil if absent.
func (r *ProductRepo) GetSnapshot(ctx context.Context, productID uuid.UUID) (*domain.ProductSnapshot, error) {
	query := `SELECT id, title, price::TEXT, COALESCE(currency, ''), seller_id, COALESCE(image_url, '')
		FROM products WHERE id = $1`

	p := &domain.ProductSnapshot{}
	var price string
	err := r.pool.QueryRow(ctx, query, productID).Scan(&p.ID, &p.Title, &price, &p.Currency, &p.SellerID, &p.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError("get product", err)
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse product price %q: %w", price, err)
	}
	if p.Currency == "" {
		p.Currency = r.currency
	}
	return p, nil
}
