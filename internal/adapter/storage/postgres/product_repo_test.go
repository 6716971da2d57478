package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productCols() []string {
	return []string{"id", "title", "price", "currency", "seller_id", "image_url"}
}

func TestProductRepo_GetSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProductRepo(mock, "KZT")
	id, seller := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, title, price::TEXT, .+ FROM products WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(productCols()).AddRow(id, "Kettle", "12500.00", "", seller, ""))

	p, err := repo.GetSnapshot(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Kettle", p.Title)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(12500)))
	assert.Equal(t, "KZT", p.Currency, "missing currency falls back to the default")
	assert.Equal(t, seller, p.SellerID)
}

func TestProductRepo_GetSnapshot_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProductRepo(mock, "KZT")
	id := uuid.New()
	mock.ExpectQuery("FROM products").WithArgs(id).WillReturnRows(pgxmock.NewRows(productCols()))

	p, err := repo.GetSnapshot(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestProductRepo_GetSnapshot_BadPrice(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProductRepo(mock, "KZT")
	mock.ExpectQuery("FROM products").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(productCols()).AddRow(uuid.New(), "Lamp", "abc", "KZT", uuid.New(), ""))

	_, err = repo.GetSnapshot(context.Background(), uuid.New())
	assert.ErrorContains(t, err, "parse product price")
}

func TestProductRepo_GetSnapshot_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewProductRepo(mock, "KZT")
	boom := errors.New("connection reset")
	mock.ExpectQuery("FROM products").WithArgs(pgxmock.AnyArg()).WillReturnError(boom)

	_, err = repo.GetSnapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
}
