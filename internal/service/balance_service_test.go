package service

import (
	"context"
	"errors"
	"testing"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBalanceService_CreateTopup_RecordsPendingEntry(t *testing.T) {
	f := newEscrowFixture(t)
	user := uuid.New()

	f.gateway.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req ports.PaymentIntentRequest) (*domain.PaymentIntent, error) {
			assert.Equal(t, int64(250075), req.AmountMinor)
			assert.Equal(t, testCurrency, req.Currency)
			assert.Equal(t, user.String(), req.Metadata["user_id"])
			assert.Contains(t, req.IdempotencyKey, "topup:")
			return &domain.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
		})

	intent, err := f.balance.CreateTopup(context.Background(), ports.TopupRequest{
		UserID: user,
		Amount: decimal.RequireFromString("2500.75"),
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.PaymentID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, int64(250075), intent.AmountMinor)

	entry, err := f.ledger.FindBySource(context.Background(), domain.SourceExternalGateway, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EntryPending, entry.Status)
	assert.Equal(t, intent.EntryID, entry.ID)
	assert.Nil(t, entry.CompletedAt)
	assert.Equal(t, int64(0), f.balanceOf(t, user), "pending topups do not move the balance")
}

func TestBalanceService_CreateTopup_InvalidAmount(t *testing.T) {
	f := newEscrowFixture(t)
	for _, amount := range []string{"0", "-5", "1.001"} {
		_, err := f.balance.CreateTopup(context.Background(), ports.TopupRequest{
			UserID: uuid.New(),
			Amount: decimal.RequireFromString(amount),
		})
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount), amount)
	}
}

func TestBalanceService_CreateTopup_GatewayDown(t *testing.T) {
	f := newEscrowFixture(t)
	f.gateway.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrGatewayUnavailable(errors.New("connection refused")))

	_, err := f.balance.CreateTopup(context.Background(), ports.TopupRequest{
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(10),
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeGatewayUnavailable))
	assert.Empty(t, f.store.Entries())
}

func TestBalanceService_ManualOperation_Idempotent(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()
	user := uuid.New()
	req := ports.ManualOperationRequest{
		Operator:       f.admin,
		UserID:         user,
		Amount:         decimal.NewFromInt(100),
		Kind:           domain.KindTopup,
		Description:    "Cash deposit",
		IdempotencyKey: "op-1",
	}

	first, err := f.balance.ManualOperation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), first.Amount)
	assert.Equal(t, domain.SourceManual, first.Source)

	second, err := f.balance.ManualOperation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Redis lost the key: the ledger's unique key still dedupes.
	f.cache.data = map[string][]byte{}
	third, err := f.balance.ManualOperation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	assert.Equal(t, int64(10000), f.balanceOf(t, user))
	assert.Len(t, f.store.Entries(), 1)
}

func TestBalanceService_ManualOperation_Directions(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fund(t, user, 100)

	op := func(kind domain.EntryKind, amount string) (*domain.LedgerEntry, error) {
		return f.balance.ManualOperation(ctx, ports.ManualOperationRequest{
			Operator:       f.admin,
			UserID:         user,
			Amount:         decimal.RequireFromString(amount),
			Kind:           kind,
			IdempotencyKey: uuid.NewString(),
		})
	}

	e, err := op(domain.KindWithdrawal, "30")
	require.NoError(t, err)
	assert.Equal(t, int64(-3000), e.Amount)

	e, err = op(domain.KindAdjustment, "-20.50")
	require.NoError(t, err)
	assert.Equal(t, int64(-2050), e.Amount)

	_, err = op(domain.KindWithdrawal, "50")
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))

	_, err = op(domain.KindWithdrawal, "-5")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount))
	_, err = op(domain.KindAdjustment, "0")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount))
	_, err = op("bonus", "5")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	assert.Equal(t, int64(4950), f.balanceOf(t, user))
	f.assertLedgerConsistent(t)
}

func TestBalanceService_ManualOperation_Guards(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	_, err := f.balance.ManualOperation(ctx, ports.ManualOperationRequest{
		Operator:       domain.Caller{UserID: uuid.New(), Role: domain.RoleUser},
		UserID:         uuid.New(),
		Amount:         decimal.NewFromInt(1),
		Kind:           domain.KindTopup,
		IdempotencyKey: "k",
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))

	_, err = f.balance.ManualOperation(ctx, ports.ManualOperationRequest{
		Operator: f.admin,
		UserID:   uuid.New(),
		Amount:   decimal.NewFromInt(1),
		Kind:     domain.KindTopup,
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestBalanceService_ChargeFee(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()
	user := uuid.New()
	productID := uuid.New()
	f.fund(t, user, 1000)

	entry, err := f.balance.ChargeFee(ctx, ports.FeeRequest{Operator: f.admin, UserID: user, ProductID: &productID})
	require.NoError(t, err)
	assert.Equal(t, domain.KindFee, entry.Kind)
	assert.Equal(t, int64(-50000), entry.Amount)
	assert.Equal(t, "Listing boost for 3 days", entry.Description)
	assert.Equal(t, int64(3), entry.Metadata[domain.MetaKeyBoostDays].Num())
	assert.Equal(t, productID, entry.Metadata[domain.MetaKeyProductID].ID())

	assert.Equal(t, int64(50000), f.balanceOf(t, user))
	assert.Equal(t, int64(50000), f.balanceOf(t, f.platformOwner))

	_, err = f.balance.ChargeFee(ctx, ports.FeeRequest{Operator: f.admin, UserID: user, Amount: decimal.NewFromInt(501)})
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))

	_, err = f.balance.ChargeFee(ctx, ports.FeeRequest{Operator: domain.Caller{UserID: user}, UserID: user})
	assert.True(t, apperror.HasCode(err, apperror.CodeForbidden))

	f.assertLedgerConsistent(t)
	assert.Zero(t, f.internalNet())
}
