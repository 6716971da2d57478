package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-escrow/internal/adapter/storage/memory"
	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/internal/core/ports/mocks"
	"marketplace-escrow/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testCurrency = "KZT"

// mapCache is an in-process ports.IdempotencyCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// escrowFixture wires the real services over the in-memory store.
type escrowFixture struct {
	store     *memory.Store
	accounts  *memory.AccountRepo
	ledger    *memory.LedgerRepo
	deals     *memory.DealRepo
	transfers ports.TransferService
	dealSvc   *DealServiceImpl
	balance   *BalanceServiceImpl
	reporting ports.ReportingService
	notifier  *mocks.MockNotificationService
	gateway   *mocks.MockPaymentGateway
	cache     *mapCache
	metrics   *metrics.Metrics

	escrowOwner   uuid.UUID
	platformOwner uuid.UUID
	admin         domain.Caller
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &escrowFixture{
		store:         memory.NewStore(),
		notifier:      mocks.NewMockNotificationService(ctrl),
		gateway:       mocks.NewMockPaymentGateway(ctrl),
		cache:         newMapCache(),
		metrics:       metrics.New(),
		escrowOwner:   uuid.New(),
		platformOwner: uuid.New(),
		admin:         domain.Caller{UserID: uuid.New(), Role: domain.RoleAdmin},
	}
	f.accounts = memory.NewAccountRepo(f.store)
	f.ledger = memory.NewLedgerRepo(f.store)
	f.deals = memory.NewDealRepo(f.store)
	f.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).AnyTimes()

	log := zerolog.Nop()
	f.transfers = NewTransferService(f.accounts, f.ledger, f.store, f.metrics, log)
	f.dealSvc = NewDealService(f.transfers, f.deals, f.accounts, memory.NewProductCatalog(f.store),
		f.notifier, f.escrowOwner, f.metrics, log)
	f.balance = NewBalanceService(f.transfers, f.accounts, f.ledger, f.gateway, f.cache, BalanceConfig{
		Currency:        testCurrency,
		PlatformOwnerID: f.platformOwner,
		BoostFee:        decimal.NewFromInt(500),
		BoostDays:       3,
	}, log)
	f.reporting = NewReportingService(f.accounts, f.ledger, testCurrency)
	return f
}

// fund credits user through a manual topup.
func (f *escrowFixture) fund(t *testing.T, user uuid.UUID, major int64) {
	t.Helper()
	_, err := f.balance.ManualOperation(context.Background(), ports.ManualOperationRequest{
		Operator:       f.admin,
		UserID:         user,
		Amount:         decimal.NewFromInt(major),
		Kind:           domain.KindTopup,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
}

func (f *escrowFixture) product(seller uuid.UUID, price string) domain.ProductSnapshot {
	p := domain.ProductSnapshot{
		ID:       uuid.New(),
		Title:    "Road bike",
		Price:    decimal.RequireFromString(price),
		Currency: testCurrency,
		SellerID: seller,
	}
	f.store.PutProduct(p)
	return p
}

func (f *escrowFixture) balanceOf(t *testing.T, owner uuid.UUID) int64 {
	t.Helper()
	acc, err := f.reporting.GetBalance(context.Background(), owner, testCurrency)
	require.NoError(t, err)
	return acc.Balance
}

// assertLedgerConsistent checks that every account's balance equals the sum
// of its completed entries and is never negative.
func (f *escrowFixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	sums := map[uuid.UUID]int64{}
	for _, e := range f.store.Entries() {
		if e.Status == domain.EntryCompleted {
			sums[e.AccountID] += e.Amount
		}
	}
	for _, a := range f.store.Accounts() {
		require.GreaterOrEqual(t, a.Balance, int64(0), "account %s is negative", a.ID)
		require.Equal(t, sums[a.ID], a.Balance, "account %s drifted from its ledger", a.ID)
	}
}

// internalNet sums internal entries, which must always cancel out.
func (f *escrowFixture) internalNet() int64 {
	var net int64
	for _, e := range f.store.Entries() {
		if e.Status == domain.EntryCompleted && (e.Source == domain.SourceInternal || e.Source == domain.SourceSystem) {
			net += e.Amount
		}
	}
	return net
}

func buy(f *escrowFixture, buyer uuid.UUID, p domain.ProductSnapshot) (*domain.Deal, error) {
	return f.dealSvc.CreateDeal(context.Background(), ports.CreateDealRequest{
		BuyerID:   buyer,
		ProductID: p.ID,
		Delivery:  domain.Delivery{Method: domain.DeliveryPickup},
	})
}
