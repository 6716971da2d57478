package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/internal/core/ports/mocks"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	buyerID     = uuid.New()
	moderatorID = uuid.New()
)

const (
	buyerToken     = "buyer-token"
	moderatorToken = "moderator-token"
)

type testAPI struct {
	router     *gin.Engine
	deals      *mocks.MockDealService
	balance    *mocks.MockBalanceService
	reporting  *mocks.MockReportingService
	reconciler *mocks.MockReconcilerService
}

type stubChecker struct {
	name     string
	err      error
	optional bool
}

func (s stubChecker) Ping(context.Context) error { return s.err }
func (s stubChecker) Name() string               { return s.name }
func (s stubChecker) Optional() bool             { return s.optional }

func newTestAPI(t *testing.T, checkers ...ports.HealthChecker) *testAPI {
	ctrl := gomock.NewController(t)
	api := &testAPI{
		deals:      mocks.NewMockDealService(ctrl),
		balance:    mocks.NewMockBalanceService(ctrl),
		reporting:  mocks.NewMockReportingService(ctrl),
		reconciler: mocks.NewMockReconcilerService(ctrl),
	}

	tokens := mocks.NewMockTokenService(ctrl)
	tokens.EXPECT().Validate(buyerToken).
		Return(&ports.TokenClaims{UserID: buyerID, Role: domain.RoleUser}, nil).AnyTimes()
	tokens.EXPECT().Validate(moderatorToken).
		Return(&ports.TokenClaims{UserID: moderatorID, Role: domain.RoleModerator}, nil).AnyTimes()
	tokens.EXPECT().Validate(gomock.Any()).
		Return(nil, apperror.ErrInvalidToken()).AnyTimes()

	api.router = SetupRouter(RouterDeps{
		DealSvc:        api.deals,
		BalanceSvc:     api.balance,
		ReportingSvc:   api.reporting,
		ReconcilerSvc:  api.reconciler,
		TokenSvc:       tokens,
		HealthCheckers: checkers,
		Metrics:        metrics.New(),
		Logger:         zerolog.Nop(),
	})
	return api
}

func (a *testAPI) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	code, _ := resp["error_code"].(string)
	return code
}

func sampleDeal(status domain.DealStatus) *domain.Deal {
	now := time.Now().UTC()
	seller := uuid.New()
	return &domain.Deal{
		ID: uuid.New(),
		Product: domain.ProductSnapshot{
			ID: uuid.New(), Title: "Bicycle", Price: decimal.NewFromInt(150),
			Currency: "KZT", SellerID: seller,
		},
		BuyerID:   buyerID,
		SellerID:  seller,
		Amount:    decimal.NewFromInt(150),
		Currency:  "KZT",
		Delivery:  domain.Delivery{Method: domain.DeliveryPickup},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Deals ---

func TestCreateDeal_Success(t *testing.T) {
	api := newTestAPI(t)
	deal := sampleDeal(domain.DealPending)

	api.deals.EXPECT().CreateDeal(gomock.Any(), ports.CreateDealRequest{
		BuyerID:   buyerID,
		ProductID: deal.Product.ID,
		Delivery:  domain.Delivery{Method: domain.DeliveryShipping, Address: "12 Abay Ave"},
	}).Return(deal, nil)

	w := api.do(http.MethodPost, "/api/v1/deals", buyerToken, map[string]string{
		"product_id":      deal.Product.ID.String(),
		"delivery_method": "delivery",
		"address":         " 12 Abay Ave ",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, deal.ID.String(), data["id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "150.00", data["amount"])
}

func TestCreateDeal_ValidationError(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/deals", buyerToken, map[string]string{
		"product_id":      uuid.NewString(),
		"delivery_method": "teleport",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeValidation, errorCode(t, w))
}

func TestCreateDeal_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/deals", "", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodPost, "/api/v1/deals", "forged", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateDeal_InsufficientFunds(t *testing.T) {
	api := newTestAPI(t)
	api.deals.EXPECT().CreateDeal(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrInsufficientFunds())

	w := api.do(http.MethodPost, "/api/v1/deals", buyerToken, map[string]string{
		"product_id":      uuid.NewString(),
		"delivery_method": "pickup",
	})

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, apperror.CodeInsufficientFunds, errorCode(t, w))
}

func TestListDeals_PassesFilter(t *testing.T) {
	api := newTestAPI(t)

	api.deals.EXPECT().ListDeals(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f ports.DealFilter) ([]domain.Deal, int64, error) {
			require.NotNil(t, f.UserID)
			assert.Equal(t, buyerID, *f.UserID)
			assert.Equal(t, ports.DealRoleSeller, f.Role)
			require.NotNil(t, f.Status)
			assert.Equal(t, domain.DealReceived, *f.Status)
			assert.Equal(t, 2, f.Page)
			assert.Equal(t, 5, f.Limit)
			return []domain.Deal{*sampleDeal(domain.DealReceived)}, 6, nil
		})

	w := api.do(http.MethodGet, "/api/v1/deals?role=seller&status=received&page=2&limit=5", buyerToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 6, data["total"])
	assert.EqualValues(t, 2, data["pages"])
	assert.Len(t, data["items"], 1)
}

func TestListDeals_RejectsUnknownRoleAndStatus(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/deals?role=broker", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/deals?status=shipped", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefundRequests_PrivilegedOnly(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/deals/refund-requests", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	api.deals.EXPECT().
		ListRefundRequests(gomock.Any(), domain.Caller{UserID: moderatorID, Role: domain.RoleModerator}, ports.Pagination{Page: 1, Limit: ports.DefaultPageSize}).
		Return([]domain.Deal{*sampleDeal(domain.DealRefundRequested)}, int64(1), nil)

	w = api.do(http.MethodGet, "/api/v1/deals/refund-requests", moderatorToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDealStats_Totals(t *testing.T) {
	api := newTestAPI(t)
	api.deals.EXPECT().Stats(gomock.Any(), gomock.Any()).Return([]domain.DealStat{
		{Status: domain.DealPending, Count: 2, Amount: decimal.NewFromInt(300)},
		{Status: domain.DealReceived, Count: 1, Amount: decimal.RequireFromString("99.5")},
	}, nil)

	w := api.do(http.MethodGet, "/api/v1/deals/stats", moderatorToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.EqualValues(t, 3, data["total_count"])
	assert.Equal(t, "399.50", data["total_amount"])
}

func TestGetDeal_InvalidID(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/deals/not-a-uuid", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmReceipt_Success(t *testing.T) {
	api := newTestAPI(t)
	deal := sampleDeal(domain.DealReceived)
	api.deals.EXPECT().
		ConfirmReceipt(gomock.Any(), deal.ID, domain.Caller{UserID: buyerID, Role: domain.RoleUser}).
		Return(deal, nil)

	w := api.do(http.MethodPost, "/api/v1/deals/"+deal.ID.String()+"/confirm-receipt", buyerToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "received", decodeData(t, w)["status"])
}

func TestDealTransitions_MapServiceErrors(t *testing.T) {
	api := newTestAPI(t)
	id := uuid.New()

	api.deals.EXPECT().RequestRefund(gomock.Any(), id, gomock.Any()).
		Return(nil, apperror.ErrInvalidDealState("received", "request refund for"))
	api.deals.EXPECT().ApproveRefund(gomock.Any(), id, gomock.Any()).
		Return(nil, apperror.ErrForbidden("Only the seller can decide a refund"))
	api.deals.EXPECT().RejectRefund(gomock.Any(), id, gomock.Any()).
		Return(nil, apperror.ErrDealNotFound())

	w := api.do(http.MethodPost, "/api/v1/deals/"+id.String()+"/request-refund", buyerToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeInvalidDealState, errorCode(t, w))

	w = api.do(http.MethodPost, "/api/v1/deals/"+id.String()+"/approve-refund", buyerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/deals/"+id.String()+"/reject-refund", buyerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransientStoreError_IsRetryable(t *testing.T) {
	api := newTestAPI(t)
	id := uuid.New()
	api.deals.EXPECT().ConfirmReceipt(gomock.Any(), id, gomock.Any()).
		Return(nil, apperror.ErrTransientStore(errors.New("lock timeout")))

	w := api.do(http.MethodPost, "/api/v1/deals/"+id.String()+"/confirm-receipt", buyerToken, nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

// --- Balance ---

func TestGetBalance_MajorUnits(t *testing.T) {
	api := newTestAPI(t)
	acc := domain.NewAccount(buyerID, "KZT")
	acc.Balance = 10050
	api.reporting.EXPECT().GetBalance(gomock.Any(), buyerID, "").Return(acc, nil)

	w := api.do(http.MethodGet, "/api/v1/balance", buyerToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "100.50", data["balance"])
	assert.Equal(t, "KZT", data["currency"])
}

func TestHistory_PassesFilter(t *testing.T) {
	api := newTestAPI(t)
	api.reporting.EXPECT().ListHistory(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f ports.HistoryFilter) ([]domain.LedgerEntry, int64, error) {
			assert.Equal(t, buyerID, f.OwnerID)
			require.NotNil(t, f.Kind)
			assert.Equal(t, domain.KindPayment, *f.Kind)
			require.NotNil(t, f.From)
			assert.Nil(t, f.To)
			return []domain.LedgerEntry{{
				ID: uuid.New(), Kind: domain.KindPayment, Amount: -15000,
				Currency: "KZT", Status: domain.EntryCompleted, CreatedAt: time.Now(),
			}}, 1, nil
		})

	w := api.do(http.MethodGet, "/api/v1/balance/history?kind=payment&from=2026-01-01T00:00:00Z", buyerToken, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "-150.00", items[0].(map[string]interface{})["amount"])
}

func TestHistory_InvalidTimestamp(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/balance/history?from=yesterday", buyerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTopup_Success(t *testing.T) {
	api := newTestAPI(t)
	entryID := uuid.New()
	api.balance.EXPECT().CreateTopup(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.TopupRequest) (*ports.TopupIntent, error) {
			assert.Equal(t, buyerID, req.UserID)
			assert.True(t, req.Amount.Equal(decimal.RequireFromString("1500.25")))
			return &ports.TopupIntent{
				EntryID: entryID, PaymentID: "pi_1", ClientSecret: "pi_1_secret",
				AmountMinor: 150025, Currency: "KZT",
			}, nil
		})

	w := api.do(http.MethodPost, "/api/v1/balance/topup", buyerToken, map[string]string{"amount": "1500.25"})

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "pi_1", data["payment_id"])
	assert.Equal(t, "1500.25", data["amount"])
}

func TestTopup_GatewayDown(t *testing.T) {
	api := newTestAPI(t)
	api.balance.EXPECT().CreateTopup(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrGatewayUnavailable(errors.New("breaker open")))

	w := api.do(http.MethodPost, "/api/v1/balance/topup", buyerToken, map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestManualOperation_PassesIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	userID := uuid.New()
	api.balance.EXPECT().ManualOperation(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.ManualOperationRequest) (*domain.LedgerEntry, error) {
			assert.Equal(t, moderatorID, req.Operator.UserID)
			assert.Equal(t, userID, req.UserID)
			assert.Equal(t, domain.KindAdjustment, req.Kind)
			assert.Equal(t, "op-42", req.IdempotencyKey)
			assert.True(t, req.Amount.Equal(decimal.NewFromInt(-25)))
			return &domain.LedgerEntry{
				ID: uuid.New(), Kind: domain.KindAdjustment, Amount: -2500,
				Status: domain.EntryCompleted, CreatedAt: time.Now(),
			}, nil
		})

	w := api.do(http.MethodPost, "/api/v1/balance/operations", moderatorToken, map[string]interface{}{
		"user_id": userID.String(),
		"amount":  "-25",
		"kind":    "adjustment",
	}, "Idempotency-Key", "op-42")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "-25.00", decodeData(t, w)["amount"])
}

func TestManualOperation_ForbiddenForUsers(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/balance/operations", buyerToken, map[string]interface{}{
		"user_id": uuid.NewString(),
		"amount":  "10",
		"kind":    "topup",
	}, "Idempotency-Key", "op-1")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestChargeFee_Validation(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/balance/fees", moderatorToken, map[string]interface{}{
		"user_id": uuid.NewString(),
		"amount":  "-5",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidAmount, errorCode(t, w))

	w = api.do(http.MethodPost, "/api/v1/balance/fees", moderatorToken, map[string]interface{}{
		"user_id":    uuid.NewString(),
		"product_id": "listing-7",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChargeFee_DefaultsToConfiguredFee(t *testing.T) {
	api := newTestAPI(t)
	userID, productID := uuid.New(), uuid.New()
	api.balance.EXPECT().ChargeFee(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.FeeRequest) (*domain.LedgerEntry, error) {
			assert.True(t, req.Amount.IsZero())
			require.NotNil(t, req.ProductID)
			assert.Equal(t, productID, *req.ProductID)
			assert.Equal(t, 14, req.BoostDays)
			return &domain.LedgerEntry{ID: uuid.New(), Kind: domain.KindFee, Amount: -50000, CreatedAt: time.Now()}, nil
		})

	w := api.do(http.MethodPost, "/api/v1/balance/fees", moderatorToken, map[string]interface{}{
		"user_id":    userID.String(),
		"product_id": productID.String(),
		"boost_days": 14,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

// --- Webhook, health, metrics ---

func TestWebhook_PassesRawBodyAndSignature(t *testing.T) {
	api := newTestAPI(t)
	payload := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"payment_id":"pi_1"}}`
	entryID := uuid.New()

	api.reconciler.EXPECT().
		HandleNotification(gomock.Any(), []byte(payload), "t=1,v1=abc").
		Return(&domain.ReconcileResult{Outcome: domain.OutcomeApplied, PaymentID: "pi_1", EntryID: &entryID}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(payload))
	req.Header.Set(HeaderGatewaySignature, "t=1,v1=abc")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", decodeData(t, w)["outcome"])
}

func TestWebhook_BadSignature(t *testing.T) {
	api := newTestAPI(t)
	api.reconciler.EXPECT().HandleNotification(gomock.Any(), gomock.Any(), "").
		Return(nil, apperror.ErrInvalidSignature())

	w := api.do(http.MethodPost, "/api/v1/payments/webhook", "", map[string]string{"id": "evt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeInvalidSignature, errorCode(t, w))
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t, stubChecker{name: "postgres"}, stubChecker{name: "redis"})
	w := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	api = newTestAPI(t, stubChecker{name: "postgres"}, stubChecker{name: "redis", optional: true, err: errors.New("connection refused")})
	w = api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), "connection refused")

	api = newTestAPI(t, stubChecker{name: "postgres", err: errors.New("schema not migrated")}, stubChecker{name: "redis", optional: true})
	w = api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, w.Body.String(), "schema not migrated")
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(http.MethodGet, "/health", "", nil)

	w := api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `escrow_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestResponses_CarryRequestID(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodGet, "/api/v1/deals/not-a-uuid", buyerToken, nil, "X-Request-ID", "req-123")

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), `"request_id":"req-123"`)
}
