package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditLog_DealActionRecorded(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	actor := uuid.New()
	dealID := uuid.NewString()
	done := make(chan struct{})
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionRefundApprove, log.Action)
			assert.Equal(t, "deal", log.ResourceType)
			assert.Equal(t, dealID, log.ResourceID)
			if assert.NotNil(t, log.ActorID) {
				assert.Equal(t, actor, *log.ActorID)
			}
			assert.Equal(t, domain.RoleModerator, log.ActorRole)
			assert.Contains(t, log.Details, `"status":200`)
			close(done)
		},
	)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/deals/:id/approve-refund", func(c *gin.Context) {
		c.Set(CtxUserID, actor)
		c.Set(CtxRole, domain.RoleModerator)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/deals/"+dealID+"/approve-refund", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit not called")
	}
}

func TestAuditLog_HandlerSuppliedResourceID(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	created := uuid.NewString()
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, log *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionDealCreate, log.Action)
		assert.Equal(t, created, log.ResourceID)
	})

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/deals", func(c *gin.Context) {
		c.Set(CtxAuditResourceID, created)
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/deals", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAuditLog_SkipsGET(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)
	// No expectations: Log must not be called for GET.

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.GET("/api/v1/balance", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"balance": "100.00"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditLog_SkipsFailedRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/balance/topup", func(c *gin.Context) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "bad"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/balance/topup", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestMapRouteToAction(t *testing.T) {
	tests := []struct {
		route    string
		action   domain.AuditAction
		resource string
	}{
		{"/api/v1/deals", domain.AuditActionDealCreate, "deal"},
		{"/api/v1/deals/:id/confirm-receipt", domain.AuditActionDealConfirm, "deal"},
		{"/api/v1/deals/:id/request-refund", domain.AuditActionRefundRequest, "deal"},
		{"/api/v1/deals/:id/approve-refund", domain.AuditActionRefundApprove, "deal"},
		{"/api/v1/deals/:id/reject-refund", domain.AuditActionRefundReject, "deal"},
		{"/api/v1/balance/topup", domain.AuditActionTopupIntent, "ledger_entry"},
		{"/api/v1/balance/operations", domain.AuditActionManualOperation, "ledger_entry"},
		{"/api/v1/balance/fees", domain.AuditActionFeeCharge, "ledger_entry"},
		{"/api/v1/payments/webhook", "", ""},
	}

	for _, tc := range tests {
		action, resource := mapRouteToAction(tc.route)
		assert.Equal(t, tc.action, action, tc.route)
		assert.Equal(t, tc.resource, resource, tc.route)
	}
}
