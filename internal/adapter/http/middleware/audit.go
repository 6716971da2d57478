package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CtxAuditResourceID lets a handler name the resource it created.
const CtxAuditResourceID = "audit_resource_id"

// AuditLog records successful balance-changing requests.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		if c.Request.Method != http.MethodPost {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath())
		if action == "" {
			return
		}

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   c.Param("id"),
			IPAddress:    c.ClientIP(),
			CreatedAt:    time.Now().UTC(),
		}
		if id := c.GetString(CtxAuditResourceID); id != "" {
			entry.ResourceID = id
		}
		if caller, ok := CallerFrom(c); ok {
			entry.ActorID = &caller.UserID
			entry.ActorRole = caller.Role
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(CtxRequestID),
		})
		entry.Details = string(details)

		auditSvc.Log(c.Request.Context(), entry)
	}
}

func mapRouteToAction(route string) (domain.AuditAction, string) {
	switch route {
	case "/api/v1/deals":
		return domain.AuditActionDealCreate, "deal"
	case "/api/v1/deals/:id/confirm-receipt":
		return domain.AuditActionDealConfirm, "deal"
	case "/api/v1/deals/:id/request-refund":
		return domain.AuditActionRefundRequest, "deal"
	case "/api/v1/deals/:id/approve-refund":
		return domain.AuditActionRefundApprove, "deal"
	case "/api/v1/deals/:id/reject-refund":
		return domain.AuditActionRefundReject, "deal"
	case "/api/v1/balance/topup":
		return domain.AuditActionTopupIntent, "ledger_entry"
	case "/api/v1/balance/operations":
		return domain.AuditActionManualOperation, "ledger_entry"
	case "/api/v1/balance/fees":
		return domain.AuditActionFeeCharge, "ledger_entry"
	}
	return "", ""
}
