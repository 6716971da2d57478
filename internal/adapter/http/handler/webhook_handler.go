package handler

import (
	"io"

	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/response"

	"github.com/gin-gonic/gin"
)

// HeaderGatewaySignature carries the processor's "t=<unix>,v1=<hex>" signature.
const HeaderGatewaySignature = "Gateway-Signature"

// WebhookHandler receives payment processor notifications.
type WebhookHandler struct {
	reconciler ports.ReconcilerService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler ports.ReconcilerService) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Receive handles POST /api/v1/payments/webhook.
// The raw body is verified as sent, so it is read before any JSON decoding.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("unreadable request body"))
		return
	}

	result, err := h.reconciler.HandleNotification(c.Request.Context(), payload, c.GetHeader(HeaderGatewaySignature))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
