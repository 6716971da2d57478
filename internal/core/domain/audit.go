package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionDealCreate      AuditAction = "DEAL_CREATE"
	AuditActionDealConfirm     AuditAction = "DEAL_CONFIRM"
	AuditActionRefundRequest   AuditAction = "REFUND_REQUEST"
	AuditActionRefundApprove   AuditAction = "REFUND_APPROVE"
	AuditActionRefundReject    AuditAction = "REFUND_REJECT"
	AuditActionTopupIntent     AuditAction = "TOPUP_INTENT"
	AuditActionManualOperation AuditAction = "MANUAL_OPERATION"
	AuditActionFeeCharge       AuditAction = "FEE_CHARGE"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	ActorRole    Role        `json:"actor_role,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
