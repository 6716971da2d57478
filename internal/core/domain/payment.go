package domain

import "github.com/google/uuid"

// GatewayEventType is the type of an inbound payment processor event.
type GatewayEventType string

const (
	GatewayPaymentSucceeded GatewayEventType = "payment_intent.succeeded"
	GatewayPaymentFailed    GatewayEventType = "payment_intent.payment_failed"
)

// GatewayEvent is a verified notification from the payment processor.
type GatewayEvent struct {
	ID   string           `json:"id"`
	Type GatewayEventType `json:"type"`
	Data GatewayEventData `json:"data"`
}

// GatewayEventData identifies the payment intent an event refers to.
type GatewayEventData struct {
	PaymentID string            `json:"payment_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PaymentIntent is the processor's handle on a pending charge.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// ReconcileOutcome tells the caller what a notification did.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeFailed    ReconcileOutcome = "failed"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeIgnored   ReconcileOutcome = "ignored"
)

// ReconcileResult is returned for every authentic notification.
type ReconcileResult struct {
	Outcome   ReconcileOutcome `json:"outcome"`
	PaymentID string           `json:"payment_id"`
	EntryID   *uuid.UUID       `json:"entry_id,omitempty"`
}
