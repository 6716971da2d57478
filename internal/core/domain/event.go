package domain

import (
	"time"

	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
)

// EventType is the routing key of a published engine event.
type EventType string

const (
	EventDealCreated         EventType = "deal.created"
	EventDealReceived        EventType = "deal.received"
	EventDealRefundRequested EventType = "deal.refund_requested"
	EventDealRefunded        EventType = "deal.refunded"
	EventDealRefundRejected  EventType = "deal.refund_rejected"
	EventTopupCompleted      EventType = "balance.topup_completed"
	EventTopupFailed         EventType = "balance.topup_failed"
)

// Event is emitted after a committed state change, for chat and
// notification consumers. Delivery is best-effort.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	DealID     *uuid.UUID        `json:"deal_id,omitempty"`
	UserIDs    []uuid.UUID       `json:"user_ids"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Signature  string            `json:"signature,omitempty"`
}

// NewDealEvent builds the event for a deal that just changed status.
func NewDealEvent(t EventType, d *Deal) *Event {
	id := d.ID
	return &Event{
		ID:      uuid.New(),
		Type:    t,
		DealID:  &id,
		UserIDs: []uuid.UUID{d.BuyerID, d.SellerID},
		Attributes: map[string]string{
			"status":     string(d.Status),
			"amount":     d.Amount.StringFixed(2),
			"currency":   d.Currency,
			"product_id": d.Product.ID.String(),
		},
		OccurredAt: time.Now().UTC(),
	}
}

// NewTopupEvent builds the event for a gateway topup that reached a final status.
func NewTopupEvent(t EventType, e *LedgerEntry) *Event {
	attrs := map[string]string{
		"entry_id":   e.ID.String(),
		"amount":     money.FromMinor(e.Amount).StringFixed(2),
		"currency":   e.Currency,
		"account_id": e.AccountID.String(),
	}
	if e.SourceID != nil {
		attrs["payment_id"] = *e.SourceID
	}
	return &Event{
		ID:         uuid.New(),
		Type:       t,
		UserIDs:    []uuid.UUID{e.OwnerID},
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}
