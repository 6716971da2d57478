package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealStatus is the lifecycle state of an escrowed deal.
type DealStatus string

const (
	DealPending         DealStatus = "pending"
	DealReceived        DealStatus = "received"
	DealRefundRequested DealStatus = "refund_requested"
	DealRefunded        DealStatus = "refunded"
	DealCancelled       DealStatus = "cancelled" // reserved, no transition leads here yet
)

// Valid reports whether s is a known status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealPending, DealReceived, DealRefundRequested, DealRefunded, DealCancelled:
		return true
	}
	return false
}

// DealEvent names a transition of the deal state machine.
type DealEvent string

const (
	EventConfirmReceipt DealEvent = "confirm_receipt"
	EventRequestRefund  DealEvent = "request_refund"
	EventApproveRefund  DealEvent = "approve_refund"
	EventRejectRefund   DealEvent = "reject_refund"
)

type dealTransition struct {
	from DealStatus
	to   DealStatus
}

var dealTransitions = map[DealEvent]dealTransition{
	EventConfirmReceipt: {DealPending, DealReceived},
	EventRequestRefund:  {DealReceived, DealRefundRequested},
	EventApproveRefund:  {DealRefundRequested, DealRefunded},
	EventRejectRefund:   {DealRefundRequested, DealReceived},
}

// Transition returns the (from, to) pair for event, and whether the
// deal's current status allows it.
func (d *Deal) Transition(ev DealEvent) (from, to DealStatus, ok bool) {
	t, known := dealTransitions[ev]
	if !known {
		return d.Status, d.Status, false
	}
	return t.from, t.to, d.Status == t.from
}

// DeliveryMethod is how the item reaches the buyer.
type DeliveryMethod string

const (
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryShipping DeliveryMethod = "delivery"
)

// Delivery describes hand-over of the traded item.
type Delivery struct {
	Method  DeliveryMethod `json:"method"`
	Address string         `json:"address,omitempty"`
	Note    string         `json:"note,omitempty"`
}

const (
	maxAddressLen = 300
	maxNoteLen    = 500
)

var (
	ErrInvalidDeliveryMethod = errors.New("delivery method must be pickup or delivery")
	ErrAddressRequired       = errors.New("address is required for delivery")
	ErrDeliveryTooLong       = errors.New("delivery address or note too long")
	ErrSelfPurchase          = errors.New("buyer cannot purchase own listing")
	ErrNonPositivePrice      = errors.New("product price must be positive")
)

// Normalize trims fields, drops the address for pickup and validates the rest.
func (d Delivery) Normalize() (Delivery, error) {
	d.Address = strings.TrimSpace(d.Address)
	d.Note = strings.TrimSpace(d.Note)

	switch d.Method {
	case DeliveryPickup:
		d.Address = ""
	case DeliveryShipping:
		if d.Address == "" {
			return d, ErrAddressRequired
		}
	default:
		return d, ErrInvalidDeliveryMethod
	}
	if len(d.Address) > maxAddressLen || len(d.Note) > maxNoteLen {
		return d, ErrDeliveryTooLong
	}
	return d, nil
}

// ProductSnapshot is the traded item as it looked when the deal was created.
type ProductSnapshot struct {
	ID       uuid.UUID       `json:"id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	SellerID uuid.UUID       `json:"seller_id"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Deal is one escrowed purchase. Deals are never deleted.
type Deal struct {
	ID        uuid.UUID       `json:"id"`
	Product   ProductSnapshot `json:"product"`
	BuyerID   uuid.UUID       `json:"buyer_id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Amount    decimal.Decimal `json:"amount"` // major units
	Currency  string          `json:"currency"`
	Delivery  Delivery        `json:"delivery"`
	Status    DealStatus      `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewDeal builds a pending deal for buyer from the product snapshot.
func NewDeal(buyerID uuid.UUID, product ProductSnapshot, delivery Delivery) (*Deal, error) {
	if buyerID == product.SellerID {
		return nil, ErrSelfPurchase
	}
	if !product.Price.IsPositive() {
		return nil, ErrNonPositivePrice
	}
	delivery, err := delivery.Normalize()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Deal{
		ID:        uuid.New(),
		Product:   product,
		BuyerID:   buyerID,
		SellerID:  product.SellerID,
		Amount:    product.Price,
		Currency:  product.Currency,
		Delivery:  delivery,
		Status:    DealPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsParticipant returns true for the deal's buyer or seller.
func (d *Deal) IsParticipant(userID uuid.UUID) bool {
	return userID == d.BuyerID || userID == d.SellerID
}

// DealStat aggregates deals of one status.
type DealStat struct {
	Status DealStatus      `json:"status"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}
