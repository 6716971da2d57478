package dto

import (
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/pkg/money"

	"github.com/shopspring/decimal"
)

// CreateDealRequest is the request body for a "buy now" action.
type CreateDealRequest struct {
	ProductID      string `json:"product_id" binding:"required,uuid"`
	DeliveryMethod string `json:"delivery_method" binding:"required,delivery_method"`
	Address        string `json:"address,omitempty" binding:"max=300"`
	Note           string `json:"note,omitempty" binding:"max=500"`
}

// TopupRequest is the request body for a gateway topup.
// Amount is in major units, e.g. "1500.00".
type TopupRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ManualOperationRequest is the request body for a privileged balance correction.
type ManualOperationRequest struct {
	UserID      string          `json:"user_id" binding:"required,uuid"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind" binding:"required,entry_kind"`
	Description string          `json:"description,omitempty" binding:"max=255"`
}

// FeeRequest is the request body for charging a listing boost fee.
type FeeRequest struct {
	UserID      string           `json:"user_id" binding:"required,uuid"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Description string           `json:"description,omitempty" binding:"max=255"`
	ProductID   *string          `json:"product_id,omitempty" binding:"omitempty,uuid"`
	BoostDays   int              `json:"boost_days,omitempty" binding:"gte=0,lte=365"`
}

// ProductResponse is the product snapshot embedded in a deal.
type ProductResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

// DeliveryResponse describes hand-over of a deal's item.
type DeliveryResponse struct {
	Method  string `json:"method"`
	Address string `json:"address,omitempty"`
	Note    string `json:"note,omitempty"`
}

// DealResponse is the response body for a single deal.
type DealResponse struct {
	ID        string           `json:"id"`
	Product   ProductResponse  `json:"product"`
	BuyerID   string           `json:"buyer_id"`
	SellerID  string           `json:"seller_id"`
	Amount    string           `json:"amount"`
	Currency  string           `json:"currency"`
	Delivery  DeliveryResponse `json:"delivery"`
	Status    string           `json:"status"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

// DealStatResponse is one row of the deal statistics.
type DealStatResponse struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Amount string `json:"amount"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	UpdatedAt string `json:"updated_at"`
}

// EntryResponse is one ledger entry as shown to its owner.
type EntryResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	Source      string          `json:"source"`
	SourceID    *string         `json:"source_id,omitempty"`
	DealID      *string         `json:"deal_id,omitempty"`
	Metadata    domain.Metadata `json:"metadata,omitempty"`
	CreatedAt   string          `json:"created_at"`
	CompletedAt *string         `json:"completed_at,omitempty"`
}

// TopupResponse carries what the client needs to finish paying with the processor.
type TopupResponse struct {
	EntryID      string `json:"entry_id"`
	PaymentID    string `json:"payment_id"`
	ClientSecret string `json:"client_secret"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

// NewDealResponse maps a domain deal to its wire form.
func NewDealResponse(d *domain.Deal) DealResponse {
	return DealResponse{
		ID: d.ID.String(),
		Product: ProductResponse{
			ID:       d.Product.ID.String(),
			Title:    d.Product.Title,
			Price:    d.Product.Price.StringFixed(2),
			ImageURL: d.Product.ImageURL,
		},
		BuyerID:  d.BuyerID.String(),
		SellerID: d.SellerID.String(),
		Amount:   d.Amount.StringFixed(2),
		Currency: d.Currency,
		Delivery: DeliveryResponse{
			Method:  string(d.Delivery.Method),
			Address: d.Delivery.Address,
			Note:    d.Delivery.Note,
		},
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
		UpdatedAt: d.UpdatedAt.Format(time.RFC3339),
	}
}

// NewDealResponses maps a page of deals.
func NewDealResponses(deals []domain.Deal) []DealResponse {
	items := make([]DealResponse, 0, len(deals))
	for i := range deals {
		items = append(items, NewDealResponse(&deals[i]))
	}
	return items
}

// NewEntryResponse maps a ledger entry, converting minor units back to major.
func NewEntryResponse(e *domain.LedgerEntry) EntryResponse {
	resp := EntryResponse{
		ID:          e.ID.String(),
		Kind:        string(e.Kind),
		Amount:      money.FromMinor(e.Amount).StringFixed(2),
		Currency:    e.Currency,
		Status:      string(e.Status),
		Description: e.Description,
		Source:      string(e.Source),
		SourceID:    e.SourceID,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.DealID != nil {
		s := e.DealID.String()
		resp.DealID = &s
	}
	if e.CompletedAt != nil {
		s := e.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// NewBalanceResponse maps an account to its balance view.
func NewBalanceResponse(a *domain.Account) BalanceResponse {
	return BalanceResponse{
		AccountID: a.ID.String(),
		Balance:   money.FromMinor(a.Balance).StringFixed(2),
		Currency:  a.Currency,
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
}
