package ports

import (
	"context"
	"time"

	"marketplace-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	// VerifyGatewayHeader checks a "t=<unix>,v1=<hex>" header against payload.
	VerifyGatewayHeader(secretKey string, payload []byte, header string, now time.Time) error
}

// TokenService handles JWT tokens issued by the user directory.
type TokenService interface {
	Generate(userID uuid.UUID, role domain.Role) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   domain.Role
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached value or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// PaymentGateway is the outbound boundary to the external payment processor.
// It must never be called with a database transaction open.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*domain.PaymentIntent, error)
}

// PaymentIntentRequest asks the processor for a pending charge.
type PaymentIntentRequest struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// EventPublisher delivers engine events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// --- Service Ports (Business Logic) ---

// TransferService is the escrow transfer protocol: the only path by which
// balances and ledger history change.
type TransferService interface {
	// Within runs fn in one database transaction, committing only if fn returns nil.
	Within(ctx context.Context, operation string, fn func(ctx context.Context, tx pgx.Tx) error) error
	// Apply locks, validates and writes every leg, entry and status change of t inside tx.
	Apply(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error
}

// DealService is the deal state machine.
type DealService interface {
	CreateDeal(ctx context.Context, req CreateDealRequest) (*domain.Deal, error)
	ConfirmReceipt(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)
	RequestRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)
	ApproveRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)
	RejectRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)
	GetDeal(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]domain.Deal, int64, error)
	ListRefundRequests(ctx context.Context, caller domain.Caller, page Pagination) ([]domain.Deal, int64, error)
	Stats(ctx context.Context, caller domain.Caller) ([]domain.DealStat, error)
}

// CreateDealRequest holds validated input for a "buy now" action.
type CreateDealRequest struct {
	BuyerID   uuid.UUID
	ProductID uuid.UUID
	Delivery  domain.Delivery
}

// BalanceService holds the balance-changing operations outside deals.
type BalanceService interface {
	CreateTopup(ctx context.Context, req TopupRequest) (*TopupIntent, error)
	ManualOperation(ctx context.Context, req ManualOperationRequest) (*domain.LedgerEntry, error)
	ChargeFee(ctx context.Context, req FeeRequest) (*domain.LedgerEntry, error)
}

// TopupRequest starts a gateway topup of Amount major units.
type TopupRequest struct {
	UserID uuid.UUID
	Amount decimal.Decimal
}

// TopupIntent is returned to the client to complete payment with the processor.
type TopupIntent struct {
	EntryID      uuid.UUID
	PaymentID    string
	ClientSecret string
	AmountMinor  int64
	Currency     string
}

// ManualOperationRequest is a privileged balance correction.
// Amount is in major units; adjustment accepts a signed amount, other
// kinds a positive one whose direction the kind decides.
type ManualOperationRequest struct {
	Operator       domain.Caller
	UserID         uuid.UUID
	Amount         decimal.Decimal
	Kind           domain.EntryKind
	Description    string
	IdempotencyKey string
}

// FeeRequest charges a platform fee, e.g. boosting a listing.
type FeeRequest struct {
	Operator    domain.Caller
	UserID      uuid.UUID
	Amount      decimal.Decimal // zero means the configured boost fee
	Description string
	ProductID   *uuid.UUID
	BoostDays   int
}

// ReportingService serves balance reads.
type ReportingService interface {
	GetBalance(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]domain.LedgerEntry, int64, error)
}

// ReconcilerService consumes payment processor notifications.
type ReconcilerService interface {
	HandleNotification(ctx context.Context, payload []byte, signatureHeader string) (*domain.ReconcileResult, error)
}

// NotificationService publishes engine events after commit.
type NotificationService interface {
	Notify(ctx context.Context, event *domain.Event)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
