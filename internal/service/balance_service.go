package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// BalanceConfig holds the platform settings balance operations depend on.
type BalanceConfig struct {
	Currency        string
	PlatformOwnerID uuid.UUID
	BoostFee        decimal.Decimal
	BoostDays       int
}

// BalanceServiceImpl implements ports.BalanceService.
type BalanceServiceImpl struct {
	transfers  ports.TransferService
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	gateway    ports.PaymentGateway
	idempCache ports.IdempotencyCache
	cfg        BalanceConfig
	log        zerolog.Logger
}

// NewBalanceService creates a new BalanceServiceImpl.
func NewBalanceService(
	transfers ports.TransferService,
	accounts ports.AccountRepository,
	ledger ports.LedgerRepository,
	gateway ports.PaymentGateway,
	idempCache ports.IdempotencyCache,
	cfg BalanceConfig,
	log zerolog.Logger,
) *BalanceServiceImpl {
	return &BalanceServiceImpl{
		transfers:  transfers,
		accounts:   accounts,
		ledger:     ledger,
		gateway:    gateway,
		idempCache: idempCache,
		cfg:        cfg,
		log:        log,
	}
}

// CreateTopup asks the processor for a payment intent and records a pending
// topup entry keyed by the intent id. The balance changes only when the
// processor confirms the payment.
func (s *BalanceServiceImpl) CreateTopup(ctx context.Context, req ports.TopupRequest) (*ports.TopupIntent, error) {
	amount, err := money.PositiveMinor(req.Amount)
	if err != nil {
		return nil, apperror.ErrInvalidAmount()
	}

	acc, err := s.accounts.GetOrCreate(ctx, nil, req.UserID, s.cfg.Currency)
	if err != nil {
		return nil, asAppError("get account", err)
	}

	// The processor is called before any transaction is opened.
	intent, err := s.gateway.CreatePaymentIntent(ctx, ports.PaymentIntentRequest{
		AmountMinor: amount,
		Currency:    acc.Currency,
		Metadata: map[string]string{
			"user_id":    req.UserID.String(),
			"account_id": acc.ID.String(),
		},
		IdempotencyKey: "topup:" + uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	entry := domain.NewLedgerEntry(domain.EntryDraft{
		Account:     acc,
		Kind:        domain.KindTopup,
		Amount:      amount,
		Status:      domain.EntryPending,
		Description: "Balance topup",
		Source:      domain.SourceExternalGateway,
		SourceID:    intent.ID,
		Metadata: domain.Metadata{
			domain.MetaKeyPaymentIntentID: domain.StringValue(intent.ID),
			domain.MetaKeyUserID:          domain.IDValue(req.UserID),
		},
	})

	err = s.transfers.Within(ctx, "balance.topup_intent", func(ctx context.Context, tx pgx.Tx) error {
		return s.transfers.Apply(ctx, tx, &domain.Transfer{
			Operation: "balance.topup_intent",
			Currency:  acc.Currency,
			External:  true,
			Entries:   []*domain.LedgerEntry{entry},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", req.UserID.String()).
		Str("payment_id", intent.ID).
		Int64("amount", amount).
		Msg("topup intent created")

	return &ports.TopupIntent{
		EntryID:      entry.ID,
		PaymentID:    intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  amount,
		Currency:     acc.Currency,
	}, nil
}

// ManualOperation applies a privileged correction exactly once per
// (operator, idempotency key).
func (s *BalanceServiceImpl) ManualOperation(ctx context.Context, req ports.ManualOperationRequest) (*domain.LedgerEntry, error) {
	if !req.Operator.Privileged() {
		return nil, apperror.ErrForbidden("Moderator role required")
	}
	if req.IdempotencyKey == "" {
		return nil, apperror.Validation("Idempotency-Key is required")
	}
	delta, err := manualDelta(req.Kind, req.Amount)
	if err != nil {
		return nil, err
	}

	idempKey := domain.BuildManualOperationKey(req.Operator.UserID, req.IdempotencyKey)

	// Layer 1: Redis idempotency check
	cached, err := s.idempCache.Get(ctx, idempKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		var entry domain.LedgerEntry
		if err := json.Unmarshal(cached, &entry); err == nil {
			return &entry, nil
		}
		s.log.Warn().Str("key", idempKey).Msg("corrupt idempotency cache entry, falling through to DB")
	}

	// Layer 2: the ledger's unique idempotency key
	existing, err := s.ledger.FindByIdempotencyKey(ctx, idempKey)
	if err != nil {
		return nil, asAppError("db idempotency check", err)
	}
	if existing != nil {
		s.cacheEntry(ctx, idempKey, existing)
		return existing, nil
	}

	description := req.Description
	if description == "" {
		description = "Manual " + string(req.Kind)
	}

	var entry *domain.LedgerEntry
	err = s.transfers.Within(ctx, "balance.manual", func(ctx context.Context, tx pgx.Tx) error {
		acc, err := s.accounts.GetOrCreate(ctx, tx, req.UserID, s.cfg.Currency)
		if err != nil {
			return err
		}
		entry = domain.NewLedgerEntry(domain.EntryDraft{
			Account:     acc,
			Kind:        req.Kind,
			Amount:      delta,
			Status:      domain.EntryCompleted,
			Description: description,
			Source:      domain.SourceManual,
			Metadata: domain.Metadata{
				domain.MetaKeyOperator: domain.IDValue(req.Operator.UserID),
			},
			IdempotencyKey: idempKey,
		})
		return s.transfers.Apply(ctx, tx, &domain.Transfer{
			Operation: "balance.manual",
			Currency:  acc.Currency,
			External:  true,
			Legs:      []domain.Leg{{AccountID: acc.ID, Delta: delta}},
			Entries:   []*domain.LedgerEntry{entry},
		})
	})
	if apperror.HasCode(err, apperror.CodeDuplicateRequest) {
		// A concurrent request with the same key committed first.
		existing, findErr := s.ledger.FindByIdempotencyKey(ctx, idempKey)
		if findErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}

	s.cacheEntry(ctx, idempKey, entry)
	s.log.Info().
		Str("operator_id", req.Operator.UserID.String()).
		Str("user_id", req.UserID.String()).
		Str("kind", string(req.Kind)).
		Int64("amount", delta).
		Msg("manual balance operation applied")
	return entry, nil
}

// ChargeFee moves a platform fee from the user to the platform account.
func (s *BalanceServiceImpl) ChargeFee(ctx context.Context, req ports.FeeRequest) (*domain.LedgerEntry, error) {
	if !req.Operator.Privileged() {
		return nil, apperror.ErrForbidden("Moderator role required")
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = s.cfg.BoostFee
	}
	fee, err := money.PositiveMinor(amount)
	if err != nil {
		return nil, apperror.ErrInvalidAmount()
	}
	days := req.BoostDays
	if days == 0 {
		days = s.cfg.BoostDays
	}
	if days < 0 {
		return nil, apperror.Validation("boost_days must be positive")
	}
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Listing boost for %d days", days)
	}

	meta := domain.Metadata{
		domain.MetaKeyBoostDays: domain.NumberValue(int64(days)),
		domain.MetaKeyOperator:  domain.IDValue(req.Operator.UserID),
	}
	if req.ProductID != nil {
		meta[domain.MetaKeyProductID] = domain.IDValue(*req.ProductID)
	}

	var charged *domain.LedgerEntry
	err = s.transfers.Within(ctx, "balance.fee", func(ctx context.Context, tx pgx.Tx) error {
		user, platform, err := accountPair(ctx, s.accounts, tx, req.UserID, s.cfg.PlatformOwnerID, s.cfg.Currency)
		if err != nil {
			return err
		}
		charged = domain.NewLedgerEntry(domain.EntryDraft{
			Account: user, Kind: domain.KindFee, Amount: -fee,
			Description: description, Source: domain.SourceSystem, Metadata: meta,
		})
		income := domain.NewLedgerEntry(domain.EntryDraft{
			Account: platform, Kind: domain.KindFee, Amount: fee,
			Description: "Fee income: " + description, Source: domain.SourceSystem, Metadata: meta,
		})
		return s.transfers.Apply(ctx, tx, &domain.Transfer{
			Operation: "balance.fee",
			Currency:  s.cfg.Currency,
			Legs: []domain.Leg{
				{AccountID: user.ID, Delta: -fee},
				{AccountID: platform.ID, Delta: fee},
			},
			Entries: []*domain.LedgerEntry{charged, income},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", req.UserID.String()).
		Int64("fee", fee).
		Int("boost_days", days).
		Msg("fee charged")
	return charged, nil
}

func (s *BalanceServiceImpl) cacheEntry(ctx context.Context, key string, entry *domain.LedgerEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, key, data, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// manualDelta turns a kind and an unsigned amount into a signed delta.
// Adjustments carry their own sign.
func manualDelta(kind domain.EntryKind, amount decimal.Decimal) (int64, error) {
	if !kind.Valid() {
		return 0, apperror.Validation("unknown operation kind")
	}
	minor, err := money.ToMinor(amount)
	if err != nil || minor == 0 {
		return 0, apperror.ErrInvalidAmount()
	}
	switch kind {
	case domain.KindAdjustment:
		return minor, nil
	case domain.KindTopup, domain.KindRefund:
		if minor < 0 {
			return 0, apperror.ErrInvalidAmount()
		}
		return minor, nil
	default:
		if minor < 0 {
			return 0, apperror.ErrInvalidAmount()
		}
		return -minor, nil
	}
}
