package service

import (
	"context"
	"encoding/json"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ReconcilerServiceImpl implements ports.ReconcilerService: it turns
// payment processor notifications into final ledger state exactly once.
type ReconcilerServiceImpl struct {
	transfers     ports.TransferService
	ledger        ports.LedgerRepository
	sigSvc        ports.SignatureService
	webhookSecret string
	cache         ports.IdempotencyCache
	notifier      ports.NotificationService
	metrics       *metrics.Metrics
	log           zerolog.Logger
	now           func() time.Time
}

// NewReconcilerService creates a new ReconcilerServiceImpl.
func NewReconcilerService(
	transfers ports.TransferService,
	ledger ports.LedgerRepository,
	sigSvc ports.SignatureService,
	webhookSecret string,
	cache ports.IdempotencyCache,
	notifier ports.NotificationService,
	m *metrics.Metrics,
	log zerolog.Logger,
) *ReconcilerServiceImpl {
	return &ReconcilerServiceImpl{
		transfers:     transfers,
		ledger:        ledger,
		sigSvc:        sigSvc,
		webhookSecret: webhookSecret,
		cache:         cache,
		notifier:      notifier,
		metrics:       m,
		log:           log,
		now:           time.Now,
	}
}

// HandleNotification verifies and applies one processor event. Replays of
// an already final payment report OutcomeDuplicate and change nothing.
func (s *ReconcilerServiceImpl) HandleNotification(ctx context.Context, payload []byte, signatureHeader string) (*domain.ReconcileResult, error) {
	if err := s.sigSvc.VerifyGatewayHeader(s.webhookSecret, payload, signatureHeader, s.now()); err != nil {
		s.log.Warn().Err(err).Msg("gateway notification rejected: bad signature")
		return nil, err
	}

	var ev domain.GatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, apperror.Validation("malformed gateway event")
	}
	paymentID := ev.Data.PaymentID

	if ev.Type != domain.GatewayPaymentSucceeded && ev.Type != domain.GatewayPaymentFailed {
		s.log.Debug().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("gateway event type ignored")
		return s.done(&domain.ReconcileResult{Outcome: domain.OutcomeIgnored, PaymentID: paymentID}), nil
	}
	if paymentID == "" {
		return nil, apperror.Validation("gateway event has no payment_id")
	}

	cacheKey := domain.BuildGatewayEventKey(paymentID)
	cached, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", cacheKey).Msg("redis check failed, falling through to DB")
	}
	if cached != nil {
		return s.done(&domain.ReconcileResult{Outcome: domain.OutcomeDuplicate, PaymentID: paymentID}), nil
	}

	result := &domain.ReconcileResult{PaymentID: paymentID}
	var entry *domain.LedgerEntry

	err = s.transfers.Within(ctx, "gateway.reconcile", func(ctx context.Context, tx pgx.Tx) error {
		e, err := s.ledger.FindBySourceForUpdate(ctx, tx, domain.SourceExternalGateway, paymentID)
		if err != nil {
			return err
		}
		if e == nil {
			result.Outcome = domain.OutcomeIgnored
			return nil
		}
		result.EntryID = &e.ID
		if e.Status != domain.EntryPending {
			result.Outcome = domain.OutcomeDuplicate
			return nil
		}

		t := &domain.Transfer{
			Operation: "gateway.reconcile",
			Currency:  e.Currency,
			External:  true,
		}
		if ev.Type == domain.GatewayPaymentSucceeded {
			t.Legs = []domain.Leg{{AccountID: e.AccountID, Delta: e.Amount}}
			t.Transitions = []domain.StatusChange{{Entry: e, To: domain.EntryCompleted}}
			result.Outcome = domain.OutcomeApplied
		} else {
			t.Transitions = []domain.StatusChange{{Entry: e, To: domain.EntryFailed}}
			result.Outcome = domain.OutcomeFailed
		}
		entry = e
		return s.transfers.Apply(ctx, tx, t)
	})
	if err != nil {
		s.log.Error().Err(err).Str("payment_id", paymentID).Msg("gateway notification failed")
		return nil, err
	}

	switch result.Outcome {
	case domain.OutcomeIgnored:
		s.log.Warn().Str("payment_id", paymentID).Str("event_id", ev.ID).Msg("gateway event for unknown payment ignored")
	case domain.OutcomeApplied, domain.OutcomeFailed:
		s.remember(ctx, cacheKey, result)
		evType := domain.EventTopupCompleted
		if result.Outcome == domain.OutcomeFailed {
			evType = domain.EventTopupFailed
		}
		s.notifier.Notify(ctx, domain.NewTopupEvent(evType, entry))
		s.log.Info().
			Str("payment_id", paymentID).
			Str("account_id", entry.AccountID.String()).
			Str("outcome", string(result.Outcome)).
			Int64("amount", entry.Amount).
			Msg("gateway payment reconciled")
	case domain.OutcomeDuplicate:
		s.remember(ctx, cacheKey, result)
	}
	return s.done(result), nil
}

func (s *ReconcilerServiceImpl) done(r *domain.ReconcileResult) *domain.ReconcileResult {
	s.metrics.IncrGatewayEvent(string(r.Outcome))
	return r
}

func (s *ReconcilerServiceImpl) remember(ctx context.Context, key string, r *domain.ReconcileResult) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache gateway outcome in redis")
	}
}
