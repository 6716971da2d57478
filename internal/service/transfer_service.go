package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// transferService implements ports.TransferService. It is the only code
// that writes account balances.
type transferService struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerRepository
	transactor ports.DBTransactor
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewTransferService creates the escrow transfer protocol.
func NewTransferService(
	accounts ports.AccountRepository,
	ledger ports.LedgerRepository,
	transactor ports.DBTransactor,
	m *metrics.Metrics,
	log zerolog.Logger,
) ports.TransferService {
	return &transferService{
		accounts:   accounts,
		ledger:     ledger,
		transactor: transactor,
		metrics:    m,
		log:        log,
	}
}

// Within runs fn in one transaction and commits only if fn returns nil.
func (s *transferService) Within(ctx context.Context, operation string, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordTransfer(operation, transferOutcome(err), time.Since(start))
	}()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return asAppError("begin tx", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, dbTx); err != nil {
		return asAppError(operation, err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return asAppError("commit tx", err)
	}
	return nil
}

// Apply validates t, locks every touched account in id order, rejects any
// negative resulting balance, then writes entries, status changes and
// balances with their audit hash.
func (s *transferService) Apply(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error {
	if err := t.Validate(); err != nil {
		var unbalanced *domain.UnbalancedError
		if errors.As(err, &unbalanced) {
			s.log.Error().Str("operation", t.Operation).Int64("net", unbalanced.Net).Msg("rejected unbalanced transfer")
			return apperror.ErrUnbalancedTransfer(unbalanced.Net)
		}
		s.log.Error().Err(err).Str("operation", t.Operation).Msg("rejected malformed transfer")
		return apperror.InternalError(fmt.Errorf("transfer %s: %w", t.Operation, err))
	}

	legs, err := t.SortedLegs()
	if err != nil {
		return apperror.InternalError(err)
	}

	type pending struct {
		acc     *domain.Account
		delta   int64
		balance int64
	}
	updates := make([]pending, 0, len(legs))

	for _, leg := range legs {
		acc, err := s.accounts.GetByIDForUpdate(ctx, tx, leg.AccountID)
		if err != nil {
			return asAppError("lock account", err)
		}
		if acc == nil {
			return apperror.ErrAccountNotFound()
		}
		if acc.Currency != t.Currency {
			return apperror.InternalError(fmt.Errorf("account %s is in %s, transfer in %s", acc.ID, acc.Currency, t.Currency))
		}

		balance, ok := addBalance(acc.Balance, leg.Delta)
		if !ok {
			return apperror.ErrInvalidAmount()
		}
		if balance < 0 {
			s.log.Info().
				Str("operation", t.Operation).
				Str("account_id", acc.ID.String()).
				Int64("balance", acc.Balance).
				Int64("delta", leg.Delta).
				Msg("transfer rejected: insufficient funds")
			return apperror.ErrInsufficientFunds()
		}
		updates = append(updates, pending{acc: acc, delta: leg.Delta, balance: balance})
	}

	for _, e := range t.Entries {
		if err := s.ledger.Append(ctx, tx, e); err != nil {
			return asAppError("append ledger entry", err)
		}
	}

	now := time.Now().UTC()
	for _, c := range t.Transitions {
		if err := s.ledger.TransitionStatus(ctx, tx, c.Entry.ID, c.To, now); err != nil {
			if apperror.HasCode(err, apperror.CodeInvalidLedgerTransition) {
				s.log.Error().Err(err).Str("entry_id", c.Entry.ID.String()).Msg("illegal ledger transition")
			}
			return asAppError("transition ledger entry", err)
		}
		c.Entry.Status = c.To
		c.Entry.CompletedAt = &now
	}

	for _, u := range updates {
		if u.delta == 0 {
			continue
		}
		hash := domain.NextAuditHash(u.acc.LastAuditHash, u.acc.ID, u.delta, u.balance, t.EntriesFor(u.acc.ID))
		if err := s.accounts.UpdateBalance(ctx, tx, u.acc.ID, u.balance, hash); err != nil {
			return asAppError("update balance", err)
		}
	}
	return nil
}

func addBalance(balance, delta int64) (int64, bool) {
	if (delta > 0 && balance > math.MaxInt64-delta) || (delta < 0 && balance < math.MinInt64-delta) {
		return 0, false
	}
	return balance + delta, true
}

// asAppError keeps typed errors and wraps everything else as SYS_001.
func asAppError(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

func transferOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeCommitted
	}
	if apperror.IsRetryable(err) {
		return metrics.OutcomeRetryable
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus < 500 {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeFailed
}

// dealEntry builds one completed internal entry of a deal movement.
func dealEntry(acc *domain.Account, d *domain.Deal, kind domain.EntryKind, amount int64, stage domain.DealStage, party, description string) *domain.LedgerEntry {
	dealID := d.ID
	return domain.NewLedgerEntry(domain.EntryDraft{
		Account:     acc,
		Kind:        kind,
		Amount:      amount,
		Status:      domain.EntryCompleted,
		Description: description,
		Source:      domain.SourceInternal,
		SourceID:    domain.DealSourceID(stage, d.ID, party),
		Metadata: domain.Metadata{
			domain.MetaKeyDealID:    domain.IDValue(d.ID),
			domain.MetaKeyProductID: domain.IDValue(d.Product.ID),
		},
		DealID: &dealID,
	})
}

// accountPair fetches (creating if needed) the debited and credited accounts.
func accountPair(ctx context.Context, accounts ports.AccountRepository, tx pgx.Tx, from, to uuid.UUID, currency string) (*domain.Account, *domain.Account, error) {
	src, err := accounts.GetOrCreate(ctx, tx, from, currency)
	if err != nil {
		return nil, nil, err
	}
	dst, err := accounts.GetOrCreate(ctx, tx, to, currency)
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}
