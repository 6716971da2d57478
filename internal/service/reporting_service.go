package service

import (
	"context"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	accounts        ports.AccountRepository
	ledger          ports.LedgerRepository
	defaultCurrency string
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	accounts ports.AccountRepository,
	ledger ports.LedgerRepository,
	defaultCurrency string,
) ports.ReportingService {
	return &reportingService{
		accounts:        accounts,
		ledger:          ledger,
		defaultCurrency: defaultCurrency,
	}
}

// GetBalance returns the user's account, creating an empty one on first read.
func (s *reportingService) GetBalance(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	if currency == "" {
		currency = s.defaultCurrency
	}
	if !money.ValidCurrency(currency) {
		return nil, apperror.Validation(money.ErrInvalidCurrency.Error())
	}

	acc, err := s.accounts.GetOrCreate(ctx, nil, userID, currency)
	if err != nil {
		return nil, asAppError("get account", err)
	}
	return acc, nil
}

// ListHistory returns the owner's ledger entries, newest first.
func (s *reportingService) ListHistory(ctx context.Context, filter ports.HistoryFilter) ([]domain.LedgerEntry, int64, error) {
	if filter.Kind != nil && !filter.Kind.Valid() {
		return nil, 0, apperror.Validation("invalid entry kind")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, apperror.Validation("invalid entry status")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, 0, apperror.Validation("from must not be after to")
	}
	if filter.Currency == "" {
		filter.Currency = s.defaultCurrency
	}
	filter.Pagination = filter.Pagination.Normalize()

	entries, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, 0, asAppError("list history", err)
	}
	return entries, total, nil
}
