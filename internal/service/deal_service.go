package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"
	"marketplace-escrow/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// DealServiceImpl implements ports.DealService: the deal state machine on
// top of the escrow transfer protocol.
type DealServiceImpl struct {
	transfers ports.TransferService
	deals     ports.DealRepository
	accounts  ports.AccountRepository
	catalog   ports.ProductCatalog
	notifier  ports.NotificationService
	escrowID  uuid.UUID
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewDealService creates a DealServiceImpl. escrowOwnerID owns the platform
// escrow account that holds buyer funds until release or refund.
func NewDealService(
	transfers ports.TransferService,
	deals ports.DealRepository,
	accounts ports.AccountRepository,
	catalog ports.ProductCatalog,
	notifier ports.NotificationService,
	escrowOwnerID uuid.UUID,
	m *metrics.Metrics,
	log zerolog.Logger,
) *DealServiceImpl {
	return &DealServiceImpl{
		transfers: transfers,
		deals:     deals,
		accounts:  accounts,
		catalog:   catalog,
		notifier:  notifier,
		escrowID:  escrowOwnerID,
		metrics:   m,
		log:       log,
	}
}

// CreateDeal snapshots the product and moves its price from the buyer's
// balance into escrow, atomically with creating the pending deal.
func (s *DealServiceImpl) CreateDeal(ctx context.Context, req ports.CreateDealRequest) (*domain.Deal, error) {
	product, err := s.catalog.GetSnapshot(ctx, req.ProductID)
	if err != nil {
		return nil, asAppError("get product", err)
	}
	if product == nil {
		return nil, apperror.ErrProductNotFound()
	}
	if !money.ValidCurrency(product.Currency) {
		return nil, apperror.InternalError(fmt.Errorf("product %s has invalid currency %q", product.ID, product.Currency))
	}

	deal, err := domain.NewDeal(req.BuyerID, *product, req.Delivery)
	if err != nil {
		if errors.Is(err, domain.ErrNonPositivePrice) {
			return nil, apperror.ErrInvalidAmount()
		}
		return nil, apperror.Validation(err.Error())
	}
	price, err := money.PositiveMinor(deal.Amount)
	if err != nil {
		return nil, apperror.ErrInvalidAmount()
	}

	err = s.transfers.Within(ctx, "deal.create", func(ctx context.Context, tx pgx.Tx) error {
		buyer, escrow, err := accountPair(ctx, s.accounts, tx, deal.BuyerID, s.escrowID, deal.Currency)
		if err != nil {
			return err
		}
		if err := s.deals.Create(ctx, tx, deal); err != nil {
			return err
		}
		return s.transfers.Apply(ctx, tx, &domain.Transfer{
			Operation: "deal.create",
			Currency:  deal.Currency,
			Legs: []domain.Leg{
				{AccountID: buyer.ID, Delta: -price},
				{AccountID: escrow.ID, Delta: price},
			},
			Entries: []*domain.LedgerEntry{
				dealEntry(buyer, deal, domain.KindPayment, -price, domain.StagePayment, "buyer",
					"Payment for "+product.Title),
				dealEntry(escrow, deal, domain.KindPayment, price, domain.StagePayment, "escrow",
					"Escrow hold for deal "+deal.ID.String()),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrDealTransition("none", string(domain.DealPending))
	s.log.Info().
		Str("deal_id", deal.ID.String()).
		Str("buyer_id", deal.BuyerID.String()).
		Str("seller_id", deal.SellerID.String()).
		Int64("amount", price).
		Msg("deal created")
	s.notifier.Notify(ctx, domain.NewDealEvent(domain.EventDealCreated, deal))
	return deal, nil
}

// ConfirmReceipt releases escrowed funds to the seller. Buyer only.
func (s *DealServiceImpl) ConfirmReceipt(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error) {
	return s.transition(ctx, dealID, domain.EventConfirmReceipt, domain.EventDealReceived,
		func(d *domain.Deal) error { return requireBuyer(d, caller) },
		func(ctx context.Context, tx pgx.Tx, d *domain.Deal, price int64) (*domain.Transfer, error) {
			escrow, seller, err := accountPair(ctx, s.accounts, tx, s.escrowID, d.SellerID, d.Currency)
			if err != nil {
				return nil, err
			}
			return &domain.Transfer{
				Legs: []domain.Leg{
					{AccountID: escrow.ID, Delta: -price},
					{AccountID: seller.ID, Delta: price},
				},
				Entries: []*domain.LedgerEntry{
					dealEntry(escrow, d, domain.KindPayment, -price, domain.StageRelease, "escrow",
						"Escrow release for deal "+d.ID.String()),
					dealEntry(seller, d, domain.KindTopup, price, domain.StageRelease, "seller",
						"Sale of "+d.Product.Title),
				},
			}, nil
		})
}

// RequestRefund flags a received deal for seller or moderator review. Buyer only.
func (s *DealServiceImpl) RequestRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error) {
	return s.transition(ctx, dealID, domain.EventRequestRefund, domain.EventDealRefundRequested,
		func(d *domain.Deal) error { return requireBuyer(d, caller) }, nil)
}

// ApproveRefund returns the price from the seller to the buyer. The seller
// must still hold enough balance.
func (s *DealServiceImpl) ApproveRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error) {
	return s.transition(ctx, dealID, domain.EventApproveRefund, domain.EventDealRefunded,
		func(d *domain.Deal) error { return requireSellerOrPrivileged(d, caller) },
		func(ctx context.Context, tx pgx.Tx, d *domain.Deal, price int64) (*domain.Transfer, error) {
			seller, buyer, err := accountPair(ctx, s.accounts, tx, d.SellerID, d.BuyerID, d.Currency)
			if err != nil {
				return nil, err
			}
			return &domain.Transfer{
				Legs: []domain.Leg{
					{AccountID: seller.ID, Delta: -price},
					{AccountID: buyer.ID, Delta: price},
				},
				Entries: []*domain.LedgerEntry{
					dealEntry(seller, d, domain.KindPayment, -price, domain.StageRefund, "seller",
						"Refund for "+d.Product.Title),
					dealEntry(buyer, d, domain.KindRefund, price, domain.StageRefund, "buyer",
						"Refund for "+d.Product.Title),
				},
			}, nil
		})
}

// RejectRefund returns the deal to received without moving money.
func (s *DealServiceImpl) RejectRefund(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error) {
	return s.transition(ctx, dealID, domain.EventRejectRefund, domain.EventDealRefundRejected,
		func(d *domain.Deal) error { return requireSellerOrPrivileged(d, caller) }, nil)
}

type transferBuilder func(ctx context.Context, tx pgx.Tx, d *domain.Deal, price int64) (*domain.Transfer, error)

// transition runs one state machine step: lock the deal, check caller and
// status, apply the money movement if any, then swap the status.
func (s *DealServiceImpl) transition(
	ctx context.Context,
	dealID uuid.UUID,
	ev domain.DealEvent,
	published domain.EventType,
	authorize func(*domain.Deal) error,
	build transferBuilder,
) (*domain.Deal, error) {
	operation := "deal." + string(ev)
	var deal *domain.Deal
	var from domain.DealStatus

	err := s.transfers.Within(ctx, operation, func(ctx context.Context, tx pgx.Tx) error {
		d, err := s.deals.GetByIDForUpdate(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if d == nil {
			return apperror.ErrDealNotFound()
		}
		if err := authorize(d); err != nil {
			return err
		}

		f, to, ok := d.Transition(ev)
		if !ok {
			return apperror.ErrInvalidDealState(string(d.Status), eventVerb(ev))
		}

		if build != nil {
			price, err := money.PositiveMinor(d.Amount)
			if err != nil {
				return apperror.InternalError(fmt.Errorf("deal %s amount: %w", d.ID, err))
			}
			t, err := build(ctx, tx, d, price)
			if err != nil {
				return err
			}
			t.Operation = operation
			t.Currency = d.Currency
			if err := s.transfers.Apply(ctx, tx, t); err != nil {
				return err
			}
		}

		swapped, err := s.deals.UpdateStatus(ctx, tx, d.ID, f, to)
		if err != nil {
			return err
		}
		if !swapped {
			return apperror.ErrInvalidDealState(string(d.Status), eventVerb(ev))
		}

		d.Status = to
		d.UpdatedAt = time.Now().UTC()
		deal, from = d, f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrDealTransition(string(from), string(deal.Status))
	s.log.Info().
		Str("deal_id", deal.ID.String()).
		Str("from", string(from)).
		Str("to", string(deal.Status)).
		Msg("deal transitioned")
	s.notifier.Notify(ctx, domain.NewDealEvent(published, deal))
	return deal, nil
}

// GetDeal returns a deal to its participants and to moderators.
func (s *DealServiceImpl) GetDeal(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error) {
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, asAppError("get deal", err)
	}
	if d == nil {
		return nil, apperror.ErrDealNotFound()
	}
	if !d.IsParticipant(caller.UserID) && !caller.Privileged() {
		return nil, apperror.ErrForbidden("Not a participant of this deal")
	}
	return d, nil
}

// ListDeals lists deals matching filter, newest first.
func (s *DealServiceImpl) ListDeals(ctx context.Context, filter ports.DealFilter) ([]domain.Deal, int64, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, apperror.Validation("invalid deal status")
	}
	switch filter.Role {
	case ports.DealRoleAny, ports.DealRoleBuyer, ports.DealRoleSeller:
	default:
		return nil, 0, apperror.Validation("role must be buyer or seller")
	}
	filter.Pagination = filter.Pagination.Normalize()

	deals, total, err := s.deals.List(ctx, filter)
	if err != nil {
		return nil, 0, asAppError("list deals", err)
	}
	return deals, total, nil
}

// ListRefundRequests is the moderation queue of deals awaiting a refund decision.
func (s *DealServiceImpl) ListRefundRequests(ctx context.Context, caller domain.Caller, page ports.Pagination) ([]domain.Deal, int64, error) {
	if !caller.Privileged() {
		return nil, 0, apperror.ErrForbidden("Moderator role required")
	}
	status := domain.DealRefundRequested
	return s.ListDeals(ctx, ports.DealFilter{Status: &status, Pagination: page})
}

// Stats aggregates deals per status. Privileged only.
func (s *DealServiceImpl) Stats(ctx context.Context, caller domain.Caller) ([]domain.DealStat, error) {
	if !caller.Privileged() {
		return nil, apperror.ErrForbidden("Moderator role required")
	}
	stats, err := s.deals.Stats(ctx)
	if err != nil {
		return nil, asAppError("deal stats", err)
	}
	return stats, nil
}

func requireBuyer(d *domain.Deal, caller domain.Caller) error {
	if caller.UserID != d.BuyerID {
		return apperror.ErrForbidden("Only the buyer can do this")
	}
	return nil
}

func requireSellerOrPrivileged(d *domain.Deal, caller domain.Caller) error {
	if caller.UserID != d.SellerID && !caller.Privileged() {
		return apperror.ErrForbidden("Only the seller or a moderator can do this")
	}
	return nil
}

// eventVerb renders an event for error messages, e.g. "confirm receipt".
func eventVerb(ev domain.DealEvent) string {
	return strings.ReplaceAll(string(ev), "_", " ")
}
