package handler

import (
	"context"

	"marketplace-escrow/internal/adapter/http/dto"
	"marketplace-escrow/internal/adapter/http/middleware"
	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealHandler handles deal endpoints.
type DealHandler struct {
	dealSvc ports.DealService
}

// NewDealHandler creates a new DealHandler.
func NewDealHandler(dealSvc ports.DealService) *DealHandler {
	return &DealHandler{dealSvc: dealSvc}
}

// Create handles POST /api/v1/deals.
func (h *DealHandler) Create(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		response.Error(c, apperror.Validation("product_id must be a UUID"))
		return
	}

	deal, err := h.dealSvc.CreateDeal(c.Request.Context(), ports.CreateDealRequest{
		BuyerID:   caller.UserID,
		ProductID: productID,
		Delivery: domain.Delivery{
			Method:  domain.DeliveryMethod(req.DeliveryMethod),
			Address: req.Address,
			Note:    req.Note,
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, deal.ID.String())
	response.Created(c, dto.NewDealResponse(deal))
}

// List handles GET /api/v1/deals: the caller's own deals.
func (h *DealHandler) List(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	filter := ports.DealFilter{
		UserID:     &caller.UserID,
		Pagination: pagination(c),
	}
	switch role := ports.DealRole(c.Query("role")); role {
	case ports.DealRoleAny, ports.DealRoleBuyer, ports.DealRoleSeller:
		filter.Role = role
	default:
		response.Error(c, apperror.Validation("role must be buyer or seller"))
		return
	}
	if s := c.Query("status"); s != "" {
		status := domain.DealStatus(s)
		if !status.Valid() {
			response.Error(c, apperror.Validation("unknown deal status"))
			return
		}
		filter.Status = &status
	}

	deals, total, err := h.dealSvc.ListDeals(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.NewDealResponses(deals), total, filter.Page, filter.Limit)
}

// RefundRequests handles GET /api/v1/deals/refund-requests.
func (h *DealHandler) RefundRequests(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	page := pagination(c)
	deals, total, err := h.dealSvc.ListRefundRequests(c.Request.Context(), caller, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.NewDealResponses(deals), total, page.Page, page.Limit)
}

// Stats handles GET /api/v1/deals/stats.
func (h *DealHandler) Stats(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	stats, err := h.dealSvc.Stats(c.Request.Context(), caller)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.DealStatResponse, 0, len(stats))
	var count int64
	amount := decimal.Zero
	for _, s := range stats {
		items = append(items, dto.DealStatResponse{
			Status: string(s.Status),
			Count:  s.Count,
			Amount: s.Amount.StringFixed(2),
		})
		count += s.Count
		amount = amount.Add(s.Amount)
	}

	response.OK(c, gin.H{
		"by_status":    items,
		"total_count":  count,
		"total_amount": amount.StringFixed(2),
	})
}

// Get handles GET /api/v1/deals/:id.
func (h *DealHandler) Get(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	deal, err := h.dealSvc.GetDeal(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDealResponse(deal))
}

// ConfirmReceipt handles POST /api/v1/deals/:id/confirm-receipt.
func (h *DealHandler) ConfirmReceipt(c *gin.Context) {
	h.transition(c, h.dealSvc.ConfirmReceipt)
}

// RequestRefund handles POST /api/v1/deals/:id/request-refund.
func (h *DealHandler) RequestRefund(c *gin.Context) {
	h.transition(c, h.dealSvc.RequestRefund)
}

// ApproveRefund handles POST /api/v1/deals/:id/approve-refund.
func (h *DealHandler) ApproveRefund(c *gin.Context) {
	h.transition(c, h.dealSvc.ApproveRefund)
}

// RejectRefund handles POST /api/v1/deals/:id/reject-refund.
func (h *DealHandler) RejectRefund(c *gin.Context) {
	h.transition(c, h.dealSvc.RejectRefund)
}

type dealAction func(ctx context.Context, dealID uuid.UUID, caller domain.Caller) (*domain.Deal, error)

func (h *DealHandler) transition(c *gin.Context, action dealAction) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	deal, err := action(c.Request.Context(), id, caller)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewDealResponse(deal))
}
