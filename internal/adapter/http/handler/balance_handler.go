package handler

import (
	"marketplace-escrow/internal/adapter/http/dto"
	"marketplace-escrow/internal/adapter/http/middleware"
	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/money"
	"marketplace-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceHandler handles balance and ledger endpoints.
type BalanceHandler struct {
	balanceSvc   ports.BalanceService
	reportingSvc ports.ReportingService
}

// NewBalanceHandler creates a new BalanceHandler.
func NewBalanceHandler(balanceSvc ports.BalanceService, reportingSvc ports.ReportingService) *BalanceHandler {
	return &BalanceHandler{
		balanceSvc:   balanceSvc,
		reportingSvc: reportingSvc,
	}
}

// GetBalance handles GET /api/v1/balance.
func (h *BalanceHandler) GetBalance(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	acc, err := h.reportingSvc.GetBalance(c.Request.Context(), caller.UserID, c.Query("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBalanceResponse(acc))
}

// History handles GET /api/v1/balance/history.
func (h *BalanceHandler) History(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	filter := ports.HistoryFilter{
		OwnerID:    caller.UserID,
		Currency:   c.Query("currency"),
		Pagination: pagination(c),
	}
	if k := c.Query("kind"); k != "" {
		kind := domain.EntryKind(k)
		filter.Kind = &kind
	}
	if s := c.Query("status"); s != "" {
		status := domain.EntryStatus(s)
		filter.Status = &status
	}
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		response.Error(c, err)
		return
	}

	entries, total, err := h.reportingSvc.ListHistory(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.EntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.NewEntryResponse(&entries[i]))
	}
	response.Paginated(c, items, total, filter.Page, filter.Limit)
}

// Topup handles POST /api/v1/balance/topup.
func (h *BalanceHandler) Topup(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	intent, err := h.balanceSvc.CreateTopup(c.Request.Context(), ports.TopupRequest{
		UserID: caller.UserID,
		Amount: req.Amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, intent.EntryID.String())
	response.Created(c, dto.TopupResponse{
		EntryID:      intent.EntryID.String(),
		PaymentID:    intent.PaymentID,
		ClientSecret: intent.ClientSecret,
		Amount:       money.FromMinor(intent.AmountMinor).StringFixed(2),
		Currency:     intent.Currency,
	})
}

// ManualOperation handles POST /api/v1/balance/operations.
// The Idempotency-Key header is required.
func (h *BalanceHandler) ManualOperation(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.ManualOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("user_id must be a UUID"))
		return
	}

	entry, err := h.balanceSvc.ManualOperation(c.Request.Context(), ports.ManualOperationRequest{
		Operator:       caller,
		UserID:         userID,
		Amount:         req.Amount,
		Kind:           domain.EntryKind(req.Kind),
		Description:    req.Description,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, entry.ID.String())
	response.Created(c, dto.NewEntryResponse(entry))
}

// ChargeFee handles POST /api/v1/balance/fees.
func (h *BalanceHandler) ChargeFee(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("user_id must be a UUID"))
		return
	}
	fee := ports.FeeRequest{
		Operator:    caller,
		UserID:      userID,
		Amount:      decimal.Zero,
		Description: req.Description,
		BoostDays:   req.BoostDays,
	}
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			response.Error(c, apperror.ErrInvalidAmount())
			return
		}
		fee.Amount = *req.Amount
	}
	if req.ProductID != nil {
		pid, err := uuid.Parse(*req.ProductID)
		if err != nil {
			response.Error(c, apperror.Validation("product_id must be a UUID"))
			return
		}
		fee.ProductID = &pid
	}

	entry, err := h.balanceSvc.ChargeFee(c.Request.Context(), fee)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, entry.ID.String())
	response.Created(c, dto.NewEntryResponse(entry))
}
