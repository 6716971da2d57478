package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Code returns the error code of the first AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given AppError code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// IsRetryable reports whether the whole operation may be safely retried.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

const (
	CodeInvalidSignature        = "SEC_001"
	CodeSignatureExpired        = "SEC_002"
	CodeUnauthorized            = "AUTH_001"
	CodeForbidden               = "AUTH_002"
	CodeDealNotFound            = "DEAL_001"
	CodeProductNotFound         = "DEAL_002"
	CodeInvalidDealState        = "DEAL_003"
	CodeInsufficientFunds       = "BAL_001"
	CodeInvalidAmount           = "BAL_002"
	CodeDuplicateRequest        = "BAL_003"
	CodeAccountNotFound         = "BAL_004"
	CodeInvalidLedgerTransition = "LEDGER_001"
	CodeUnbalancedTransfer      = "LEDGER_002"
	CodeDuplicateExternalEvent  = "LEDGER_003"
	CodeGatewayUnavailable      = "GW_001"
	CodeRateLimited             = "RATE_001"
	CodeValidation              = "VAL_001"
	CodeInternal                = "SYS_001"
	CodeTransientStore          = "SYS_002"
)

// ---- Security & Authentication (SEC / AUTH) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

func ErrSignatureExpired() *AppError {
	return New(CodeSignatureExpired, "Signature timestamp outside tolerance", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New(CodeUnauthorized, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden(reason string) *AppError {
	return New(CodeForbidden, reason, http.StatusForbidden)
}

// ---- Deals (DEAL) ----

func ErrDealNotFound() *AppError {
	return New(CodeDealNotFound, "Deal not found", http.StatusNotFound)
}

func ErrProductNotFound() *AppError {
	return New(CodeProductNotFound, "Product not found", http.StatusNotFound)
}

// ErrInvalidDealState reports a transition that is not legal from the deal's current status.
func ErrInvalidDealState(current, event string) *AppError {
	return New(CodeInvalidDealState,
		fmt.Sprintf("cannot %s a deal in status %s", event, current),
		http.StatusConflict)
}

// ---- Balances (BAL) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

func ErrDuplicateRequest() *AppError {
	return New(CodeDuplicateRequest, "Duplicate request", http.StatusConflict)
}

func ErrAccountNotFound() *AppError {
	return New(CodeAccountNotFound, "Account not found", http.StatusNotFound)
}

// ---- Ledger invariants (LEDGER) ----

func ErrInvalidLedgerTransition(from, to string) *AppError {
	return New(CodeInvalidLedgerTransition,
		fmt.Sprintf("ledger entry cannot move from %s to %s", from, to),
		http.StatusInternalServerError)
}

func ErrUnbalancedTransfer(sum int64) *AppError {
	return New(CodeUnbalancedTransfer,
		fmt.Sprintf("internal transfer does not balance: net %d", sum),
		http.StatusInternalServerError)
}

// ErrDuplicateExternalEvent is returned by the ledger store when a
// (source, source_id) pair already exists. Callers treat it as a no-op.
func ErrDuplicateExternalEvent() *AppError {
	return New(CodeDuplicateExternalEvent, "External event already recorded", http.StatusOK)
}

// ---- Payment gateway (GW) ----

func ErrGatewayUnavailable(err error) *AppError {
	return Wrap(CodeGatewayUnavailable, "Payment gateway unavailable", http.StatusBadGateway, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// ErrTransientStore marks a failure the caller may retry as a whole
// (lock timeout, serialization failure, lost connection).
func ErrTransientStore(err error) *AppError {
	e := Wrap(CodeTransientStore, "Store temporarily unavailable", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
