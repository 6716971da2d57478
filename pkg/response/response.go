package response

import (
	"errors"
	"net/http"
	"time"

	"marketplace-escrow/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDKey matches middleware.CtxRequestID. It is repeated here so the
// package does not import the HTTP middleware.
const requestIDKey = "request_id"

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Data      any    `json:"data"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the body of every failed request. Retryable tells the
// client the same request may succeed later (lock timeouts, gateway outages).
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Page is the data of list endpoints.
type Page struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int64 `json:"pages"`
}

func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, data)
}

func Created(c *gin.Context, data any) {
	write(c, http.StatusCreated, data)
}

// Paginated answers 200 with a Page built from one slice of results.
func Paginated(c *gin.Context, items any, total int64, page, limit int) {
	p := Page{Items: items, Total: total, Page: page, Limit: limit}
	if limit > 0 {
		p.Pages = (total + int64(limit) - 1) / int64(limit)
	}
	write(c, http.StatusOK, p)
}

// Error renders err. Anything that is not an *apperror.AppError is reported
// as an internal error without leaking its text.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}
	if appErr.Retryable {
		c.Header("Retry-After", "1")
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func write(c *gin.Context, status int, data any) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.NewString()
}
