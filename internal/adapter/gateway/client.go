// Package gateway is the HTTP client for the external payment processor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"
	"marketplace-escrow/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Client implements ports.PaymentGateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewClient creates a processor client. Every call runs through cb with
// retries per cfg.
func NewClient(
	httpClient *http.Client,
	baseURL, secretKey string,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		cb:         cb,
		cfg:        cfg,
		metrics:    m,
		log:        log,
	}
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreatePaymentIntent asks the processor for a pending charge of
// req.AmountMinor. Retries reuse req.IdempotencyKey so the processor
// creates at most one intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req ports.PaymentIntentRequest) (*domain.PaymentIntent, error) {
	body, err := json.Marshal(intentRequest{
		Amount:   req.AmountMinor,
		Currency: strings.ToLower(req.Currency),
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("encode intent request: %w", err))
	}

	result, err := c.cb.Execute(func() (any, error) {
		var intent domain.PaymentIntent
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return c.post(ctx, "/v1/payment_intents", body, req.IdempotencyKey, &intent)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &intent, nil
	})
	if err != nil {
		c.metrics.IncrGatewayError()
		c.log.Warn().Err(err).Int64("amount", req.AmountMinor).Msg("gateway: create payment intent failed")
		return nil, apperror.ErrGatewayUnavailable(err)
	}

	intent := result.(*domain.PaymentIntent)
	if intent.ID == "" {
		return nil, apperror.ErrGatewayUnavailable(fmt.Errorf("processor returned an intent without id"))
	}
	return intent, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &resilience.Permanent{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &resilience.Permanent{Err: fmt.Errorf("processor rejected request: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}
}
