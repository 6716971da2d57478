package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/apperror"
	"marketplace-escrow/pkg/metrics"
	"marketplace-escrow/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(
		&http.Client{Timeout: 2 * time.Second},
		url, "sk_test",
		resilience.NewCircuitBreaker("gateway-test", time.Minute),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		metrics.New(),
		zerolog.Nop(),
	)
}

func TestCreatePaymentIntent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "topup:abc", r.Header.Get("Idempotency-Key"))

		var body intentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(500000), body.Amount)
		assert.Equal(t, "kzt", body.Currency)
		assert.Equal(t, "u1", body.Metadata["user_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_payment_method"}`))
	}))
	defer srv.Close()

	intent, err := newTestClient(srv.URL).CreatePaymentIntent(context.Background(), ports.PaymentIntentRequest{
		AmountMinor:    500000,
		Currency:       "KZT",
		Metadata:       map[string]string{"user_id": "u1"},
		IdempotencyKey: "topup:abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
}

func TestCreatePaymentIntent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"pi_ok","client_secret":"s","status":"requires_payment_method"}`))
	}))
	defer srv.Close()

	intent, err := newTestClient(srv.URL).CreatePaymentIntent(context.Background(), ports.PaymentIntentRequest{AmountMinor: 1, Currency: "KZT"})
	require.NoError(t, err)
	assert.Equal(t, "pi_ok", intent.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreatePaymentIntent_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"amount too small"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreatePaymentIntent(context.Background(), ports.PaymentIntentRequest{AmountMinor: 1, Currency: "KZT"})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeGatewayUnavailable, apperror.Code(err))
	assert.Contains(t, err.Error(), "amount too small")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreatePaymentIntent_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).CreatePaymentIntent(context.Background(), ports.PaymentIntentRequest{AmountMinor: 1, Currency: "KZT"})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeGatewayUnavailable))
}

func TestCreatePaymentIntent_MissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"requires_payment_method"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreatePaymentIntent(context.Background(), ports.PaymentIntentRequest{AmountMinor: 1, Currency: "KZT"})
	assert.True(t, apperror.HasCode(err, apperror.CodeGatewayUnavailable))
}
