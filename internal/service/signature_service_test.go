package service

import (
	"strings"
	"testing"
	"time"

	"marketplace-escrow/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService(5 * time.Minute)
	secretKey := "my-secret-key"
	payload := `{"type":"deal.created"}`

	signature := svc.Sign(secretKey, payload)

	// Should be lowercase hex
	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")
	assert.True(t, svc.Verify(secretKey, payload, signature))
	assert.False(t, svc.Verify("wrong-key", payload, signature))
	assert.False(t, svc.Verify(secretKey, "tampered", signature))
}

func TestHMACSignatureService_GatewayHeader(t *testing.T) {
	svc := NewHMACSignatureService(5 * time.Minute)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	now := time.Unix(1760000000, 0)

	header := svc.SignGatewayPayload("whsec", payload, now)
	assert.Regexp(t, `^t=1760000000,v1=[0-9a-f]{64}$`, header)

	require.NoError(t, svc.VerifyGatewayHeader("whsec", payload, header, now.Add(time.Minute)))
}

func TestHMACSignatureService_GatewayHeader_Rejections(t *testing.T) {
	svc := NewHMACSignatureService(5 * time.Minute)
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1760000000, 0)
	header := svc.SignGatewayPayload("whsec", payload, now)

	tests := []struct {
		name    string
		secret  string
		payload []byte
		header  string
		at      time.Time
		code    string
	}{
		{"wrong secret", "other", payload, header, now, apperror.CodeInvalidSignature},
		{"tampered body", "whsec", []byte(`{"id":"evt_2"}`), header, now, apperror.CodeInvalidSignature},
		{"too old", "whsec", payload, header, now.Add(10 * time.Minute), apperror.CodeSignatureExpired},
		{"from the future", "whsec", payload, header, now.Add(-10 * time.Minute), apperror.CodeSignatureExpired},
		{"empty header", "whsec", payload, "", now, apperror.CodeInvalidSignature},
		{"no v1", "whsec", payload, "t=1760000000", now, apperror.CodeInvalidSignature},
		{"bad timestamp", "whsec", payload, "t=abc,v1=00", now, apperror.CodeInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.VerifyGatewayHeader(tt.secret, tt.payload, tt.header, tt.at)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperror.Code(err))
		})
	}
}

func TestHMACSignatureService_GatewayHeader_SecretRotation(t *testing.T) {
	svc := NewHMACSignatureService(5 * time.Minute)
	payload := []byte(`{}`)
	now := time.Unix(1760000000, 0)

	old := svc.SignGatewayPayload("old-secret", payload, now)
	fresh := svc.SignGatewayPayload("new-secret", payload, now)
	_, freshSig, _ := strings.Cut(fresh, "v1=")

	require.NoError(t, svc.VerifyGatewayHeader("new-secret", payload, old+",v1="+freshSig, now))
}
