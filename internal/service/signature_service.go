package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketplace-escrow/pkg/apperror"
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct {
	tolerance time.Duration
}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
// tolerance bounds the age of a signed gateway header.
func NewHMACSignatureService(tolerance time.Duration) *HMACSignatureService {
	return &HMACSignatureService{tolerance: tolerance}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignGatewayPayload builds the header value the processor sends:
// "t=<unix>,v1=<hmac(secret, "<unix>.<payload>")>".
func (s *HMACSignatureService) SignGatewayPayload(secretKey string, payload []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", unix, s.Sign(secretKey, unix+"."+string(payload)))
}

// VerifyGatewayHeader checks the processor signature header. Any v1 entry
// may match, which allows the processor to roll its secret.
func (s *HMACSignatureService) VerifyGatewayHeader(secretKey string, payload []byte, header string, now time.Time) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return apperror.ErrInvalidSignature()
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return apperror.ErrInvalidSignature()
	}
	if s.tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > s.tolerance || age < -s.tolerance {
			return apperror.ErrSignatureExpired()
		}
	}

	signed := ts + "." + string(payload)
	for _, sig := range sigs {
		if s.Verify(secretKey, signed, sig) {
			return nil
		}
	}
	return apperror.ErrInvalidSignature()
}
