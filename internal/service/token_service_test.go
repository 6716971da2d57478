package service

import (
	"testing"
	"time"

	"marketplace-escrow/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_RoundTrip(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "marketplace")

	for _, role := range []domain.Role{domain.RoleUser, domain.RoleModerator, domain.RoleAdmin} {
		userID := uuid.New()
		tokenStr, expiresAt, err := svc.Generate(userID, role)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

		claims, err := svc.Validate(tokenStr)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, role, claims.Role)
	}
}

func signMap(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestJWTTokenService_MissingRoleIsUser(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "marketplace")
	tokenStr := signMap(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.MapClaims{
		"sub": uuid.NewString(),
		"iss": "marketplace",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, claims.Role)
}

func TestJWTTokenService_Rejects(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "marketplace")
	valid := func(role domain.Role) string {
		s, _, err := svc.Generate(uuid.New(), role)
		require.NoError(t, err)
		return s
	}
	expired, _, err := NewJWTTokenService(testJWTSecret, -time.Hour, "marketplace").Generate(uuid.New(), domain.RoleUser)
	require.NoError(t, err)
	otherIssuer, _, err := NewJWTTokenService(testJWTSecret, time.Hour, "elsewhere").Generate(uuid.New(), domain.RoleUser)
	require.NoError(t, err)
	otherSecret, _, err := NewJWTTokenService("another-secret", time.Hour, "marketplace").Generate(uuid.New(), domain.RoleUser)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":          "",
		"garbage":        "not.a.valid.jwt",
		"unknown role":   valid(domain.Role("superuser")),
		"expired":        expired,
		"wrong issuer":   otherIssuer,
		"wrong secret":   otherSecret,
		"no expiry":      signMap(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.MapClaims{"sub": uuid.NewString(), "iss": "marketplace"}),
		"subject no uid": signMap(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.MapClaims{"sub": "alice", "iss": "marketplace", "exp": time.Now().Add(time.Hour).Unix()}),
		"hs512":          signMap(t, jwt.SigningMethodHS512, []byte(testJWTSecret), jwt.MapClaims{"sub": uuid.NewString(), "iss": "marketplace", "exp": time.Now().Add(time.Hour).Unix()}),
	}
	for name, tokenStr := range tests {
		_, err := svc.Validate(tokenStr)
		assert.Error(t, err, name)
	}
}
