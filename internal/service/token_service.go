package service

import (
	"errors"
	"fmt"
	"time"

	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// directoryClaims is the token payload issued by the user directory. The
// subject is the user id; an absent role means a regular user.
type directoryClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTTokenService validates HS256 bearer tokens from the user directory.
// Generate exists for tooling and tests.
type JWTTokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	parser *jwt.Parser
}

func NewJWTTokenService(secret string, ttl time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Generate signs a token for userID carrying role.
func (s *JWTTokenService) Generate(userID uuid.UUID, role domain.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := directoryClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks signature, issuer and expiry and returns the caller.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	var claims directoryClaims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", err)
	}

	role := domain.RoleUser
	if claims.Role != "" {
		role = domain.Role(claims.Role)
	}
	switch role {
	case domain.RoleUser, domain.RoleModerator, domain.RoleAdmin:
	default:
		return nil, errors.New("token carries an unknown role")
	}

	return &ports.TokenClaims{UserID: userID, Role: role}, nil
}
