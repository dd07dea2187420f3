package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"printcalc/internal/domain"
	"printcalc/pkg/errors"
	"printcalc/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of session tokens
const Issuer = "printcalc"

type sessionClaims struct {
	TenantSlug string `json:"tenant_slug"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 tenant session tokens
type Service struct {
	secret []byte
	logger *logger.Logger
}

// NewService creates a session service
func NewService(secret string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		secret: []byte(secret),
		logger: log,
	}
}

// ValidateSessionToken verifies the token and returns its tenant claims
func (s *Service) ValidateSessionToken(ctx context.Context, tokenString string) (*domain.SessionClaims, error) {
	if len(s.secret) == 0 {
		return nil, errors.NewAuthenticationError("Session validation not configured")
	}
	if !isJWTToken(tokenString) {
		return nil, errors.NewAuthenticationError("Unrecognized token format")
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		s.logger.WithError(err).Debug("Session token rejected")
		return nil, errors.NewAuthenticationError("Invalid or expired session token")
	}

	if claims.TenantSlug == "" {
		return nil, errors.NewAuthenticationError("Session token has no tenant")
	}

	session := &domain.SessionClaims{
		Subject:    claims.Subject,
		TenantSlug: claims.TenantSlug,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// IssueSessionToken signs a token for the tenant valid for ttl
func (s *Service) IssueSessionToken(subject, tenantSlug string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("session secret is not configured")
	}
	if tenantSlug == "" {
		return "", fmt.Errorf("tenant slug is required")
	}

	now := time.Now()
	claims := sessionClaims{
		TenantSlug: tenantSlug,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// isJWTToken checks for three non-empty dot separated segments
func isJWTToken(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
