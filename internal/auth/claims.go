package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim of every token this package signs and accepts.
const Issuer = "p2plant-ioc"

// DefaultTokenTTL applies when GenerateToken is given a non-positive TTL.
const DefaultTokenTTL = 24 * time.Hour

// clockSkew tolerates small clock differences between the token tool and
// the IOC.
const clockSkew = 30 * time.Second

// CustomClaims are the registered JWT claims plus the caller's role.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// GenerateToken signs an HS256 token naming subject with role. The token
// carries a random jti so individual tokens can be told apart in logs.
func GenerateToken(subject string, role Role, secret string, ttl time.Duration) (string, error) {
	if !IsValidRole(role) {
		return "", fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature, issuer and expiry of tokenString and
// returns its claims. Every failure wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)

	var claims CustomClaims
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	switch {
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case !IsValidRole(claims.Role):
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return &claims, nil
}
