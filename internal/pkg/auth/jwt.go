// Package auth issues and verifies the signed session tokens that identify
// the acting account, and carries them in an HTTP-only cookie.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	// ErrInvalidOrExpired is returned by Verify for any token it cannot trust.
	ErrInvalidOrExpired = errors.New("auth: invalid or expired session token")
	// ErrSigningKeyMissing is returned when the authority has no signing key configured.
	ErrSigningKeyMissing = errors.New("auth: session signing key is not configured")
)

// DefaultTTL is the session lifetime used when none is configured.
const DefaultTTL = time.Hour

// Claims represents the custom JWT claims that include the account ID and standard claims.
type Claims struct {
	AccountID int64 `json:"accountId"`
	jwt.RegisteredClaims
}

// Authority signs and verifies session tokens with a process-wide HMAC key.
// Replacing the key invalidates every outstanding token.
type Authority struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthority creates an Authority. A non-positive ttl falls back to DefaultTTL.
func NewAuthority(secret []byte, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authority{secret: secret, ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (a *Authority) TTL() time.Duration {
	return a.ttl
}

// Issue creates a signed token for accountID expiring TTL from now.
func (a *Authority) Issue(accountID int64) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrSigningKeyMissing
	}

	issuedAt := a.now()
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(a.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenStr and returns the account id it carries.
func (a *Authority) Verify(tokenStr string) (int64, error) {
	if len(a.secret) == 0 {
		return 0, ErrSigningKeyMissing
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, ErrInvalidOrExpired
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ExpiresAt == nil || claims.AccountID <= 0 {
		return 0, ErrInvalidOrExpired
	}

	return claims.AccountID, nil
}
