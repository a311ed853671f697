// Package auth issues and validates the bearer tokens that identify app users.
//
// Tokens are HS256 JWTs signed with the service key. The subject is the
// user's UUID; every session endpoint trusts it as the caller's identity.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "kokoro"
	audience = "kokoro"

	// minSecretLen guards against signing with a trivially guessable key.
	minSecretLen = 32
)

// ErrWeakSecret is returned by NewJWTManager when the signing key is too short.
var ErrWeakSecret = errors.New("auth: service key must be at least 32 bytes")

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the subject as a UUID. ValidateToken guarantees it parses.
func (c *Claims) UserID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// JWTManager handles JWT creation and validation.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewJWTManager creates a JWTManager that signs with secret.
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if expiration <= 0 {
		return nil, fmt.Errorf("auth: token expiration must be positive")
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration, now: time.Now}, nil
}

// IssueToken creates a signed token for userID.
func (m *JWTManager) IssueToken(userID uuid.UUID) (string, time.Time, error) {
	if userID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("auth: user id is required")
	}
	now := m.now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid subject (expected UUID): %w", err)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("auth: invalid subject: nil UUID")
	}

	return claims, nil
}
