// Package auth provides JWT-based request authentication for the
// yggdrasil HTTP API. Tokens are signed with a shared secret (HMAC-SHA256)
// loaded from JWT_SECRET, per spec §6's external-interface configuration.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends jwt.RegisteredClaims with the caller identity the pipeline
// needs to attribute a request to a user/session pair.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// DefaultTokenTTL is used when JWT_EXPIRES_IN is unset (spec §6: default 15m).
const DefaultTokenTTL = 15 * time.Minute

// issuer is the fixed JWT issuer/audience value this service signs and expects.
const issuer = "yggdrasil"

// JWTManager issues and validates HMAC-signed JWTs.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager constructs a JWTManager from the configured secret. The
// secret must be non-empty; JWT_SECRET is a required environment variable
// (spec §6).
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: JWT_SECRET must not be empty")
	}
	if expiration <= 0 {
		expiration = DefaultTokenTTL
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration}, nil
}

// IssueToken creates a signed JWT for the given user/session pair.
func (m *JWTManager) IssueToken(userID, sessionID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:    userID,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning its claims.
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
		jwt.WithAudience(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}
	return claims, nil
}
