package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// TokenVerifier validates HMAC-signed bearer tokens carrying the caller's
// user identity in the subject claim.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier. The signing secret must be at least
// 32 bytes.
func NewTokenVerifier(secret []byte) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("token signing secret must be at least 32 bytes")
	}
	return &TokenVerifier{secret: secret}, nil
}

// Verify parses and validates a bearer token and returns the subject claim.
func (v *TokenVerifier) Verify(tokenStr string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		log.Debug().Err(err).Msg("token parse error")
		return "", errors.New("invalid token")
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token missing subject")
	}
	return claims.Subject, nil
}

// Issue mints a token for the given user, valid for ttl. Used by the CLI
// and by tests.
func (v *TokenVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(v.secret)
}
