// Package auth covers the two trust boundaries of the engine: shared-
// secret JWTs for the trigger surface and the external identity
// provider for player sessions.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TriggerClaims authorize one scheduler invocation. Scope names the
// trigger being fired (market-open, market-update, news-update,
// market-close).
type TriggerClaims struct {
	Scope string `json:"scope"`

	jwt.RegisteredClaims
}

// TriggerSigner signs and verifies the short-lived tokens the worker
// presents to the trigger endpoints.
type TriggerSigner struct {
	Secret   []byte
	TokenTTL time.Duration
}

func NewTriggerSigner(secret string) TriggerSigner {
	return TriggerSigner{Secret: []byte(secret), TokenTTL: 2 * time.Minute}
}

func (s TriggerSigner) Sign(scope string) (string, error) {
	now := time.Now().UTC()
	claims := TriggerClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "bourse-worker",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.Secret)
}

func (s TriggerSigner) Verify(token string) (TriggerClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &TriggerClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.Secret, nil
	})
	if err != nil {
		return TriggerClaims{}, err
	}
	c, ok := parsed.Claims.(*TriggerClaims)
	if !ok || !parsed.Valid {
		return TriggerClaims{}, errors.New("invalid token")
	}
	return *c, nil
}
