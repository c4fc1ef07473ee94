// Package auth supplies bearer tokens to the REST client and the
// stream transport. Obtaining tokens (login, refresh) is the host
// application's job; this package only carries and inspects them.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the current bearer token. Implementations may
// refresh behind the scenes; callers treat every call as current.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Expired reports whether the token is a JWT whose exp claim has
// passed. Opaque tokens and JWTs without exp are assumed live; the
// signature is not checked here, the server does that.
func Expired(token string) bool {
	return expiredAt(token, time.Now())
}

func expiredAt(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
