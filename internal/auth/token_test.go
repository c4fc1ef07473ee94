package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestStaticTokenSource(t *testing.T) {
	src := StaticTokenSource("abc")
	got, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}

func TestExpiredAt(t *testing.T) {
	now := time.Now()

	live := signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	assert.False(t, expiredAt(live, now))

	stale := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})
	assert.True(t, expiredAt(stale, now))
}

func TestExpiredAssumesLiveWhenUnparseable(t *testing.T) {
	now := time.Now()

	// Opaque tokens and JWTs without exp are the server's problem.
	assert.False(t, expiredAt("opaque-session-token", now))
	assert.False(t, expiredAt(signedToken(t, jwt.MapClaims{"sub": "u1"}), now))
	assert.False(t, expiredAt("", now))
}
