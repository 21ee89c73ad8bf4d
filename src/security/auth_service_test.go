// backend/src/security/auth_service_test.go
package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/maplefolio/backend/src/config"
)

func init() {
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	hash, err := svc.HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, svc.CheckPassword(hash, "hunter22"))
	assert.Error(t, svc.CheckPassword(hash, "hunter23"))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	token, err := svc.GenerateToken("42")
	require.NoError(t, err)

	subject, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", subject)
}

func TestTokenFromDifferentSecretRejected(t *testing.T) {
	issuer := NewAuthService("0123456789abcdef0123456789abcdef")
	verifier := NewAuthService("another-secret-another-secret-xx")

	token, err := issuer.GenerateToken("42")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageTokenRejected(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	_, err := svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	a, err := svc.GenerateRefreshToken()
	require.NoError(t, err)
	b, err := svc.GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
