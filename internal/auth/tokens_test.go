package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rhgestor.org/internal/auth"
)

func TestTokenIssueAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, err := auth.NewTokenService("secret", auth.WithIssuer("test-issuer"), auth.WithTokenTTL(30*time.Minute), auth.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	token, exp, err := svc.Issue(auth.Identity{ID: 42, Login: "Ana", Role: auth.RoleRH})
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), exp)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.Equal(t, "Ana", claims.Login)
	assert.Equal(t, auth.RoleRH, claims.Role)
	assert.NotEmpty(t, claims.ID)
	id, err := claims.IdentityID()
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}

func TestTokenRejections(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	svc, err := auth.NewTokenService("secret", auth.WithTokenTTL(time.Minute), auth.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	token, _, err := svc.Issue(auth.Identity{ID: 1, Role: auth.RoleAdmin})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		clock = now.Add(2 * time.Minute)
		defer func() { clock = now }()
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := auth.NewTokenService("another-secret", auth.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := auth.NewTokenService("secret", auth.WithIssuer("elsewhere"), auth.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		_, err = other.Verify(token)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.Verify(raw)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Verify("not-a-token")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
		_, err = svc.Verify("  ")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestTokenServiceConfiguration(t *testing.T) {
	_, err := auth.NewTokenService("  ")
	assert.Error(t, err)

	_, err = auth.NewTokenService("secret", auth.WithTokenTTL(0))
	assert.Error(t, err)

	svc, err := auth.NewTokenService("secret")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.TTL())

	_, _, err = svc.Issue(auth.Identity{})
	assert.Error(t, err)
}
