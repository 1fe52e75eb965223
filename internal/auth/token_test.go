package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTokenService_IssueAndVerify(t *testing.T) {
	svc, err := NewTokenService("secret", WithIssuer("storefront"))
	require.NoError(t, err)

	token, err := svc.Issue(domain.Principal{ID: "user-1", Role: domain.RoleAdmin, Name: "Ann"})
	require.NoError(t, err)

	principal, err := svc.Verify(token)
	require.NoError(t, err)
	require.Equal(t, &domain.Principal{ID: "user-1", Role: domain.RoleAdmin, Name: "Ann"}, principal)
}

func TestTokenService_DefaultsRoleToUser(t *testing.T) {
	svc, err := NewTokenService("secret")
	require.NoError(t, err)

	token, err := svc.Issue(domain.Principal{ID: "user-2"})
	require.NoError(t, err)

	principal, err := svc.Verify(token)
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, principal.Role)
}

func TestTokenService_RejectsInvalidTokens(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenService("secret", WithTTL(time.Minute), WithClock(func() time.Time { return issuedAt }))
	require.NoError(t, err)
	token, err := issuer.Issue(domain.Principal{ID: "user-1"})
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenService("other-secret", WithClock(func() time.Time { return issuedAt }))
		require.NoError(t, err)
		_, err = other.Verify(token)
		require.True(t, errors.Is(err, domain.ErrUnauthorized), "got %v", err)
	})

	t.Run("expired", func(t *testing.T) {
		later, err := NewTokenService("secret", WithClock(func() time.Time { return issuedAt.Add(time.Hour) }))
		require.NoError(t, err)
		_, err = later.Verify(token)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-jwt")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := Claims{
			Role: "root",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Minute)),
			},
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = issuer.Verify(raw)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Minute))}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.Verify(raw)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("  ")
	require.Error(t, err)
}
