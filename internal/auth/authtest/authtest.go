// Package authtest signs platform tokens for tests.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hallhub/backend/internal/auth"
	"github.com/hallhub/backend/internal/models"
)

const (
	Secret   = "test-secret"
	Issuer   = "hallhub-auth"
	Audience = "hallhub-payments"
)

// Verifier accepts tokens made by Token.
func Verifier() *auth.Verifier {
	return auth.NewVerifier(auth.VerifierConfig{Secret: Secret, Issuer: Issuer, Audience: Audience})
}

// Claims returns valid claims for userID, expiring in an hour.
func Claims(userID uuid.UUID, role models.Role) auth.Claims {
	now := time.Now()
	return auth.Claims{
		Role:  role,
		Email: "user@hallhub.test",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

// Token signs valid claims for userID.
func Token(t testing.TB, userID uuid.UUID, role models.Role) string {
	t.Helper()
	return Sign(t, Secret, Claims(userID, role))
}

// Sign signs arbitrary claims with HS256.
func Sign(t testing.TB, secret string, claims auth.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}
