// Package auth verifies bearer tokens issued by the HallHub platform's auth service.
// Payments never issues tokens itself.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hallhub/backend/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the platform token body. The subject is the user id.
type Claims struct {
	Role  models.Role `json:"role"`
	Email string      `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller behind a verified token.
type Identity struct {
	UserID uuid.UUID
	Role   models.Role
	Email  string
}

// VerifierConfig describes which tokens are accepted. Empty Issuer or Audience skips that check.
type VerifierConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration // clock skew tolerated on exp, nbf and iat
}

// Verifier checks HS256 platform tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

// Verify validates a token and returns its caller. Tokens with an unknown role or a subject
// that is not a user id are rejected.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	var claims Claims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: userID, Role: claims.Role, Email: claims.Email}, nil
}
