// ABOUTME: JWT issuance and verification for BFF bearer tokens (Supabase-style access tokens).
// ABOUTME: Always enforces HS256 algorithm and expiration; never call jwt.Parse directly.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrMissingSubject is returned for tokens without a usable sub claim.
var ErrMissingSubject = errors.New("token has no subject")

// AccessClaims holds the claims of an access token issued by the identity
// provider (Supabase signs with the project JWT secret).
type AccessClaims struct {
	jwt.RegisteredClaims
	// UserID shadows RegisteredClaims.Subject so that "sub" decodes as a UUID.
	// encoding/json picks the outermost field when embedded struct tags collide.
	UserID uuid.UUID `json:"sub"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
}

// IssueAccessToken creates a signed HS256 access token. Production tokens
// come from the identity provider; this is used by tests and the dev CLI.
func IssueAccessToken(secret []byte, userID uuid.UUID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  jwt.ClaimStrings{"authenticated"},
		},
		UserID: userID,
		Email:  email,
		Role:   "authenticated",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates and parses an HS256 access token.
// Returns an error if the token is expired, uses a wrong algorithm, is
// otherwise invalid, or carries no subject.
func ParseAccessToken(tokenStr string, secret []byte) (*AccessClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("parse access token: no secret configured")
	}
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("parse access token: %w", ErrMissingSubject)
	}
	return claims, nil
}
