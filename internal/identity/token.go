package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the claims read from an access token without verifying
// its signature. The backend verifies; the client only needs hints such as
// the expiry to schedule refreshes.
type AccessClaims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InspectAccessToken decodes the claims of an access token.
func InspectAccessToken(token string) (*AccessClaims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	var claims accessTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	ac := &AccessClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}
	return ac, nil
}

// ExpiresWithin reports whether the token expires within d of now. Tokens
// without a readable expiry are treated as expiring.
func ExpiresWithin(token string, d time.Duration, now time.Time) bool {
	c, err := InspectAccessToken(token)
	if err != nil || c.ExpiresAt.IsZero() {
		return true
	}
	return c.ExpiresAt.Before(now.Add(d))
}
