package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the identity the authentication provider asserts
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenVerifier validates a bearer token into claims
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// Verifier validates JWTs against a remote JWKS
type Verifier struct {
	keyfunc keyfunc.Keyfunc
}

// NewVerifier creates a verifier backed by the JWKS at jwksURL. The key set
// refreshes in the background.
func NewVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("load jwks %s: %w", jwksURL, err)
	}
	return &Verifier{keyfunc: kf}, nil
}

// Verify validates and parses a bearer token
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("token carries no email claim")
	}

	claims.Email = strings.ToLower(claims.Email)
	return claims, nil
}
