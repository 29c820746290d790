package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// CandidateContextKey is the key for storing the resolved candidate
	CandidateContextKey ContextKey = "candidate"
	// ClaimsContextKey is the key for storing claims in context
	ClaimsContextKey ContextKey = "claims"
)

// bootstrapQuotaDollars is the quota granted to auto-bootstrapped admins
const bootstrapQuotaDollars = 9999

// RequireCandidate authenticates the bearer token and resolves the caller to
// an active candidate. Emails listed in adminEmails are bootstrapped as
// admins on first sight.
func RequireCandidate(verifier TokenVerifier, candidates *store.CandidateStore, adminEmails []string) echo.MiddlewareFunc {
	bootstrap := map[string]bool{}
	for _, email := range adminEmails {
		bootstrap[strings.ToLower(email)] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			ctx := c.Request().Context()
			candidate, err := candidates.Get(ctx, claims.Email)
			if err == store.ErrNotFound && bootstrap[claims.Email] {
				candidate = &types.Candidate{
					Email:        claims.Email,
					Name:         claims.Name,
					Role:         types.RoleAdmin,
					QuotaDollars: bootstrapQuotaDollars,
					AddedAt:      time.Now().UTC(),
					AddedBy:      "bootstrap",
				}
				if err := candidates.Put(ctx, candidate); err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, "bootstrap admin")
				}
			} else if err == store.ErrNotFound {
				return echo.NewHTTPError(http.StatusForbidden, "not on the allow list")
			} else if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "resolve candidate")
			}

			if !candidate.Active() {
				return echo.NewHTTPError(http.StatusForbidden, "account is deactivated")
			}

			c.Set(string(ClaimsContextKey), claims)
			c.Set(string(CandidateContextKey), candidate)

			return next(c)
		}
	}
}

// RequireAdmin is middleware that requires the admin role
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			candidate, err := CurrentCandidate(c)
			if err != nil {
				return err
			}
			if !candidate.IsAdmin() {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}

// CurrentCandidate retrieves the resolved candidate from echo context
func CurrentCandidate(c echo.Context) (*types.Candidate, error) {
	candidate, ok := c.Get(string(CandidateContextKey)).(*types.Candidate)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return candidate, nil
}

// IsAdmin checks if the current caller is an admin
func IsAdmin(c echo.Context) bool {
	candidate, err := CurrentCandidate(c)
	if err != nil {
		return false
	}
	return candidate.IsAdmin()
}
