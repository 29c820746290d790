package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/cost"
	"github.com/tsanders-rh/gpuctl/internal/store"
)

// AuthHandler handles identity endpoints
type AuthHandler struct {
	store *store.Store
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(s *store.Store) *AuthHandler {
	return &AuthHandler{store: s}
}

// GetMe handles GET /api/auth/me. The returned spentCents is computed live
// from VM records, not the cached value.
func (h *AuthHandler) GetMe(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	vms, err := h.store.VMs.ListByEmail(ctx, candidate.Email)
	if err != nil {
		return ErrorInternal(c, "Failed to compute spend")
	}

	profile := *candidate
	profile.SpentCents = cost.Spent(vms, candidate.SpentResetAt, time.Now().UTC())

	return SuccessOK(c, &profile)
}
