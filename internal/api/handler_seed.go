package api

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/store"
)

// SeedHandler receives completion callbacks from loader VMs
type SeedHandler struct {
	store  *store.Store
	events *events.Publisher
}

// NewSeedHandler creates a new seed handler
func NewSeedHandler(s *store.Store, ev *events.Publisher) *SeedHandler {
	return &SeedHandler{store: s, events: ev}
}

// SeedCompleteRequest is the loader VM callback body
type SeedCompleteRequest struct {
	FilesystemName string `json:"filesystemName" validate:"required"`
	Region         string `json:"region" validate:"required"`
}

// Complete handles POST /api/seed-complete. Idempotent: repeated reports for
// the same (filesystem, region) all succeed.
func (h *SeedHandler) Complete(c echo.Context) error {
	ctx := c.Request().Context()

	settings, err := h.store.Settings.Get(ctx)
	if err != nil {
		return ErrorInternal(c, "Failed to load settings")
	}

	authHeader := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ErrorUnauthorized(c, "missing bearer token")
	}
	if settings.SeedCompleteSecret == "" ||
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(settings.SeedCompleteSecret)) != 1 {
		return ErrorUnauthorized(c, "invalid seed-complete token")
	}

	var req SeedCompleteRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return ErrorBadRequest(c, "filesystemName and region are required")
	}

	if err := h.store.SeedStatus.MarkReady(ctx, req.FilesystemName, req.Region); err != nil {
		return ErrorInternal(c, "Failed to mark filesystem ready")
	}

	h.events.FilesystemReady(req.FilesystemName, req.Region)

	return SuccessOK(c, map[string]string{"status": "ok"})
}
