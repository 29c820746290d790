package api

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/cost"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// AdminHandler handles the admin surface: candidates, quotas, settings
type AdminHandler struct {
	store *store.Store
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(s *store.Store) *AdminHandler {
	return &AdminHandler{store: s}
}

// AddCandidateRequest is the POST /api/admin/candidates body
type AddCandidateRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Name         string `json:"name" validate:"required"`
	QuotaDollars int    `json:"quotaDollars" validate:"required,min=1"`
	Role         string `json:"role" validate:"omitempty,oneof=candidate admin"`
}

// SetQuotaRequest is the POST /api/admin/quota body
type SetQuotaRequest struct {
	Email        string `json:"email" validate:"required,email"`
	QuotaDollars int    `json:"quotaDollars" validate:"required,min=1"`
}

// ListCandidates handles GET /api/admin/candidates. Spent values are
// computed live, not the cached cents.
func (h *AdminHandler) ListCandidates(c echo.Context) error {
	ctx := c.Request().Context()

	candidates, err := h.store.Candidates.List(ctx)
	if err != nil {
		return ErrorInternal(c, "Failed to list candidates")
	}

	now := time.Now().UTC()
	for _, candidate := range candidates {
		vms, err := h.store.VMs.ListByEmail(ctx, candidate.Email)
		if err != nil {
			continue
		}
		candidate.SpentCents = cost.Spent(vms, candidate.SpentResetAt, now)
	}

	return SuccessOK(c, candidates)
}

// AddCandidate handles POST /api/admin/candidates. Re-adding a deactivated
// candidate reactivates them with a fresh spentResetAt, which zeroes their
// visible spend while keeping old VM records.
func (h *AdminHandler) AddCandidate(c echo.Context) error {
	admin, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req AddCandidateRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	email := strings.ToLower(req.Email)
	role := types.RoleCandidate
	if req.Role == string(types.RoleAdmin) {
		role = types.RoleAdmin
	}

	ctx := c.Request().Context()
	now := time.Now().UTC()

	existing, err := h.store.Candidates.Get(ctx, email)
	if err == nil {
		existing.Name = req.Name
		existing.Role = role
		existing.QuotaDollars = req.QuotaDollars
		existing.DeactivatedAt = nil
		existing.SpentResetAt = &now
		existing.SpentCents = 0
		existing.AddedBy = admin.Email
		if err := h.store.Candidates.Put(ctx, existing); err != nil {
			return ErrorInternal(c, "Failed to update candidate")
		}
		return SuccessOK(c, existing)
	}
	if err != store.ErrNotFound {
		return ErrorInternal(c, "Failed to load candidate")
	}

	candidate := &types.Candidate{
		Email:        email,
		Name:         req.Name,
		Role:         role,
		QuotaDollars: req.QuotaDollars,
		AddedAt:      now,
		AddedBy:      admin.Email,
	}
	if err := h.store.Candidates.Put(ctx, candidate); err != nil {
		return ErrorInternal(c, "Failed to create candidate")
	}

	return SuccessCreated(c, candidate)
}

// RemoveCandidate handles DELETE /api/admin/candidates?email=. Candidates
// are deactivated, never deleted; the reconciler terminates their VMs.
func (h *AdminHandler) RemoveCandidate(c echo.Context) error {
	email := strings.ToLower(c.QueryParam("email"))
	if email == "" {
		return ErrorBadRequest(c, "email query parameter is required")
	}

	ctx := c.Request().Context()
	candidate, err := h.store.Candidates.Get(ctx, email)
	if err != nil {
		return ErrorFrom(c, err, "candidate")
	}

	if candidate.Active() {
		now := time.Now().UTC()
		candidate.DeactivatedAt = &now
		if err := h.store.Candidates.Put(ctx, candidate); err != nil {
			return ErrorInternal(c, "Failed to deactivate candidate")
		}
	}

	return SuccessOK(c, candidate)
}

// SetQuota handles POST /api/admin/quota
func (h *AdminHandler) SetQuota(c echo.Context) error {
	var req SetQuotaRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	candidate, err := h.store.Candidates.Get(ctx, req.Email)
	if err != nil {
		return ErrorFrom(c, err, "candidate")
	}

	candidate.QuotaDollars = req.QuotaDollars
	if err := h.store.Candidates.Put(ctx, candidate); err != nil {
		return ErrorInternal(c, "Failed to update candidate")
	}

	return SuccessOK(c, candidate)
}

// GetSettings handles GET /api/admin/settings with secrets masked
func (h *AdminHandler) GetSettings(c echo.Context) error {
	settings, err := h.store.Settings.Get(c.Request().Context())
	if err != nil {
		return ErrorInternal(c, "Failed to load settings")
	}

	return SuccessOK(c, maskSettings(settings))
}

// PutSettings handles PUT /api/admin/settings. Masked secret values sent
// back unchanged keep the stored secret.
func (h *AdminHandler) PutSettings(c echo.Context) error {
	var incoming types.Settings
	if err := c.Bind(&incoming); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}

	ctx := c.Request().Context()
	current, err := h.store.Settings.Get(ctx)
	if err != nil {
		return ErrorInternal(c, "Failed to load settings")
	}

	if incoming.LambdaAPIKey == maskSecret(current.LambdaAPIKey) {
		incoming.LambdaAPIKey = current.LambdaAPIKey
	}
	// The seed-complete secret is generated once and never client-writable.
	incoming.SeedCompleteSecret = current.SeedCompleteSecret

	for i := range incoming.DefaultFilesystems {
		src := &incoming.DefaultFilesystems[i].Source
		for _, cur := range current.DefaultFilesystems {
			if cur.Name != incoming.DefaultFilesystems[i].Name {
				continue
			}
			if src.SecretAccessKey == maskSecret(cur.Source.SecretAccessKey) {
				src.SecretAccessKey = cur.Source.SecretAccessKey
			}
			if src.ServiceAccountJSON == maskSecret(cur.Source.ServiceAccountJSON) {
				src.ServiceAccountJSON = cur.Source.ServiceAccountJSON
			}
		}
	}

	if err := h.store.Settings.Put(ctx, &incoming); err != nil {
		return ErrorInternal(c, "Failed to persist settings")
	}

	return SuccessOK(c, maskSettings(&incoming))
}

func maskSettings(settings *types.Settings) *types.Settings {
	masked := *settings
	masked.LambdaAPIKey = maskSecret(settings.LambdaAPIKey)
	masked.SeedCompleteSecret = maskSecret(settings.SeedCompleteSecret)

	masked.DefaultFilesystems = make([]types.DefaultFilesystem, len(settings.DefaultFilesystems))
	copy(masked.DefaultFilesystems, settings.DefaultFilesystems)
	for i := range masked.DefaultFilesystems {
		src := &masked.DefaultFilesystems[i].Source
		src.SecretAccessKey = maskSecret(src.SecretAccessKey)
		src.ServiceAccountJSON = maskSecret(src.ServiceAccountJSON)
	}

	return &masked
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
