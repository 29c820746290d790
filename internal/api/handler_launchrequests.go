package api

import (
	"fmt"
	"log"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/cost"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/metrics"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// LaunchRequestHandler handles launch request endpoints
type LaunchRequestHandler struct {
	store    *store.Store
	provider provider.API
	launcher *launch.Service
}

// NewLaunchRequestHandler creates a new launch request handler
func NewLaunchRequestHandler(s *store.Store, p provider.API, launcher *launch.Service) *LaunchRequestHandler {
	return &LaunchRequestHandler{store: s, provider: p, launcher: launcher}
}

// SubmitLaunchRequest is the POST /api/launch-requests body
type SubmitLaunchRequest struct {
	InstanceTypes    []string `json:"instanceTypes" validate:"required,min=1"`
	Regions          []string `json:"regions" validate:"required,min=1"`
	SSHPublicKey     string   `json:"sshPublicKey" validate:"required"`
	AttachFilesystem bool     `json:"attachFilesystem"`
}

// CancelLaunchRequest is the POST /api/launch-requests/cancel body
type CancelLaunchRequest struct {
	ID string `json:"id" validate:"required"`
}

// List handles GET /api/launch-requests
func (h *LaunchRequestHandler) List(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var requests []*types.LaunchRequest
	if candidate.IsAdmin() {
		requests, err = h.store.LaunchRequests.List(ctx)
	} else {
		requests, err = h.store.LaunchRequests.ListByEmail(ctx, candidate.Email)
	}
	if err != nil {
		return ErrorInternal(c, "Failed to list launch requests")
	}

	return SuccessOK(c, requests)
}

// Submit handles POST /api/launch-requests: admission checks, a greedy
// immediate dispatch attempt, and otherwise queueing for the reconciler.
// Returns 201 with a fulfilled request or 202 with a queued one.
func (h *LaunchRequestHandler) Submit(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req SubmitLaunchRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	if err := auth.ValidateSSHPublicKey(req.SSHPublicKey); err != nil {
		return ErrorBadRequest(c, "Invalid SSH public key")
	}

	ctx := c.Request().Context()

	// Per-user guards: one active VM, one request in flight.
	if !candidate.IsAdmin() {
		active, err := h.store.VMs.ListActiveByEmail(ctx, candidate.Email)
		if err != nil {
			return ErrorInternal(c, "Failed to check active VMs")
		}
		if len(active) > 0 {
			return ErrorConflict(c, "You already have an active VM")
		}

		if _, err := h.store.LaunchRequests.FindPending(ctx, candidate.Email); err == nil {
			return ErrorConflict(c, "You already have a pending launch request")
		} else if err != store.ErrNotFound {
			return ErrorInternal(c, "Failed to check pending requests")
		}
	}

	capacity, err := h.provider.ListInstanceTypes(ctx)
	if err != nil {
		return ErrorFrom(c, err, "fetch capacity")
	}

	if unknown := launch.KnownTypes(req.InstanceTypes, capacity); len(unknown) > 0 {
		return ErrorBadRequest(c, fmt.Sprintf("Unknown instance type: %s", unknown[0]))
	}

	now := time.Now().UTC()
	var spent int64
	if !candidate.IsAdmin() {
		vms, err := h.store.VMs.ListByEmail(ctx, candidate.Email)
		if err != nil {
			return ErrorInternal(c, "Failed to compute spend")
		}
		spent = cost.Spent(vms, candidate.SpentResetAt, now)

		cheapest, ok := launch.CheapestPrice(req.InstanceTypes, capacity)
		if !ok || candidate.QuotaCents()-spent < cheapest {
			return ErrorQuotaExhausted(c, "Insufficient quota for the selected instance types")
		}
	}

	keyName, err := h.launcher.EnsureSSHKey(ctx, candidate.Email, req.SSHPublicKey)
	if err != nil {
		return ErrorFrom(c, err, "register ssh key")
	}

	lr := &types.LaunchRequest{
		ID:               types.GenerateRequestID(),
		CandidateEmail:   candidate.Email,
		InstanceTypes:    req.InstanceTypes,
		Regions:          req.Regions,
		SSHPublicKey:     req.SSHPublicKey,
		AttachFilesystem: req.AttachFilesystem,
		CreatedAt:        now,
	}

	// Greedy immediate dispatch; any upstream failure falls through to the
	// queue instead of surfacing to the user.
	if slot := launch.FindSlot(req.InstanceTypes, req.Regions, capacity); slot != nil {
		if candidate.IsAdmin() || candidate.QuotaCents()-spent >= slot.PriceCentsPerHour {
			vm, err := h.launcher.Dispatch(ctx, lr, *slot, keyName, capacity)
			if err == nil {
				fulfilledAt := time.Now().UTC()
				lr.Status = types.LaunchRequestFulfilled
				lr.Attempts = 1
				lr.LastAttemptAt = &now
				lr.FulfilledAt = &fulfilledAt
				lr.FulfilledInstanceID = vm.InstanceID
				if err := h.store.LaunchRequests.Put(ctx, lr); err != nil {
					return ErrorInternal(c, "Failed to persist launch request")
				}
				metrics.Launches.WithLabelValues("immediate").Inc()
				return SuccessCreated(c, lr)
			}
			log.Printf("Immediate dispatch for %s failed, queueing: %v", candidate.Email, err)
		}
	}

	lr.Status = types.LaunchRequestQueued
	if err := h.store.LaunchRequests.Put(ctx, lr); err != nil {
		return ErrorInternal(c, "Failed to persist launch request")
	}

	return SuccessAccepted(c, lr)
}

// Cancel handles POST /api/launch-requests/cancel. Only queued requests are
// cancellable.
func (h *LaunchRequestHandler) Cancel(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req CancelLaunchRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	lr, err := h.store.LaunchRequests.Get(ctx, req.ID)
	if err != nil {
		return ErrorFrom(c, err, "launch request")
	}
	if !candidate.IsAdmin() && lr.CandidateEmail != candidate.Email {
		return ErrorForbidden(c, "You do not have access to this launch request")
	}

	if lr.Status != types.LaunchRequestQueued {
		return ErrorConflict(c, fmt.Sprintf("Cannot cancel a %s request", lr.Status))
	}

	now := time.Now().UTC()
	lr.Status = types.LaunchRequestCancelled
	lr.CancelledAt = &now
	if err := h.store.LaunchRequests.Put(ctx, lr); err != nil {
		return ErrorInternal(c, "Failed to persist launch request")
	}

	return SuccessOK(c, lr)
}
