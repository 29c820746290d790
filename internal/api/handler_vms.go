package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsanders-rh/gpuctl/internal/auth"
	"github.com/tsanders-rh/gpuctl/internal/cost"
	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/metrics"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// refreshLimit bounds the opportunistic upstream refresh on GET /api/vms so
// the synchronous path stays fast
const refreshLimit = 10

// VMHandler handles VM endpoints
type VMHandler struct {
	store    *store.Store
	provider provider.API
	launcher *launch.Service
	events   *events.Publisher
}

// NewVMHandler creates a new VM handler
func NewVMHandler(s *store.Store, p provider.API, launcher *launch.Service, ev *events.Publisher) *VMHandler {
	return &VMHandler{store: s, provider: p, launcher: launcher, events: ev}
}

// LaunchVMRequest is the immediate single-shot launch body
type LaunchVMRequest struct {
	InstanceType     string `json:"instanceType" validate:"required"`
	Region           string `json:"region" validate:"required"`
	SSHPublicKey     string `json:"sshPublicKey" validate:"required"`
	AttachFilesystem bool   `json:"attachFilesystem"`
}

// InstanceIDRequest identifies one VM
type InstanceIDRequest struct {
	InstanceID string `json:"instanceId" validate:"required"`
}

// List handles GET /api/vms. Admins see all VMs, candidates their own. The
// caller's non-terminal VMs get an opportunistic upstream refresh; refresh
// errors are ignored, the reconciler is the authority.
func (h *VMHandler) List(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	var vms []*types.VM
	if candidate.IsAdmin() {
		vms, err = h.store.VMs.List(ctx)
	} else {
		vms, err = h.store.VMs.ListByEmail(ctx, candidate.Email)
	}
	if err != nil {
		return ErrorInternal(c, "Failed to list VMs")
	}

	refreshed := 0
	for _, vm := range vms {
		if vm.Terminal() || refreshed >= refreshLimit {
			continue
		}
		refreshed++

		up, err := h.provider.GetInstance(ctx, vm.InstanceID)
		if err != nil {
			continue
		}
		vm.Status = types.VMStatus(up.Status)
		if up.IP != "" {
			vm.IPAddress = up.IP
		}
		if err := h.store.VMs.Put(ctx, vm); err != nil {
			continue
		}
	}

	return SuccessOK(c, vms)
}

// Launch handles POST /api/vms/launch: an immediate launch of exactly one
// (type, region) pair, no queueing.
func (h *VMHandler) Launch(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req LaunchVMRequest
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

	if !candidate.IsAdmin() {
		active, err := h.store.VMs.ListActiveByEmail(ctx, candidate.Email)
		if err != nil {
			return ErrorInternal(c, "Failed to check active VMs")
		}
		if len(active) > 0 {
			return ErrorConflict(c, "You already have an active VM")
		}
	}

	capacity, err := h.provider.ListInstanceTypes(ctx)
	if err != nil {
		return ErrorFrom(c, err, "fetch capacity")
	}

	slot := launch.FindSlot([]string{req.InstanceType}, []string{req.Region}, capacity)
	if slot == nil {
		return ErrorBadRequest(c, "No capacity for the selected instance type and region")
	}

	now := time.Now().UTC()
	if !candidate.IsAdmin() {
		vms, err := h.store.VMs.ListByEmail(ctx, candidate.Email)
		if err != nil {
			return ErrorInternal(c, "Failed to compute spend")
		}
		spent := cost.Spent(vms, candidate.SpentResetAt, now)
		if candidate.QuotaCents()-spent < slot.PriceCentsPerHour {
			return ErrorQuotaExhausted(c, "Insufficient quota for this instance type")
		}
	}

	keyName, err := h.launcher.EnsureSSHKey(ctx, candidate.Email, req.SSHPublicKey)
	if err != nil {
		return ErrorFrom(c, err, "register ssh key")
	}

	vm, err := h.launcher.Dispatch(ctx, &types.LaunchRequest{
		CandidateEmail:   candidate.Email,
		AttachFilesystem: req.AttachFilesystem,
	}, *slot, keyName, capacity)
	if err != nil {
		return ErrorFrom(c, err, "launch instance")
	}

	metrics.Launches.WithLabelValues("immediate").Inc()
	return SuccessCreated(c, vm)
}

// Terminate handles POST /api/vms/terminate
func (h *VMHandler) Terminate(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req InstanceIDRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	vm, err := h.store.VMs.Get(ctx, req.InstanceID)
	if err != nil {
		return ErrorFrom(c, err, "VM")
	}
	if !candidate.IsAdmin() && vm.CandidateEmail != candidate.Email {
		return ErrorForbidden(c, "You do not have access to this VM")
	}
	if vm.Terminal() {
		// Terminating a terminated VM is an error but never mutates it.
		return ErrorConflict(c, "VM is already terminated")
	}

	if err := h.provider.Terminate(ctx, []string{vm.InstanceID}); err != nil {
		return ErrorFrom(c, err, "terminate instance")
	}

	now := time.Now().UTC()
	vm.Status = types.VMStatusTerminated
	vm.TerminatedAt = &now
	vm.TerminationReason = types.ReasonUserRequested
	vm.AccruedCents = cost.Accrued(vm.LaunchedAt, now, vm.PriceCentsPerHour)
	if err := h.store.VMs.Put(ctx, vm); err != nil {
		return ErrorInternal(c, "Failed to persist VM")
	}

	metrics.Terminations.WithLabelValues(types.ReasonUserRequested).Inc()
	h.events.VMTerminated(vm)

	h.refreshSpent(ctx, vm.CandidateEmail, now)
	h.cleanupSSHKeyIfIdle(ctx, vm.CandidateEmail)

	return SuccessOK(c, vm)
}

// Restart handles POST /api/vms/restart
func (h *VMHandler) Restart(c echo.Context) error {
	candidate, err := auth.CurrentCandidate(c)
	if err != nil {
		return err
	}

	var req InstanceIDRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	vm, err := h.store.VMs.Get(ctx, req.InstanceID)
	if err != nil {
		return ErrorFrom(c, err, "VM")
	}
	if !candidate.IsAdmin() && vm.CandidateEmail != candidate.Email {
		return ErrorForbidden(c, "You do not have access to this VM")
	}
	if vm.Terminal() {
		return ErrorConflict(c, "VM is terminated")
	}

	if err := h.provider.Restart(ctx, vm.InstanceID); err != nil {
		return ErrorFrom(c, err, "restart instance")
	}

	vm.Status = types.VMStatusRestarting
	if err := h.store.VMs.Put(ctx, vm); err != nil {
		return ErrorInternal(c, "Failed to persist VM")
	}

	return SuccessOK(c, vm)
}

// refreshSpent recomputes the candidate's cached spend after a termination
func (h *VMHandler) refreshSpent(ctx context.Context, email string, now time.Time) {
	candidate, err := h.store.Candidates.Get(ctx, email)
	if err != nil {
		return
	}
	vms, err := h.store.VMs.ListByEmail(ctx, email)
	if err != nil {
		return
	}
	candidate.SpentCents = cost.Spent(vms, candidate.SpentResetAt, now)
	_ = h.store.Candidates.Put(ctx, candidate)
}

// cleanupSSHKeyIfIdle deletes the user's upstream and local SSH key records
// once they have no active VMs left
func (h *VMHandler) cleanupSSHKeyIfIdle(ctx context.Context, email string) {
	active, err := h.store.VMs.ListActiveByEmail(ctx, email)
	if err != nil || len(active) > 0 {
		return
	}

	keys, err := h.store.SSHKeys.ListByEmail(ctx, email)
	if err != nil {
		return
	}
	for _, key := range keys {
		if err := h.provider.DeleteSSHKey(ctx, key.KeyName); err != nil {
			continue
		}
		_ = h.store.SSHKeys.Delete(ctx, key.Email, key.KeyName)
	}
}
