// Package reconciler runs the scheduled tick that syncs local VM records
// with upstream truth, accrues cost, enforces quotas, processes the launch
// queue and cleans up stale seed claims. Every pass is idempotent; a tick
// may partially fail and the next tick converges.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/tsanders-rh/gpuctl/internal/cost"
	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/launch"
	"github.com/tsanders-rh/gpuctl/internal/metrics"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// Config holds reconciler configuration
type Config struct {
	TickInterval   time.Duration
	SeedClaimStale time.Duration

	// ProvisioningRetryAfter re-queues requests stuck in provisioning, e.g.
	// after a crash between the status write and the launch call.
	ProvisioningRetryAfter time.Duration
}

// DefaultConfig returns default reconciler configuration
func DefaultConfig() *Config {
	return &Config{
		TickInterval:           1 * time.Minute,
		SeedClaimStale:         60 * time.Minute,
		ProvisioningRetryAfter: 2 * time.Minute,
	}
}

// Reconciler performs the periodic sync
type Reconciler struct {
	config   *Config
	store    *store.Store
	provider provider.API
	launcher *launch.Service
	events   *events.Publisher
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a reconciler instance
func New(config *Config, st *store.Store, p provider.API, launcher *launch.Service, ev *events.Publisher) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Reconciler{
		config:   config,
		store:    st,
		provider: p,
		launcher: launcher,
		events:   ev,
	}
}

// Start runs the tick loop until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	log.Printf("Reconciler starting (tick_interval=%s)", r.config.TickInterval)

	// Run immediately on start
	r.Tick(r.ctx)

	ticker := time.NewTicker(r.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Printf("Reconciler shutting down")
			return r.ctx.Err()

		case <-ticker.C:
			r.Tick(r.ctx)
		}
	}
}

// Stop stops the reconciler gracefully
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Tick performs one full reconciliation pass
func (r *Reconciler) Tick(ctx context.Context) {
	if err := r.SyncVMs(ctx); err != nil {
		log.Printf("Error syncing VMs: %v", err)
	}

	if err := r.ProcessQueue(ctx); err != nil {
		log.Printf("Error processing launch queue: %v", err)
	}

	if err := r.CleanupSeedClaims(ctx); err != nil {
		log.Printf("Error cleaning up seed claims: %v", err)
	}

	metrics.ReconcilerTicks.Inc()
}

// SyncVMs is Pass A: refresh every non-terminal VM from upstream truth,
// accrue cost, enforce quota/account/max-hours rules, and clean up SSH keys
// for candidates with no remaining VMs.
func (r *Reconciler) SyncVMs(ctx context.Context) error {
	instances, err := r.provider.ListInstances(ctx)
	if err != nil {
		return err
	}

	byID := map[string]provider.Instance{}
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	vms, err := r.store.VMs.List(ctx)
	if err != nil {
		return err
	}

	settings, err := r.store.Settings.Get(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	touched := map[string]bool{}

	for _, vm := range vms {
		if vm.Terminal() {
			continue
		}

		up, ok := byID[vm.InstanceID]
		if !ok || up.Status == string(types.VMStatusTerminated) {
			r.finalize(vm, now, types.ReasonTerminatedExternally)
		} else {
			vm.Status = types.VMStatus(up.Status)
			if up.IP != "" {
				vm.IPAddress = up.IP
			}
			vm.AccruedCents = cost.Accrued(vm.LaunchedAt, now, vm.PriceCentsPerHour)
		}
		vm.LastCheckedAt = &now

		if err := r.store.VMs.Put(ctx, vm); err != nil {
			log.Printf("Failed to persist VM %s: %v", vm.InstanceID, err)
			continue
		}
		touched[vm.CandidateEmail] = true
	}

	var toKill []*types.VM
	killReasons := map[string]string{}

	for email := range touched {
		candidateVMs, err := r.store.VMs.ListByEmail(ctx, email)
		if err != nil {
			log.Printf("Failed to list VMs for %s: %v", email, err)
			continue
		}

		active := []*types.VM{}
		for _, vm := range candidateVMs {
			if !vm.Terminal() {
				active = append(active, vm)
			}
		}

		candidate, err := r.store.Candidates.Get(ctx, email)
		if err == store.ErrNotFound || (err == nil && !candidate.Active()) {
			for _, vm := range active {
				toKill = append(toKill, vm)
				killReasons[vm.InstanceID] = types.ReasonAccountRemoved
			}
			continue
		}
		if err != nil {
			log.Printf("Failed to load candidate %s: %v", email, err)
			continue
		}

		spent := cost.Spent(candidateVMs, candidate.SpentResetAt, now)
		candidate.SpentCents = spent
		if err := r.store.Candidates.Put(ctx, candidate); err != nil {
			log.Printf("Failed to persist candidate %s: %v", email, err)
		}

		if !candidate.IsAdmin() && spent >= candidate.QuotaCents() {
			for _, vm := range active {
				toKill = append(toKill, vm)
				killReasons[vm.InstanceID] = types.ReasonQuotaExceeded
			}
			continue
		}

		if settings.MaxVMHours > 0 {
			maxAge := time.Duration(settings.MaxVMHours) * time.Hour
			for _, vm := range active {
				if now.Sub(vm.LaunchedAt) > maxAge {
					toKill = append(toKill, vm)
					killReasons[vm.InstanceID] = types.ReasonMaxHoursExceeded
				}
			}
		}
	}

	if len(toKill) > 0 {
		ids := make([]string, 0, len(toKill))
		for _, vm := range toKill {
			ids = append(ids, vm.InstanceID)
		}

		// One batched terminate; on failure the next tick retries once
		// upstream truth reports the instances gone.
		if err := r.provider.Terminate(ctx, ids); err != nil {
			log.Printf("Failed to terminate %d VMs: %v", len(ids), err)
		} else {
			for _, vm := range toKill {
				r.finalize(vm, now, killReasons[vm.InstanceID])
				if err := r.store.VMs.Put(ctx, vm); err != nil {
					log.Printf("Failed to persist terminated VM %s: %v", vm.InstanceID, err)
				}
			}
		}
	}

	r.cleanupSSHKeys(ctx)
	return nil
}

// finalize marks a VM terminated and freezes its accrued cost
func (r *Reconciler) finalize(vm *types.VM, now time.Time, reason string) {
	vm.Status = types.VMStatusTerminated
	vm.TerminatedAt = &now
	if vm.TerminationReason == "" {
		vm.TerminationReason = reason
	}
	vm.AccruedCents = cost.Accrued(vm.LaunchedAt, now, vm.PriceCentsPerHour)

	metrics.Terminations.WithLabelValues(vm.TerminationReason).Inc()
	r.events.VMTerminated(vm)
}

// cleanupSSHKeys removes upstream and local keys for candidates with no
// active VMs left
func (r *Reconciler) cleanupSSHKeys(ctx context.Context) {
	keys, err := r.store.SSHKeys.List(ctx)
	if err != nil {
		log.Printf("Failed to list ssh keys: %v", err)
		return
	}

	for _, key := range keys {
		active, err := r.store.VMs.ListActiveByEmail(ctx, key.Email)
		if err != nil {
			log.Printf("Failed to list VMs for %s: %v", key.Email, err)
			continue
		}
		if len(active) > 0 {
			continue
		}

		if err := r.provider.DeleteSSHKey(ctx, key.KeyName); err != nil {
			log.Printf("Failed to delete upstream ssh key %s: %v", key.KeyName, err)
			continue
		}
		if err := r.store.SSHKeys.Delete(ctx, key.Email, key.KeyName); err != nil {
			log.Printf("Failed to delete ssh key record %s: %v", key.KeyName, err)
		}
	}
}

// ProcessQueue is Pass B: dispatch queued launch requests FIFO by createdAt
func (r *Reconciler) ProcessQueue(ctx context.Context) error {
	requests, err := r.store.LaunchRequests.List(ctx)
	if err != nil {
		return err
	}

	pending := []*types.LaunchRequest{}
	queued := 0
	for _, req := range requests {
		switch req.Status {
		case types.LaunchRequestQueued:
			pending = append(pending, req)
			queued++
		case types.LaunchRequestProvisioning:
			// A request stuck in provisioning past the threshold was
			// interrupted between the status write and the launch; retry it.
			ref := req.CreatedAt
			if req.LastAttemptAt != nil {
				ref = *req.LastAttemptAt
			}
			if time.Since(ref) > r.config.ProvisioningRetryAfter {
				pending = append(pending, req)
			}
		}
	}
	metrics.QueueDepth.Set(float64(queued))

	if len(pending) == 0 {
		return nil
	}

	capacity, err := r.provider.ListInstanceTypes(ctx)
	if err != nil {
		return err
	}

	for _, req := range pending {
		if err := r.dispatch(ctx, req, capacity); err != nil {
			log.Printf("Failed to dispatch request %s: %v", req.ID, err)
		}
	}
	return nil
}

// dispatch attempts one queued request
func (r *Reconciler) dispatch(ctx context.Context, req *types.LaunchRequest, capacity []provider.InstanceType) error {
	now := time.Now().UTC()

	candidate, err := r.store.Candidates.Get(ctx, req.CandidateEmail)
	if err == store.ErrNotFound || (err == nil && !candidate.Active()) {
		req.Status = types.LaunchRequestCancelled
		req.FailureReason = types.FailureCandidateDeactivated
		req.CancelledAt = &now
		return r.store.LaunchRequests.Put(ctx, req)
	}
	if err != nil {
		return err
	}

	if !candidate.IsAdmin() {
		active, err := r.store.VMs.ListActiveByEmail(ctx, req.CandidateEmail)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			// One VM per candidate; retry after theirs terminates.
			return nil
		}
	}

	slot := launch.FindSlot(req.InstanceTypes, req.Regions, capacity)
	if slot == nil {
		req.Status = types.LaunchRequestQueued
		req.Attempts++
		req.LastAttemptAt = &now
		return r.store.LaunchRequests.Put(ctx, req)
	}

	if !candidate.IsAdmin() {
		vms, err := r.store.VMs.ListByEmail(ctx, req.CandidateEmail)
		if err != nil {
			return err
		}
		spent := cost.Spent(vms, candidate.SpentResetAt, now)
		if candidate.QuotaCents()-spent < slot.PriceCentsPerHour {
			req.Status = types.LaunchRequestFailed
			req.FailureReason = types.FailureInsufficientQuota
			return r.store.LaunchRequests.Put(ctx, req)
		}
	}

	// Persist provisioning before launching so an overlapping tick cannot
	// dispatch the same request twice.
	req.Status = types.LaunchRequestProvisioning
	req.Attempts++
	req.LastAttemptAt = &now
	if err := r.store.LaunchRequests.Put(ctx, req); err != nil {
		return err
	}

	keyName, err := r.launcher.EnsureSSHKey(ctx, req.CandidateEmail, req.SSHPublicKey)
	if err != nil {
		return r.requeueOrFail(ctx, req, err)
	}

	vm, err := r.launcher.Dispatch(ctx, req, *slot, keyName, capacity)
	if err != nil {
		return r.requeueOrFail(ctx, req, err)
	}

	fulfilledAt := time.Now().UTC()
	req.Status = types.LaunchRequestFulfilled
	req.FulfilledAt = &fulfilledAt
	req.FulfilledInstanceID = vm.InstanceID
	if err := r.store.LaunchRequests.Put(ctx, req); err != nil {
		return err
	}

	metrics.Launches.WithLabelValues("queued").Inc()
	return nil
}

// requeueOrFail fails a request when the provider rejects the launch as
// permanent and returns it to the queue on every other error
func (r *Reconciler) requeueOrFail(ctx context.Context, req *types.LaunchRequest, cause error) error {
	if provider.IsKind(cause, provider.KindPermanent) {
		req.Status = types.LaunchRequestFailed
		req.FailureReason = "launch rejected by provider"
	} else {
		req.Status = types.LaunchRequestQueued
	}
	if err := r.store.LaunchRequests.Put(ctx, req); err != nil {
		log.Printf("Failed to persist request %s after launch error: %v", req.ID, err)
	}
	return cause
}

// CleanupSeedClaims is Pass C: delete seeding claims older than the stale
// threshold so a later resolver can retry
func (r *Reconciler) CleanupSeedClaims(ctx context.Context) error {
	statuses, err := r.store.SeedStatus.List(ctx)
	if err != nil {
		return err
	}

	for _, status := range statuses {
		if status.Status != types.SeedStateSeeding {
			continue
		}
		if time.Since(status.ClaimedAt) < r.config.SeedClaimStale {
			continue
		}

		log.Printf("Deleting stale seed claim %s/%s (claimed %s)",
			status.FilesystemName, status.Region, status.ClaimedAt.Format(time.RFC3339))
		if err := r.store.SeedStatus.Delete(ctx, status.FilesystemName, status.Region); err != nil {
			log.Printf("Failed to delete stale seed claim: %v", err)
		}
	}
	return nil
}
