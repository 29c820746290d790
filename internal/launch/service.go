// Package launch owns the dispatch path shared by the submit handler's
// greedy immediate launch and the reconciler's queue processing.
package launch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tsanders-rh/gpuctl/internal/events"
	"github.com/tsanders-rh/gpuctl/internal/fsresolver"
	"github.com/tsanders-rh/gpuctl/internal/provider"
	"github.com/tsanders-rh/gpuctl/internal/store"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// Slot is a dispatchable (type, region) pair with its price at match time
type Slot struct {
	InstanceType      string
	Region            string
	PriceCentsPerHour int64
}

// FindSlot picks the first pair in instanceTypes × regions order whose type
// has capacity in the region. Ordering is caller-supplied, which makes the
// match deterministic.
func FindSlot(instanceTypes, regions []string, capacity []provider.InstanceType) *Slot {
	byName := map[string]provider.InstanceType{}
	for _, t := range capacity {
		byName[t.Name] = t
	}

	for _, typeName := range instanceTypes {
		t, ok := byName[typeName]
		if !ok {
			continue
		}
		for _, region := range regions {
			if t.HasCapacity(region) {
				return &Slot{
					InstanceType:      typeName,
					Region:            region,
					PriceCentsPerHour: t.PriceCentsPerHour,
				}
			}
		}
	}
	return nil
}

// CheapestPrice returns the lowest hourly price among the selected types.
// The second return is false when none of the names are known.
func CheapestPrice(instanceTypes []string, capacity []provider.InstanceType) (int64, bool) {
	byName := map[string]provider.InstanceType{}
	for _, t := range capacity {
		byName[t.Name] = t
	}

	var cheapest int64
	found := false
	for _, name := range instanceTypes {
		t, ok := byName[name]
		if !ok {
			continue
		}
		if !found || t.PriceCentsPerHour < cheapest {
			cheapest = t.PriceCentsPerHour
			found = true
		}
	}
	return cheapest, found
}

// KnownTypes returns the requested names that do not exist upstream
func KnownTypes(instanceTypes []string, capacity []provider.InstanceType) []string {
	byName := map[string]bool{}
	for _, t := range capacity {
		byName[t.Name] = true
	}

	unknown := []string{}
	for _, name := range instanceTypes {
		if !byName[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Service performs VM dispatch against the upstream provider
type Service struct {
	store      *store.Store
	provider   provider.API
	resolver   *fsresolver.Resolver
	events     *events.Publisher
	appBaseURL string
}

// NewService creates a launch service
func NewService(st *store.Store, p provider.API, resolver *fsresolver.Resolver, ev *events.Publisher, appBaseURL string) *Service {
	return &Service{
		store:      st,
		provider:   p,
		resolver:   resolver,
		events:     ev,
		appBaseURL: appBaseURL,
	}
}

// EnsureSSHKey registers the user's public key upstream under the
// deterministic per-user name and records it locally. Re-registration of the
// same name collapses to the existing upstream key.
func (s *Service) EnsureSSHKey(ctx context.Context, email, publicKey string) (string, error) {
	keyName := types.SSHKeyNameForEmail(email)

	if existing, err := s.store.SSHKeys.Get(ctx, email, keyName); err == nil && existing.PublicKey == publicKey {
		return keyName, nil
	}

	if _, err := s.provider.AddSSHKey(ctx, keyName, publicKey); err != nil {
		return "", fmt.Errorf("register ssh key %s: %w", keyName, err)
	}

	record := &types.SSHKey{
		Email:        email,
		KeyName:      keyName,
		PublicKey:    publicKey,
		RegisteredAt: time.Now().UTC(),
	}
	if err := s.store.SSHKeys.Put(ctx, record); err != nil {
		return "", fmt.Errorf("record ssh key: %w", err)
	}

	return keyName, nil
}

// Dispatch resolves filesystems, starts any loader VMs, launches the user VM
// and persists its record. capacity is the live listing the slot was matched
// against; loader VMs reuse it to pick their own instance type.
func (s *Service) Dispatch(ctx context.Context, req *types.LaunchRequest, slot Slot, sshKeyName string, capacity []provider.InstanceType) (*types.VM, error) {
	settings, err := s.store.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	resolved, err := s.resolver.Resolve(ctx, fsresolver.Input{
		Region:         slot.Region,
		CandidateEmail: req.CandidateEmail,
		AttachPersonal: req.AttachFilesystem,
		Settings:       *settings,
		AppBaseURL:     s.appBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve filesystems: %w", err)
	}

	for _, loader := range resolved.Loaders {
		s.launchLoader(ctx, loader, sshKeyName, capacity)
	}

	userData := fsresolver.ComposeUserData(settings.SetupScript, resolved.ReadonlyRemountScript)

	instanceID, err := s.provider.Launch(ctx, provider.LaunchSpec{
		Name:            "web-" + types.SanitizeEmail(req.CandidateEmail),
		InstanceType:    slot.InstanceType,
		Region:          slot.Region,
		SSHKeyNames:     []string{sshKeyName},
		FilesystemNames: resolved.FilesystemNames,
		UserData:        userData,
	})
	if err != nil {
		return nil, err
	}

	vm := &types.VM{
		InstanceID:        instanceID,
		CandidateEmail:    req.CandidateEmail,
		InstanceType:      slot.InstanceType,
		Region:            slot.Region,
		PriceCentsPerHour: slot.PriceCentsPerHour,
		LaunchedAt:        time.Now().UTC(),
		Status:            types.VMStatusLaunching,
		SSHKeyName:        sshKeyName,
	}
	if err := s.store.VMs.Put(ctx, vm); err != nil {
		return nil, fmt.Errorf("persist vm record: %w", err)
	}

	s.events.VMLaunched(vm)
	return vm, nil
}

// launchLoader starts one seeding VM. Failures are logged, not fatal. The
// filesystem was already created, and Resolve only claims filesystems that
// do not exist upstream, so no later call launches a replacement loader.
func (s *Service) launchLoader(ctx context.Context, loader fsresolver.LoaderSpec, sshKeyName string, capacity []provider.InstanceType) {
	loaderType := cheapestTypeInRegion(capacity, loader.Region)
	if loaderType == "" {
		log.Printf("no capacity for loader VM %s in %s", loader.FilesystemName, loader.Region)
		return
	}

	instanceID, err := s.provider.Launch(ctx, provider.LaunchSpec{
		Name:            loader.InstanceName,
		InstanceType:    loaderType,
		Region:          loader.Region,
		SSHKeyNames:     []string{sshKeyName},
		FilesystemNames: []string{loader.FilesystemName},
		UserData:        loader.UserData,
	})
	if err != nil {
		log.Printf("launch loader VM for %s/%s: %v", loader.FilesystemName, loader.Region, err)
		return
	}

	status, err := s.store.SeedStatus.Get(ctx, loader.FilesystemName, loader.Region)
	if err != nil {
		log.Printf("load seed status %s/%s: %v", loader.FilesystemName, loader.Region, err)
		return
	}
	if status.SeedingInstanceID == loader.ClaimID {
		status.SeedingInstanceID = instanceID
		if err := s.store.SeedStatus.Put(ctx, status); err != nil {
			log.Printf("record seeding instance %s: %v", instanceID, err)
		}
	}
}

func cheapestTypeInRegion(capacity []provider.InstanceType, region string) string {
	var name string
	var price int64
	for _, t := range capacity {
		if !t.HasCapacity(region) {
			continue
		}
		if name == "" || t.PriceCentsPerHour < price {
			name = t.Name
			price = t.PriceCentsPerHour
		}
	}
	return name
}
