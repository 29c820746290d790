// Package providertest provides an in-memory provider.API for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsanders-rh/gpuctl/internal/provider"
)

// Fake implements provider.API against in-memory state. Create it with New:
// the zero value has nil maps, so Launch and AddSSHKey panic on it. Mutate
// the public fields to shape upstream behavior.
type Fake struct {
	mu sync.Mutex

	Types       []provider.InstanceType
	Instances   map[string]provider.Instance
	Filesystems []provider.Filesystem
	SSHKeys     map[string]provider.SSHKey

	LaunchErr    error
	TerminateErr error

	Launched   []provider.LaunchSpec
	Terminated [][]string

	nextID int
}

var _ provider.API = (*Fake)(nil)

// New creates an empty fake
func New() *Fake {
	return &Fake{
		Instances: map[string]provider.Instance{},
		SSHKeys:   map[string]provider.SSHKey{},
	}
}

// SetCapacity replaces the instance type listing
func (f *Fake) SetCapacity(types ...provider.InstanceType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Types = types
}

func (f *Fake) ListInstanceTypes(ctx context.Context) ([]provider.InstanceType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.InstanceType{}, f.Types...), nil
}

func (f *Fake) Launch(ctx context.Context, spec provider.LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.LaunchErr != nil {
		return "", f.LaunchErr
	}

	f.nextID++
	id := fmt.Sprintf("i-%06d", f.nextID)
	f.Instances[id] = provider.Instance{
		ID:           id,
		Name:         spec.Name,
		Status:       "booting",
		IP:           fmt.Sprintf("10.0.0.%d", f.nextID),
		Region:       spec.Region,
		InstanceType: spec.InstanceType,
	}
	f.Launched = append(f.Launched, spec)
	return id, nil
}

func (f *Fake) Terminate(ctx context.Context, instanceIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TerminateErr != nil {
		return f.TerminateErr
	}

	f.Terminated = append(f.Terminated, instanceIDs)
	for _, id := range instanceIDs {
		if inst, ok := f.Instances[id]; ok {
			inst.Status = "terminated"
			f.Instances[id] = inst
		}
	}
	return nil
}

func (f *Fake) Restart(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.Instances[instanceID]; !ok {
		return &provider.Error{Kind: provider.KindNotFound, Message: "instance not found"}
	}
	return nil
}

func (f *Fake) GetInstance(ctx context.Context, instanceID string) (*provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.Instances[instanceID]
	if !ok {
		return nil, &provider.Error{Kind: provider.KindNotFound, Message: "instance not found"}
	}
	return &inst, nil
}

func (f *Fake) ListInstances(ctx context.Context) ([]provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]provider.Instance, 0, len(f.Instances))
	for _, inst := range f.Instances {
		out = append(out, inst)
	}
	return out, nil
}

func (f *Fake) ListSSHKeys(ctx context.Context) ([]provider.SSHKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]provider.SSHKey, 0, len(f.SSHKeys))
	for _, k := range f.SSHKeys {
		out = append(out, k)
	}
	return out, nil
}

func (f *Fake) AddSSHKey(ctx context.Context, name, publicKey string) (*provider.SSHKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.SSHKeys[name]; ok {
		return &existing, nil
	}

	key := provider.SSHKey{
		ID:        fmt.Sprintf("key-%d", len(f.SSHKeys)+1),
		Name:      name,
		PublicKey: publicKey,
	}
	f.SSHKeys[name] = key
	return &key, nil
}

func (f *Fake) DeleteSSHKey(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.SSHKeys, name)
	return nil
}

func (f *Fake) ListFilesystems(ctx context.Context) ([]provider.Filesystem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Filesystem{}, f.Filesystems...), nil
}

func (f *Fake) CreateFilesystem(ctx context.Context, name, region string) (*provider.Filesystem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fs := range f.Filesystems {
		if fs.Name == name && fs.Region == region {
			return &fs, nil
		}
	}

	fs := provider.Filesystem{
		ID:         fmt.Sprintf("fs-%d", len(f.Filesystems)+1),
		Name:       name,
		Region:     region,
		MountPoint: "/home/ubuntu/" + name,
	}
	f.Filesystems = append(f.Filesystems, fs)
	return &fs, nil
}

func (f *Fake) DeleteFilesystem(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, fs := range f.Filesystems {
		if fs.ID == id {
			f.Filesystems = append(f.Filesystems[:i], f.Filesystems[i+1:]...)
			return nil
		}
	}
	return &provider.Error{Kind: provider.KindNotFound, Message: "filesystem not found"}
}
