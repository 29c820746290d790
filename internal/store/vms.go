package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// VMStore handles VM records, keyed by upstream instance id
type VMStore struct {
	kv KV
}

// Get retrieves a VM by instance id
func (s *VMStore) Get(ctx context.Context, instanceID string) (*types.VM, error) {
	data, err := s.kv.Get(ctx, CollectionVMs, instanceID)
	if err != nil {
		return nil, err
	}

	var vm types.VM
	if err := json.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("decode vm: %w", err)
	}
	return &vm, nil
}

// Put writes a VM record
func (s *VMStore) Put(ctx context.Context, vm *types.VM) error {
	data, err := json.Marshal(vm)
	if err != nil {
		return fmt.Errorf("encode vm: %w", err)
	}
	return s.kv.Put(ctx, CollectionVMs, vm.InstanceID, data)
}

// List retrieves all VM records, newest launch first
func (s *VMStore) List(ctx context.Context) ([]*types.VM, error) {
	entries, err := s.kv.List(ctx, CollectionVMs)
	if err != nil {
		return nil, err
	}

	vms := make([]*types.VM, 0, len(entries))
	for key, data := range entries {
		var vm types.VM
		if err := json.Unmarshal(data, &vm); err != nil {
			return nil, fmt.Errorf("decode vm %s: %w", key, err)
		}
		vms = append(vms, &vm)
	}

	sort.Slice(vms, func(i, j int) bool {
		return vms[i].LaunchedAt.After(vms[j].LaunchedAt)
	})
	return vms, nil
}

// ListByEmail retrieves all VM records for one candidate
func (s *VMStore) ListByEmail(ctx context.Context, email string) ([]*types.VM, error) {
	vms, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := vms[:0]
	for _, vm := range vms {
		if vm.CandidateEmail == email {
			out = append(out, vm)
		}
	}
	return out, nil
}

// ListActiveByEmail retrieves the candidate's VMs with no terminal state
func (s *VMStore) ListActiveByEmail(ctx context.Context, email string) ([]*types.VM, error) {
	vms, err := s.ListByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	out := vms[:0]
	for _, vm := range vms {
		if !vm.Terminal() {
			out = append(out, vm)
		}
	}
	return out, nil
}
