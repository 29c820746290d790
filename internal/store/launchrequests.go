package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// LaunchRequestStore handles launch request records, keyed by request id
type LaunchRequestStore struct {
	kv KV
}

// Get retrieves a launch request by id
func (s *LaunchRequestStore) Get(ctx context.Context, id string) (*types.LaunchRequest, error) {
	data, err := s.kv.Get(ctx, CollectionLaunchRequests, id)
	if err != nil {
		return nil, err
	}

	var lr types.LaunchRequest
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("decode launch request: %w", err)
	}
	return &lr, nil
}

// Put writes a launch request record
func (s *LaunchRequestStore) Put(ctx context.Context, lr *types.LaunchRequest) error {
	data, err := json.Marshal(lr)
	if err != nil {
		return fmt.Errorf("encode launch request: %w", err)
	}
	return s.kv.Put(ctx, CollectionLaunchRequests, lr.ID, data)
}

// List retrieves all launch requests in FIFO order (oldest first)
func (s *LaunchRequestStore) List(ctx context.Context) ([]*types.LaunchRequest, error) {
	entries, err := s.kv.List(ctx, CollectionLaunchRequests)
	if err != nil {
		return nil, err
	}

	requests := make([]*types.LaunchRequest, 0, len(entries))
	for key, data := range entries {
		var lr types.LaunchRequest
		if err := json.Unmarshal(data, &lr); err != nil {
			return nil, fmt.Errorf("decode launch request %s: %w", key, err)
		}
		requests = append(requests, &lr)
	}

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// ListByEmail retrieves a candidate's launch requests in FIFO order
func (s *LaunchRequestStore) ListByEmail(ctx context.Context, email string) ([]*types.LaunchRequest, error) {
	requests, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	out := requests[:0]
	for _, lr := range requests {
		if lr.CandidateEmail == email {
			out = append(out, lr)
		}
	}
	return out, nil
}

// FindPending returns the candidate's queued or provisioning request, if any
func (s *LaunchRequestStore) FindPending(ctx context.Context, email string) (*types.LaunchRequest, error) {
	requests, err := s.ListByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	for _, lr := range requests {
		if lr.Pending() {
			return lr, nil
		}
	}
	return nil, ErrNotFound
}
