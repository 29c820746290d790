package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// SeedStatusStore handles seed claim records, keyed by "filesystemName|region"
type SeedStatusStore struct {
	kv KV
}

func seedKey(name, region string) string {
	return name + "|" + region
}

// Get retrieves the seed status for one (filesystem, region)
func (s *SeedStatusStore) Get(ctx context.Context, name, region string) (*types.SeedStatus, error) {
	data, err := s.kv.Get(ctx, CollectionSeedStatus, seedKey(name, region))
	if err != nil {
		return nil, err
	}

	var status types.SeedStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode seed status: %w", err)
	}
	return &status, nil
}

// Put writes a seed status record
func (s *SeedStatusStore) Put(ctx context.Context, status *types.SeedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode seed status: %w", err)
	}
	return s.kv.Put(ctx, CollectionSeedStatus, seedKey(status.FilesystemName, status.Region), data)
}

// Delete removes a seed status record
func (s *SeedStatusStore) Delete(ctx context.Context, name, region string) error {
	return s.kv.Delete(ctx, CollectionSeedStatus, seedKey(name, region))
}

// List retrieves all seed status records
func (s *SeedStatusStore) List(ctx context.Context) ([]*types.SeedStatus, error) {
	entries, err := s.kv.List(ctx, CollectionSeedStatus)
	if err != nil {
		return nil, err
	}

	out := make([]*types.SeedStatus, 0, len(entries))
	for key, data := range entries {
		var status types.SeedStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("decode seed status %s: %w", key, err)
		}
		out = append(out, &status)
	}
	return out, nil
}

// Claim attempts to take the single-writer seed lock for (name, region).
// Returns true when this caller should launch the loader VM. The write is
// last-writer-wins; a lost race at worst produces a second harmless loader.
func (s *SeedStatusStore) Claim(ctx context.Context, name, region, claimantID string, stale time.Duration) (bool, error) {
	current, err := s.Get(ctx, name, region)
	if err != nil && err != ErrNotFound {
		return false, err
	}

	if current != nil {
		if current.Status == types.SeedStateReady {
			return false, nil
		}
		if time.Since(current.ClaimedAt) < stale {
			return false, nil
		}
	}

	claim := &types.SeedStatus{
		FilesystemName:    name,
		Region:            region,
		Status:            types.SeedStateSeeding,
		SeedingInstanceID: claimantID,
		ClaimedAt:         time.Now().UTC(),
	}
	if err := s.Put(ctx, claim); err != nil {
		return false, err
	}
	return true, nil
}

// MarkReady transitions a seed status to ready. Idempotent: repeated
// completion reports keep the first completedAt.
func (s *SeedStatusStore) MarkReady(ctx context.Context, name, region string) error {
	current, err := s.Get(ctx, name, region)
	if err != nil && err != ErrNotFound {
		return err
	}

	if current != nil && current.Status == types.SeedStateReady {
		return nil
	}

	now := time.Now().UTC()
	status := &types.SeedStatus{
		FilesystemName: name,
		Region:         region,
		Status:         types.SeedStateReady,
		CompletedAt:    &now,
	}
	if current != nil {
		status.SeedingInstanceID = current.SeedingInstanceID
		status.ClaimedAt = current.ClaimedAt
	}
	return s.Put(ctx, status)
}
