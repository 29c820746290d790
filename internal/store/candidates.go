package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// CandidateStore handles candidate records, keyed by lowercased email
type CandidateStore struct {
	kv KV
}

// Get retrieves a candidate by email
func (s *CandidateStore) Get(ctx context.Context, email string) (*types.Candidate, error) {
	data, err := s.kv.Get(ctx, CollectionCandidates, strings.ToLower(email))
	if err != nil {
		return nil, err
	}

	var c types.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode candidate: %w", err)
	}
	return &c, nil
}

// Put writes a candidate record
func (s *CandidateStore) Put(ctx context.Context, c *types.Candidate) error {
	c.Email = strings.ToLower(c.Email)
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}
	return s.kv.Put(ctx, CollectionCandidates, c.Email, data)
}

// List retrieves all candidates ordered by email
func (s *CandidateStore) List(ctx context.Context) ([]*types.Candidate, error) {
	entries, err := s.kv.List(ctx, CollectionCandidates)
	if err != nil {
		return nil, err
	}

	candidates := make([]*types.Candidate, 0, len(entries))
	for key, data := range entries {
		var c types.Candidate
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode candidate %s: %w", key, err)
		}
		candidates = append(candidates, &c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Email < candidates[j].Email
	})
	return candidates, nil
}
