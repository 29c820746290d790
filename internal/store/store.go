package store

import (
	"context"
)

// Store aggregates typed access to every collection over one KV backend
type Store struct {
	kv KV

	Candidates     *CandidateStore
	VMs            *VMStore
	LaunchRequests *LaunchRequestStore
	SSHKeys        *SSHKeyStore
	SeedStatus     *SeedStatusStore
	Settings       *SettingsStore
}

// New creates a Store with all sub-stores initialized
func New(kv KV) *Store {
	s := &Store{kv: kv}

	s.Candidates = &CandidateStore{kv: kv}
	s.VMs = &VMStore{kv: kv}
	s.LaunchRequests = &LaunchRequestStore{kv: kv}
	s.SSHKeys = &SSHKeyStore{kv: kv}
	s.SeedStatus = &SeedStatusStore{kv: kv}
	s.Settings = &SettingsStore{kv: kv}

	return s
}

// Ping verifies the backend is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close closes the backend
func (s *Store) Close() error {
	return s.kv.Close()
}
