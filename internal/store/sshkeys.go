package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

// SSHKeyStore handles SSH key records, keyed by "email|keyName"
type SSHKeyStore struct {
	kv KV
}

func sshKeyKey(email, keyName string) string {
	return strings.ToLower(email) + "|" + keyName
}

// Get retrieves a key record
func (s *SSHKeyStore) Get(ctx context.Context, email, keyName string) (*types.SSHKey, error) {
	data, err := s.kv.Get(ctx, CollectionSSHKeys, sshKeyKey(email, keyName))
	if err != nil {
		return nil, err
	}

	var key types.SSHKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("decode ssh key: %w", err)
	}
	return &key, nil
}

// Put writes a key record
func (s *SSHKeyStore) Put(ctx context.Context, key *types.SSHKey) error {
	key.Email = strings.ToLower(key.Email)
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode ssh key: %w", err)
	}
	return s.kv.Put(ctx, CollectionSSHKeys, sshKeyKey(key.Email, key.KeyName), data)
}

// Delete removes a key record
func (s *SSHKeyStore) Delete(ctx context.Context, email, keyName string) error {
	return s.kv.Delete(ctx, CollectionSSHKeys, sshKeyKey(email, keyName))
}

// List retrieves all key records
func (s *SSHKeyStore) List(ctx context.Context) ([]*types.SSHKey, error) {
	entries, err := s.kv.List(ctx, CollectionSSHKeys)
	if err != nil {
		return nil, err
	}

	keys := make([]*types.SSHKey, 0, len(entries))
	for k, data := range entries {
		var key types.SSHKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("decode ssh key %s: %w", k, err)
		}
		keys = append(keys, &key)
	}
	return keys, nil
}

// ListByEmail retrieves all key records for one candidate
func (s *SSHKeyStore) ListByEmail(ctx context.Context, email string) ([]*types.SSHKey, error) {
	entries, err := s.kv.List(ctx, CollectionSSHKeys)
	if err != nil {
		return nil, err
	}

	prefix := strings.ToLower(email) + "|"
	keys := []*types.SSHKey{}
	for k, data := range entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var key types.SSHKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("decode ssh key %s: %w", k, err)
		}
		keys = append(keys, &key)
	}
	return keys, nil
}
