package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tsanders-rh/gpuctl/pkg/types"
)

const settingsKey = "settings"

// SettingsStore handles the singleton settings record
type SettingsStore struct {
	kv KV
}

// Get retrieves the settings record; a missing record yields zero settings
func (s *SettingsStore) Get(ctx context.Context) (*types.Settings, error) {
	data, err := s.kv.Get(ctx, CollectionSettings, settingsKey)
	if err == ErrNotFound {
		return &types.Settings{}, nil
	}
	if err != nil {
		return nil, err
	}

	var settings types.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

// Put writes the settings record
func (s *SettingsStore) Put(ctx context.Context, settings *types.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.kv.Put(ctx, CollectionSettings, settingsKey, data)
}

// EnsureSeedSecret generates the seed-complete bearer secret once
func (s *SettingsStore) EnsureSeedSecret(ctx context.Context) error {
	settings, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if settings.SeedCompleteSecret != "" {
		return nil
	}
	settings.SeedCompleteSecret = types.GenerateSecret()
	return s.Put(ctx, settings)
}

// APIKey returns the upstream API key currently configured. The provider
// client calls this on every request so key rotation needs no restart.
func (s *SettingsStore) APIKey(ctx context.Context) (string, error) {
	settings, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	return settings.LambdaAPIKey, nil
}
