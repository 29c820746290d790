package store

import (
	"context"
	"sync"
)

// MemoryKV is an in-memory KV backend used by tests and local development
type MemoryKV struct {
	mu   sync.RWMutex
	data map[Collection]map[string][]byte
}

// NewMemoryKV creates an empty in-memory backend
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[Collection]map[string][]byte)}
}

func (m *MemoryKV) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[c][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Put(ctx context.Context, c Collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data[c] == nil {
		m.data[c] = make(map[string][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[c][key] = v
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, c Collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[c], key)
	return nil
}

func (m *MemoryKV) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.data[c]))
	for k, v := range m.data[c] {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (m *MemoryKV) Ping(ctx context.Context) error { return nil }

func (m *MemoryKV) Close() error { return nil }
