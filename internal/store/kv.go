package store

import "context"

// Collection names the logical record groups in the key-value store
type Collection string

const (
	CollectionCandidates     Collection = "candidates"
	CollectionVMs            Collection = "vms"
	CollectionLaunchRequests Collection = "launch-requests"
	CollectionSSHKeys        Collection = "ssh-keys"
	CollectionSeedStatus     Collection = "seed-status"
	CollectionSettings       Collection = "settings"
)

// KV is the strongly-consistent key-value contract all backends implement.
// Single-key operations are atomic; there are no multi-key transactions.
type KV interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	Delete(ctx context.Context, c Collection, key string) error
	List(ctx context.Context, c Collection) (map[string][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}
