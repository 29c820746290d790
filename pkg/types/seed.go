package types

import "time"

// SeedState represents the state of a shared-filesystem seed per (name, region)
type SeedState string

const (
	SeedStateSeeding SeedState = "seeding"
	SeedStateReady   SeedState = "ready"
)

// SeedStatus is the single-writer claim record for seeding one shared
// filesystem in one region
type SeedStatus struct {
	FilesystemName    string     `json:"filesystemName"`
	Region            string     `json:"region"`
	Status            SeedState  `json:"status"`
	SeedingInstanceID string     `json:"seedingInstanceId,omitempty"`
	ClaimedAt         time.Time  `json:"claimedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}
