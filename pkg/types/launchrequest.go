package types

import "time"

// LaunchRequestStatus represents the state of a launch request
type LaunchRequestStatus string

const (
	LaunchRequestQueued       LaunchRequestStatus = "queued"
	LaunchRequestProvisioning LaunchRequestStatus = "provisioning"
	LaunchRequestFulfilled    LaunchRequestStatus = "fulfilled"
	LaunchRequestCancelled    LaunchRequestStatus = "cancelled"
	LaunchRequestFailed       LaunchRequestStatus = "failed"
)

// Failure reasons recorded on launch requests
const (
	FailureInsufficientQuota    = "insufficient_quota"
	FailureCandidateDeactivated = "candidate_deactivated"
)

// Terminal reports whether the status admits no further transitions
func (s LaunchRequestStatus) Terminal() bool {
	switch s {
	case LaunchRequestFulfilled, LaunchRequestCancelled, LaunchRequestFailed:
		return true
	}
	return false
}

// LaunchRequest represents a user's submission for a VM, immediate or queued
type LaunchRequest struct {
	ID                  string              `json:"id"`
	CandidateEmail      string              `json:"candidateEmail"`
	InstanceTypes       []string            `json:"instanceTypes"`
	Regions             []string            `json:"regions"`
	SSHPublicKey        string              `json:"sshPublicKey"`
	AttachFilesystem    bool                `json:"attachFilesystem"`
	Status              LaunchRequestStatus `json:"status"`
	CreatedAt           time.Time           `json:"createdAt"`
	Attempts            int                 `json:"attempts"`
	LastAttemptAt       *time.Time          `json:"lastAttemptAt,omitempty"`
	FulfilledAt         *time.Time          `json:"fulfilledAt,omitempty"`
	FulfilledInstanceID string              `json:"fulfilledInstanceId,omitempty"`
	FailureReason       string              `json:"failureReason,omitempty"`
	CancelledAt         *time.Time          `json:"cancelledAt,omitempty"`
}

// Pending reports whether the request still occupies the per-user slot
func (r *LaunchRequest) Pending() bool {
	return r.Status == LaunchRequestQueued || r.Status == LaunchRequestProvisioning
}
