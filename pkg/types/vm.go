package types

import "time"

// VMStatus represents the current state of a VM as last observed
type VMStatus string

const (
	VMStatusLaunching   VMStatus = "launching"
	VMStatusBooting     VMStatus = "booting"
	VMStatusActive      VMStatus = "active"
	VMStatusUnhealthy   VMStatus = "unhealthy"
	VMStatusRestarting  VMStatus = "restarting"
	VMStatusTerminating VMStatus = "terminating"
	VMStatusTerminated  VMStatus = "terminated"
)

// Termination reasons recorded on VM records
const (
	ReasonUserRequested        = "user_requested"
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonAccountRemoved       = "account_removed"
	ReasonTerminatedExternally = "terminated_externally"
	ReasonMaxHoursExceeded     = "max_hours_exceeded"
)

// VM represents a provisioned upstream GPU instance, tracked locally by id
type VM struct {
	InstanceID        string     `json:"instanceId"`
	CandidateEmail    string     `json:"candidateEmail"`
	InstanceType      string     `json:"instanceType"`
	Region            string     `json:"region"`
	PriceCentsPerHour int64      `json:"priceCentsPerHour"`
	LaunchedAt        time.Time  `json:"launchedAt"`
	Status            VMStatus   `json:"status"`
	IPAddress         string     `json:"ipAddress,omitempty"`
	SSHKeyName        string     `json:"sshKeyName"`
	TerminatedAt      *time.Time `json:"terminatedAt,omitempty"`
	TerminationReason string     `json:"terminationReason,omitempty"`
	LastCheckedAt     *time.Time `json:"lastCheckedAt,omitempty"`
	AccruedCents      int64      `json:"accruedCents"`
}

// Terminal reports whether the VM has reached its final state
func (v *VM) Terminal() bool {
	return v.TerminatedAt != nil
}
