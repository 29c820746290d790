package types

import "time"

// Role represents a candidate's access level
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleAdmin     Role = "admin"
)

// Candidate represents a user on the allow-list with a dollar quota
type Candidate struct {
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          Role       `json:"role"`
	QuotaDollars  int        `json:"quotaDollars"`
	SpentCents    int64      `json:"spentCents"`
	AddedAt       time.Time  `json:"addedAt"`
	AddedBy       string     `json:"addedBy"`
	SpentResetAt  *time.Time `json:"spentResetAt,omitempty"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// Active reports whether the candidate may use the system
func (c *Candidate) Active() bool {
	return c.DeactivatedAt == nil
}

// IsAdmin reports whether the candidate has the admin role
func (c *Candidate) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// QuotaCents returns the quota ceiling in cents
func (c *Candidate) QuotaCents() int64 {
	return int64(c.QuotaDollars) * 100
}
