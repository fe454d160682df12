// internal/models/policy.go
package models

import "time"

// RetryPolicy is per-organization retry configuration. At most one policy
// per org is active at a time; activating a new one deactivates the rest.
type RetryPolicy struct {
	ID                  int64     `json:"id"`
	OrgID               int64     `json:"orgId"`
	Name                string    `json:"name"`
	MaxRetries          int       `json:"maxRetries"`
	InitialDelayMinutes int       `json:"initialDelayMinutes"`
	BackoffMultiplier   int       `json:"backoffMultiplier"`
	MaxDelayMinutes     int       `json:"maxDelayMinutes"`
	EnabledChannels     []string  `json:"enabledChannels"`
	IsActive            bool      `json:"isActive"`
	CreatedAt           time.Time `json:"createdAt"`
}

// DefaultRetryPolicy is used when an org has no active policy of its own.
func DefaultRetryPolicy(orgID int64) *RetryPolicy {
	return &RetryPolicy{
		OrgID:               orgID,
		Name:                "default",
		MaxRetries:          3,
		InitialDelayMinutes: 60,
		BackoffMultiplier:   2,
		MaxDelayMinutes:     1440,
		EnabledChannels:     []string{string(ChannelEmail)},
		IsActive:            true,
	}
}
