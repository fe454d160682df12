// internal/models/job.go
package models

import "time"

// JobStatus tracks a queued job through its lifecycle.
// Transitions are pending -> running -> {completed, failed}; terminal states
// are immutable.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one unit of deferred work in the durable queue.
type Job struct {
	ID             int64                  `json:"id"`
	TaskName       string                 `json:"taskName"`
	Arguments      map[string]interface{} `json:"arguments"`
	Status         JobStatus              `json:"status"`
	ScheduledAt    time.Time              `json:"scheduledAt"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	Error          string                 `json:"error,omitempty"`
	RetryCount     int                    `json:"retryCount"`
	LeaseExpiresAt *time.Time             `json:"leaseExpiresAt,omitempty"`
}

// Due reports whether the job is eligible for claiming at the given instant.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobPending && !j.ScheduledAt.After(now)
}

// Terminal reports whether the job reached an immutable state.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
