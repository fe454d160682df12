// internal/models/recovery.go
package models

import "time"

// AttemptStatus is the lifecycle state of a recovery attempt.
type AttemptStatus string

const (
	AttemptCreated   AttemptStatus = "created"
	AttemptSent      AttemptStatus = "sent"
	AttemptOpened    AttemptStatus = "opened"
	AttemptScheduled AttemptStatus = "scheduled"
	AttemptCompleted AttemptStatus = "completed"
	AttemptExpired   AttemptStatus = "expired"
	AttemptCancelled AttemptStatus = "cancelled"
)

// Channel names a customer notification route.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelLink     Channel = "link"
)

// RecoveryAttempt is one outstanding "please pay again" request tied to a
// failed transaction. The token is unique and immutable once created; it is
// the only identifier exposed in customer-facing URLs.
type RecoveryAttempt struct {
	ID             int64         `json:"id"`
	TransactionID  *int64        `json:"transactionId,omitempty"`
	TransactionRef string        `json:"transactionRef,omitempty"`
	Channel        Channel       `json:"channel"`
	Token          string        `json:"token"`
	Status         AttemptStatus `json:"status"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	OpenedAt       *time.Time    `json:"openedAt,omitempty"`
	UsedAt         *time.Time    `json:"usedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	RetryCount     int           `json:"retryCount"`
	LastRetryAt    *time.Time    `json:"lastRetryAt,omitempty"`
	NextRetryAt    *time.Time    `json:"nextRetryAt,omitempty"`
	MaxRetries     int           `json:"maxRetries"`
}

// attemptTransitions lists the legal forward moves. Expiry and cancellation
// are handled separately: any non-terminal state may expire or be cancelled.
var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptCreated:   {AttemptSent, AttemptOpened, AttemptScheduled, AttemptCompleted},
	AttemptSent:      {AttemptOpened, AttemptScheduled, AttemptCompleted},
	AttemptOpened:    {AttemptCompleted},
	AttemptScheduled: {AttemptSent, AttemptOpened, AttemptCompleted},
}

// Terminal reports whether the status rejects any further transition.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptCompleted, AttemptExpired, AttemptCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from the attempt's current status to
// next is legal.
func (a *RecoveryAttempt) CanTransition(next AttemptStatus) bool {
	if a.Status.Terminal() {
		return false
	}
	if next == AttemptExpired || next == AttemptCancelled {
		return true
	}
	for _, s := range attemptTransitions[a.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Active reports whether the attempt still occupies the single-active slot
// for its transaction. Only attempts in created/sent/scheduled block the
// creation of a new one.
func (a *RecoveryAttempt) Active() bool {
	switch a.Status {
	case AttemptCreated, AttemptSent, AttemptScheduled:
		return true
	}
	return false
}

// ExpiredAt reports whether the attempt's deadline has passed at the given
// instant. Expiry is observed lazily on read; there is no background sweep.
func (a *RecoveryAttempt) ExpiredAt(now time.Time) bool {
	return !a.Status.Terminal() && a.ExpiresAt.Before(now)
}
