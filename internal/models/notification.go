// internal/models/notification.go
package models

import "time"

// NotificationStatus tracks one send attempt on one channel.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationLog is the append-only audit record of a single delivery
// attempt for a recovery attempt.
type NotificationLog struct {
	ID                int64              `json:"id"`
	RecoveryAttemptID int64              `json:"recoveryAttemptId"`
	Channel           Channel            `json:"channel"`
	Recipient         string             `json:"recipient"`
	Status            NotificationStatus `json:"status"`
	Provider          string             `json:"provider,omitempty"`
	ProviderMessageID string             `json:"providerMessageId,omitempty"`
	ErrorMessage      string             `json:"errorMessage,omitempty"`
	SentAt            *time.Time         `json:"sentAt,omitempty"`
	FailedAt          *time.Time         `json:"failedAt,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}
