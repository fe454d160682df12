// internal/models/event.go
package models

import (
	"fmt"
	"time"
)

// PspEvent is the idempotency ledger for inbound provider webhooks. The
// composite PspEventID is unique; a second delivery with the same id is a
// no-op detected before any side effect.
type PspEvent struct {
	ID         int64                  `json:"id"`
	Provider   string                 `json:"provider"`
	EventType  string                 `json:"eventType"`
	PspEventID string                 `json:"pspEventId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// EventKey derives the deterministic idempotency key for a webhook delivery.
// Returns "" when any component is missing, in which case the event is
// processed without a dedup guarantee.
func EventKey(provider, eventType, paymentOrOrderID string) string {
	if provider == "" || eventType == "" || paymentOrOrderID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s", provider, eventType, paymentOrOrderID)
}
