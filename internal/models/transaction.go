// internal/models/transaction.go
package models

import "time"

// Transaction is the owning payment a recovery attempt tries to rescue.
// The HTTP/ORM layer that creates transactions is outside this engine; the
// engine only reads them and records provider ids learned from webhooks.
type Transaction struct {
	ID                int64      `json:"id"`
	TransactionRef    string     `json:"transactionRef"`
	Amount            *int64     `json:"amount,omitempty"` // minor units (paise)
	Currency          string     `json:"currency,omitempty"`
	OrgID             *int64     `json:"orgId,omitempty"`
	CustomerEmail     string     `json:"customerEmail,omitempty"`
	CustomerPhone     string     `json:"customerPhone,omitempty"`
	RazorpayOrderID   string     `json:"razorpayOrderId,omitempty"`
	RazorpayPaymentID string     `json:"razorpayPaymentId,omitempty"`
	StripeIntentID    string     `json:"stripeIntentId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// Organization carries the merchant settings the engine consumes: which
// notification channels to use and in what order.
type Organization struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	BrandName        string   `json:"brandName,omitempty"`
	SupportEmail     string   `json:"supportEmail,omitempty"`
	RecoveryChannels []string `json:"recoveryChannels"`
	IsActive         bool     `json:"isActive"`
}

// FailureEvent is the append-only audit record of one PSP failure, with the
// classifier category stored alongside the raw gateway reason.
type FailureEvent struct {
	ID            int64                  `json:"id"`
	TransactionID int64                  `json:"transactionId"`
	Gateway       string                 `json:"gateway,omitempty"`
	Reason        string                 `json:"reason"`
	Category      string                 `json:"category,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	OccurredAt    *time.Time             `json:"occurredAt,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}
