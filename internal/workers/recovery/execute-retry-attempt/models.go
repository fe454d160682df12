package executeretryattempt

import (
	"context"
	"time"

	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/recovery"
)

type Input struct {
	AttemptID int64 `json:"attemptId"`
}

type Output struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	RetryNumber int        `json:"retryNumber,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
}

// PolicyResolver returns the retry policy governing an org. Satisfied by
// recovery.Service.
type PolicyResolver interface {
	PolicyForOrg(ctx context.Context, orgID int64) (*models.RetryPolicy, error)
}

// PaymentChecker asks the provider whether an order has already been
// settled. Satisfied by psp.RazorpayClient. Optional: a nil checker skips
// the lookup and the retry proceeds on ledger state alone.
type PaymentChecker interface {
	OrderIsPaid(ctx context.Context, orderID string) (bool, error)
}

type ServiceDependencies struct {
	Store    *recovery.Store
	Policies PolicyResolver
	Enqueuer recovery.Enqueuer
	Payments PaymentChecker
	Logger   logger.Logger
}
