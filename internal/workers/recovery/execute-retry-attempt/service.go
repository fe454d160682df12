package executeretryattempt

import (
	"context"
	"time"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/metrics"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/recovery"
	"tinko-recovery/internal/retry"
)

type Service struct {
	config   *Config
	store    *recovery.Store
	policies PolicyResolver
	enqueuer recovery.Enqueuer
	payments PaymentChecker
	logger   logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config:   config,
		store:    deps.Store,
		policies: deps.Policies,
		enqueuer: deps.Enqueuer,
		payments: deps.Payments,
		logger:   deps.Logger,
	}
}

// Execute fires one scheduled retry: it re-sends the recovery notification
// for the attempt's channel and, while budget remains, books the next retry
// with the policy's backoff. Attempts that went terminal or expired between
// scheduling and execution are skipped without error.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	now := time.Now().UTC()

	attempt, err := s.store.GetAttemptByID(ctx, input.AttemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Active() {
		s.logger.Info("Skipping retry for inactive attempt", map[string]interface{}{
			"attemptId": attempt.ID,
			"status":    string(attempt.Status),
		})
		metrics.RetriesExecuted.WithLabelValues("skipped").Inc()
		return &Output{Success: false, Message: "attempt no longer active"}, nil
	}
	if attempt.ExpiredAt(now) {
		if err := s.store.MarkExpired(ctx, attempt.ID); err != nil {
			return nil, err
		}
		metrics.RetriesExecuted.WithLabelValues("expired").Inc()
		return &Output{Success: false, Message: "recovery link expired"}, nil
	}
	if attempt.RetryCount >= attempt.MaxRetries {
		// Budget spent before this job fired. Close the attempt out so it
		// stops occupying the transaction's active slot.
		if err := s.store.MarkExpired(ctx, attempt.ID); err != nil {
			return nil, err
		}
		metrics.RetriesExecuted.WithLabelValues("exhausted").Inc()
		return &Output{Success: false, Message: "retry budget exhausted"}, nil
	}
	if attempt.TransactionID == nil {
		return nil, errors.NewValidationError("attempt has no owning transaction")
	}

	txn, err := s.store.GetTransactionByID(ctx, *attempt.TransactionID)
	if err != nil {
		return nil, err
	}

	// A payment that settled out of band (link reused, customer paid on a
	// second device) may not have produced a webhook yet. Check the provider
	// before chasing the customer again; an unreachable provider is not a
	// reason to stall the retry.
	if s.payments != nil && txn.RazorpayOrderID != "" {
		paid, err := s.payments.OrderIsPaid(ctx, txn.RazorpayOrderID)
		if err != nil {
			s.logger.WithError(err).Warn("Order status check failed, proceeding with retry", map[string]interface{}{
				"attemptId": attempt.ID,
				"orderId":   txn.RazorpayOrderID,
			})
		} else if paid {
			if _, err := s.store.CompleteAttemptsForTransaction(ctx, txn.ID); err != nil {
				return nil, err
			}
			metrics.RetriesExecuted.WithLabelValues("already_paid").Inc()
			s.logger.Info("Order already paid, closing attempt instead of retrying", map[string]interface{}{
				"attemptId": attempt.ID,
				"orderId":   txn.RazorpayOrderID,
			})
			return &Output{Success: false, Message: "order already paid"}, nil
		}
	}

	var orgID int64
	if txn.OrgID != nil {
		orgID = *txn.OrgID
	}
	policy, err := s.policies.PolicyForOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordRetryExecution(ctx, attempt.ID); err != nil {
		return nil, err
	}
	retryNumber := attempt.RetryCount + 1

	if task := taskForChannel(attempt.Channel); task != "" {
		if _, err := s.enqueuer.Enqueue(ctx, task,
			map[string]interface{}{"attemptId": attempt.ID}, now); err != nil {
			return nil, err
		}
	}

	out := &Output{
		Success:     true,
		Message:     "retry executed",
		RetryNumber: retryNumber,
	}

	if retryNumber < attempt.MaxRetries {
		next := retry.NextRetryAt(policy, now, retryNumber)
		if err := s.store.ScheduleRetry(ctx, attempt.ID, next); err != nil {
			// A concurrent transition (payment success, cancellation) may
			// have closed the attempt; that ends the retry chain cleanly.
			if !errors.IsCode(err, errors.ErrCodeStateConflict) {
				return nil, err
			}
			s.logger.Info("Attempt left retry-eligible states, chain ends", map[string]interface{}{
				"attemptId": attempt.ID,
			})
			metrics.RetriesExecuted.WithLabelValues("executed").Inc()
			return out, nil
		}
		if _, err := s.enqueuer.Enqueue(ctx, TaskName,
			map[string]interface{}{"attemptId": attempt.ID}, next); err != nil {
			return nil, err
		}
		out.NextRetryAt = &next
	}

	metrics.RetriesExecuted.WithLabelValues("executed").Inc()
	s.logger.Info("Retry executed", map[string]interface{}{
		"attemptId":   attempt.ID,
		"retryNumber": retryNumber,
		"maxRetries":  attempt.MaxRetries,
	})
	return out, nil
}

func taskForChannel(ch models.Channel) string {
	switch ch {
	case models.ChannelEmail:
		return "send_email"
	case models.ChannelSMS, models.ChannelWhatsApp:
		return "send_recovery_sms"
	}
	return ""
}
