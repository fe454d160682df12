package sendrecoverysms

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"tinko-recovery/internal/common/aws"
	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/metrics"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/recovery"
)

type Service struct {
	config    *Config
	store     *recovery.Store
	publisher SMSPublisher
	logger    logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config:    config,
		store:     deps.Store,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}
}

// Execute sends the recovery SMS for one attempt. Inactive or expired
// attempts are skipped without error.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	attempt, err := s.store.GetAttemptByID(ctx, input.AttemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Active() {
		s.logger.Info("Skipping SMS for inactive attempt", map[string]interface{}{
			"attemptId": attempt.ID,
			"status":    string(attempt.Status),
		})
		return &Output{Success: false, Message: "attempt no longer active"}, nil
	}
	if attempt.ExpiredAt(time.Now().UTC()) {
		return &Output{Success: false, Message: "recovery link expired"}, nil
	}
	if attempt.TransactionID == nil {
		return nil, errors.NewValidationError("attempt has no owning transaction")
	}

	txn, err := s.store.GetTransactionByID(ctx, *attempt.TransactionID)
	if err != nil {
		return nil, err
	}
	if txn.CustomerPhone == "" {
		return &Output{Success: false, Message: "transaction has no customer phone"}, nil
	}

	message := s.compose(ctx, txn, attempt)

	// WhatsApp-channel attempts fall back to plain SMS delivery; the log
	// keeps the attempt's channel so the fallback stays visible.
	channel := attempt.Channel
	if channel != models.ChannelWhatsApp {
		channel = models.ChannelSMS
	}
	logEntry := &models.NotificationLog{
		RecoveryAttemptID: attempt.ID,
		Channel:           channel,
		Recipient:         txn.CustomerPhone,
		Status:            models.NotificationPending,
		Provider:          "sns",
	}
	if err := s.store.InsertNotificationLog(ctx, logEntry); err != nil {
		return nil, err
	}

	pubOut, err := s.publisher.Publish(ctx, aws.BuildSMSInput(txn.CustomerPhone, message, s.config.SenderID))
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("sms", "failed").Inc()
		if logErr := s.store.MarkNotificationFailed(ctx, logEntry.ID, err.Error()); logErr != nil {
			s.logger.WithError(logErr).Warn("Could not record send failure", nil)
		}
		return nil, errors.NewNotificationSendFailedError("sms", err)
	}

	messageID := awssdk.ToString(pubOut.MessageId)
	if err := s.store.MarkNotificationSent(ctx, logEntry.ID, messageID); err != nil {
		s.logger.WithError(err).Warn("Could not record send success", nil)
	}
	metrics.NotificationsSent.WithLabelValues("sms", "sent").Inc()

	if attempt.Status == models.AttemptCreated {
		if err := s.store.UpdateAttemptStatus(ctx, attempt.ID, models.AttemptCreated, models.AttemptSent); err != nil {
			if !errors.IsCode(err, errors.ErrCodeStateConflict) {
				return nil, err
			}
		}
	}

	s.logger.Info("Recovery SMS sent", map[string]interface{}{
		"attemptId": attempt.ID,
		"recipient": txn.CustomerPhone,
		"messageId": messageID,
	})
	return &Output{
		Success:   true,
		Message:   "Recovery SMS sent",
		MessageID: messageID,
		Recipient: txn.CustomerPhone,
		SentAt:    time.Now().UTC(),
	}, nil
}

// compose keeps the SMS under one segment where possible: header,
// merchant, amount, link, expiry.
func (s *Service) compose(ctx context.Context, txn *models.Transaction, attempt *models.RecoveryAttempt) string {
	brand := s.config.DefaultBrand
	if txn.OrgID != nil {
		if org, err := s.store.GetOrganization(ctx, *txn.OrgID); err == nil && org.Name != "" {
			brand = org.Name
		}
	}

	amount := "your order amount"
	if txn.Amount != nil {
		currency := txn.Currency
		if currency == "" {
			currency = "INR"
		}
		amount = fmt.Sprintf("%s %.2f", currency, float64(*txn.Amount)/100)
	}

	link := fmt.Sprintf("%s/r/%s", strings.TrimRight(s.config.RecoveryBaseURL, "/"), attempt.Token)

	return fmt.Sprintf(
		"Payment Failed - TINKO Recovery\nMerchant: %s\nAmount: %s\nComplete payment: %s\nLink expires in 24 hours.",
		brand, amount, link)
}
