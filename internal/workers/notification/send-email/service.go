package sendemail

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
	config *Config
	store  *recovery.Store
	sender EmailSender
	logger logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config: config,
		store:  deps.Store,
		sender: deps.Sender,
		logger: deps.Logger,
	}
}

// Execute sends the recovery email for one attempt. Attempts that left the
// active window between scheduling and execution are skipped, not failed:
// the customer already paid, or the link lapsed.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	attempt, err := s.store.GetAttemptByID(ctx, input.AttemptID)
	if err != nil {
		return nil, err
	}
	if !attempt.Active() {
		s.logger.Info("Skipping email for inactive attempt", map[string]interface{}{
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
	if txn.CustomerEmail == "" {
		return &Output{Success: false, Message: "transaction has no customer email"}, nil
	}

	brand := s.brandFor(ctx, txn)
	subject, textBody, htmlBody := s.compose(brand, txn, attempt)

	logEntry := &models.NotificationLog{
		RecoveryAttemptID: attempt.ID,
		Channel:           models.ChannelEmail,
		Recipient:         txn.CustomerEmail,
		Status:            models.NotificationPending,
		Provider:          "ses",
	}
	if err := s.store.InsertNotificationLog(ctx, logEntry); err != nil {
		return nil, err
	}

	sendOut, err := s.sender.SendEmail(ctx, aws.BuildEmailInput(
		s.config.FromEmail, txn.CustomerEmail, subject, textBody, htmlBody))
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("email", "failed").Inc()
		if logErr := s.store.MarkNotificationFailed(ctx, logEntry.ID, err.Error()); logErr != nil {
			s.logger.WithError(logErr).Warn("Could not record send failure", nil)
		}
		return nil, errors.NewNotificationSendFailedError("email", err)
	}

	messageID := awssdk.ToString(sendOut.MessageId)
	if err := s.store.MarkNotificationSent(ctx, logEntry.ID, messageID); err != nil {
		s.logger.WithError(err).Warn("Could not record send success", nil)
	}
	metrics.NotificationsSent.WithLabelValues("email", "sent").Inc()

	// First send moves the attempt to sent; replays and later retries
	// legitimately find it elsewhere.
	if attempt.Status == models.AttemptCreated {
		if err := s.store.UpdateAttemptStatus(ctx, attempt.ID, models.AttemptCreated, models.AttemptSent); err != nil {
			if !errors.IsCode(err, errors.ErrCodeStateConflict) {
				return nil, err
			}
		}
	}

	s.logger.Info("Recovery email sent", map[string]interface{}{
		"attemptId": attempt.ID,
		"recipient": txn.CustomerEmail,
		"messageId": messageID,
	})
	return &Output{
		Success:   true,
		Message:   "Recovery email sent",
		MessageID: messageID,
		Recipient: txn.CustomerEmail,
		SentAt:    time.Now().UTC(),
	}, nil
}

func (s *Service) brandFor(ctx context.Context, txn *models.Transaction) string {
	if txn.OrgID != nil {
		if org, err := s.store.GetOrganization(ctx, *txn.OrgID); err == nil {
			if org.BrandName != "" {
				return org.BrandName
			}
			if org.Name != "" {
				return org.Name
			}
		}
	}
	return s.config.DefaultBrand
}

func (s *Service) compose(brand string, txn *models.Transaction, attempt *models.RecoveryAttempt) (subject, text, html string) {
	amount := formatAmount(txn)
	link := s.linkURL(attempt.Token)

	subject = fmt.Sprintf("Complete your payment to %s", brand)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi,\n\n")
	fmt.Fprintf(&b, "Your payment of %s to %s did not go through.\n\n", amount, brand)
	fmt.Fprintf(&b, "You can complete it securely using the link below:\n%s\n\n", link)
	fmt.Fprintf(&b, "This link expires in 24 hours.\n")
	text = b.String()

	html = fmt.Sprintf(
		`<p>Hi,</p><p>Your payment of <strong>%s</strong> to %s did not go through.</p>`+
			`<p><a href="%s">Complete your payment</a></p><p>This link expires in 24 hours.</p>`,
		amount, brand, link)
	return subject, text, html
}

func (s *Service) linkURL(token string) string {
	return fmt.Sprintf("%s/r/%s", strings.TrimRight(s.config.RecoveryBaseURL, "/"), token)
}

func formatAmount(txn *models.Transaction) string {
	if txn.Amount == nil {
		return "your order amount"
	}
	currency := txn.Currency
	if currency == "" {
		currency = "INR"
	}
	return fmt.Sprintf("%s %.2f", currency, float64(*txn.Amount)/100)
}
