package sendemail

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"

	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/recovery"
)

type Input struct {
	AttemptID int64 `json:"attemptId"`
}

type Output struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	SentAt    time.Time `json:"sentAt,omitempty"`
}

// EmailSender is the SES surface the service needs. Satisfied by
// aws.SESClient.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type ServiceDependencies struct {
	Store  *recovery.Store
	Sender EmailSender
	Logger logger.Logger
}
