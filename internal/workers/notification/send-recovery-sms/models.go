package sendrecoverysms

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

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

// SMSPublisher is the SNS surface the service needs. Satisfied by
// aws.SNSClient.
type SMSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type ServiceDependencies struct {
	Store     *recovery.Store
	Publisher SMSPublisher
	Logger    logger.Logger
}
