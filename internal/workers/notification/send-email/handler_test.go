package sendemail

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/recovery"

	"github.com/DATA-DOG/go-sqlmock"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Sender
// ==========================

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendEmailOutput), args.Error(1)
}

// ==========================
// Test Helpers
// ==========================

func createValidConfig() *Config {
	return &Config{
		Enabled:         true,
		Timeout:         30 * time.Second,
		FromEmail:       "recovery@tinko.example",
		RecoveryBaseURL: "https://pay.example.com",
		DefaultBrand:    "TINKO Recovery",
	}
}

func attemptRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "transaction_id", "channel", "token", "status", "expires_at",
		"opened_at", "used_at", "created_at", "retry_count", "last_retry_at",
		"next_retry_at", "max_retries",
	})
}

func transactionRows(email string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "transaction_ref", "amount", "currency", "org_id",
		"customer_email", "customer_phone", "razorpay_order_id",
		"razorpay_payment_id", "stripe_intent_id", "created_at",
	}).AddRow(int64(3), "txn-001", int64(49900), "INR", nil,
		email, "+919999999999", "order_x", nil, nil, time.Now().UTC())
}

func newHandlerWithMocks(t *testing.T, db *recovery.Store, sender EmailSender) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: createValidConfig(),
		Store: ServiceDependencies{
			Store:  db,
			Sender: sender,
		},
		Logger: logger.NewNoOpLogger(),
	})
	require.NoError(t, err)
	return h
}

// ==========================
// Handler Creation Tests
// ==========================

func TestNewHandler_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", config: createValidConfig(), wantErr: false},
		{
			name: "missing from email",
			config: &Config{
				Enabled:         true,
				Timeout:         time.Second,
				RecoveryBaseURL: "https://pay.example.com",
			},
			wantErr: true,
			errMsg:  "from_email is required",
		},
		{
			name: "missing base url",
			config: &Config{
				Enabled:   true,
				Timeout:   time.Second,
				FromEmail: "recovery@tinko.example",
			},
			wantErr: true,
			errMsg:  "recovery_base_url is required",
		},
		{
			name: "zero timeout",
			config: &Config{
				Enabled:         true,
				FromEmail:       "recovery@tinko.example",
				RecoveryBaseURL: "https://pay.example.com",
			},
			wantErr: true,
			errMsg:  "timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := NewHandler(HandlerOptions{CustomConfig: tt.config})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, handler)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, handler)
				assert.Equal(t, "send_email", handler.TaskName())
				assert.True(t, handler.IsEnabled())
			}
		})
	}
}

// ==========================
// Input Parsing Tests
// ==========================

func TestParseInput(t *testing.T) {
	tests := []struct {
		name      string
		arguments map[string]interface{}
		wantErr   bool
		expected  int64
	}{
		{name: "decoded json number", arguments: map[string]interface{}{"attemptId": float64(7)}, expected: 7},
		{name: "int64 value", arguments: map[string]interface{}{"attemptId": int64(9)}, expected: 9},
		{name: "missing attemptId", arguments: map[string]interface{}{}, wantErr: true},
		{name: "zero attemptId", arguments: map[string]interface{}{"attemptId": float64(0)}, wantErr: true},
		{name: "negative attemptId", arguments: map[string]interface{}{"attemptId": float64(-1)}, wantErr: true},
		{name: "string attemptId", arguments: map[string]interface{}{"attemptId": "7"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := parseInput(&models.Job{Arguments: tt.arguments})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, input.AttemptID)
			}
		})
	}
}

// ==========================
// Execution Tests
// ==========================

func TestHandler_Handle_SendsEmail(t *testing.T) {
	db, mockSQL, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	mockSQL.ExpectQuery(`FROM recovery_attempts WHERE id`).
		WithArgs(int64(7)).
		WillReturnRows(attemptRows().AddRow(
			int64(7), int64(3), "email", "tok-abc", "created", expiresAt,
			nil, nil, time.Now().UTC(), 0, nil, nil, 3))
	mockSQL.ExpectQuery(`FROM transactions WHERE id`).
		WithArgs(int64(3)).
		WillReturnRows(transactionRows("customer@example.com"))
	mockSQL.ExpectQuery(`INSERT INTO notification_logs`).
		WithArgs(int64(7), "email", "customer@example.com", "pending", "ses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(40), time.Now().UTC()))
	mockSQL.ExpectExec(`UPDATE notification_logs`).
		WithArgs("sent", "msg-123", sqlmock.AnyArg(), int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockSQL.ExpectExec(`UPDATE recovery_attempts`).
		WithArgs("sent", int64(7), "created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &MockSender{}
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *ses.SendEmailInput) bool {
		return awssdk.ToString(in.Source) == "recovery@tinko.example" &&
			in.Destination.ToAddresses[0] == "customer@example.com"
	})).Return(&ses.SendEmailOutput{MessageId: awssdk.String("msg-123")}, nil)

	handler := newHandlerWithMocks(t, recovery.NewStore(db), sender)
	err = handler.Handle(context.Background(), &models.Job{
		ID:        1,
		TaskName:  TaskName,
		Arguments: map[string]interface{}{"attemptId": float64(7)},
	})

	require.NoError(t, err)
	sender.AssertExpectations(t)
	assert.NoError(t, mockSQL.ExpectationsWereMet())
}

func TestHandler_Handle_SkipsInactiveAttempt(t *testing.T) {
	db, mockSQL, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mockSQL.ExpectQuery(`FROM recovery_attempts WHERE id`).
		WithArgs(int64(7)).
		WillReturnRows(attemptRows().AddRow(
			int64(7), int64(3), "email", "tok-abc", "completed",
			time.Now().UTC().Add(12*time.Hour), nil, time.Now().UTC(),
			time.Now().UTC(), 0, nil, nil, 3))

	sender := &MockSender{}
	handler := newHandlerWithMocks(t, recovery.NewStore(db), sender)

	err = handler.Handle(context.Background(), &models.Job{
		Arguments: map[string]interface{}{"attemptId": float64(7)},
	})

	require.NoError(t, err)
	sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

func TestHandler_Handle_ProviderFailureIsRetryable(t *testing.T) {
	db, mockSQL, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	mockSQL.ExpectQuery(`FROM recovery_attempts WHERE id`).
		WithArgs(int64(7)).
		WillReturnRows(attemptRows().AddRow(
			int64(7), int64(3), "email", "tok-abc", "created", expiresAt,
			nil, nil, time.Now().UTC(), 0, nil, nil, 3))
	mockSQL.ExpectQuery(`FROM transactions WHERE id`).
		WithArgs(int64(3)).
		WillReturnRows(transactionRows("customer@example.com"))
	mockSQL.ExpectQuery(`INSERT INTO notification_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(40), time.Now().UTC()))
	mockSQL.ExpectExec(`UPDATE notification_logs`).
		WithArgs("failed", "ses throttled", sqlmock.AnyArg(), int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &MockSender{}
	sender.On("SendEmail", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("ses throttled"))

	handler := newHandlerWithMocks(t, recovery.NewStore(db), sender)
	err = handler.Handle(context.Background(), &models.Job{
		Arguments: map[string]interface{}{"attemptId": float64(7)},
	})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotificationSendFailed))
	assert.True(t, errors.IsRetryable(err))
	assert.NoError(t, mockSQL.ExpectationsWereMet())
}

func TestHandler_Handle_NoRecipientIsSkipped(t *testing.T) {
	db, mockSQL, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	mockSQL.ExpectQuery(`FROM recovery_attempts WHERE id`).
		WithArgs(int64(7)).
		WillReturnRows(attemptRows().AddRow(
			int64(7), int64(3), "email", "tok-abc", "created", expiresAt,
			nil, nil, time.Now().UTC(), 0, nil, nil, 3))
	mockSQL.ExpectQuery(`FROM transactions WHERE id`).
		WithArgs(int64(3)).
		WillReturnRows(transactionRows(""))

	sender := &MockSender{}
	handler := newHandlerWithMocks(t, recovery.NewStore(db), sender)

	err = handler.Handle(context.Background(), &models.Job{
		Arguments: map[string]interface{}{"attemptId": float64(7)},
	})

	require.NoError(t, err)
	sender.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}

// ==========================
// Schema Tests
// ==========================

func TestGetInputSchema(t *testing.T) {
	schema := GetInputSchema()

	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Required, "attemptId")
	assert.Contains(t, schema.Properties, "attemptId")
	assert.Equal(t, "integer", schema.Properties["attemptId"].Type)
	assert.False(t, schema.AdditionalProperties)
}
