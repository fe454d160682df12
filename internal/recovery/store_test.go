package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attemptRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "transaction_id", "channel", "token", "status", "expires_at",
		"opened_at", "used_at", "created_at", "retry_count", "last_retry_at",
		"next_retry_at", "max_retries",
	})
}

// ==========================
// Attempt Tests
// ==========================

func TestStore_GetAttemptByToken_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	txnID := int64(3)

	mock.ExpectQuery(`FROM recovery_attempts WHERE token`).
		WithArgs("tok-abc").
		WillReturnRows(attemptRows().AddRow(
			int64(1), txnID, "email", "tok-abc", "sent", expiresAt,
			nil, nil, time.Now().UTC(), 0, nil, nil, 3,
		))

	store := NewStore(db)
	attempt, err := store.GetAttemptByToken(context.Background(), "tok-abc")

	require.NoError(t, err)
	assert.Equal(t, int64(1), attempt.ID)
	assert.Equal(t, models.AttemptSent, attempt.Status)
	require.NotNil(t, attempt.TransactionID)
	assert.Equal(t, txnID, *attempt.TransactionID)
}

func TestStore_GetAttemptByToken_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM recovery_attempts WHERE token`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	store := NewStore(db)
	_, err = store.GetAttemptByToken(context.Background(), "nope")

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeResourceNotFound))
}

func TestStore_ActiveAttemptForTransaction_NoneIsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM recovery_attempts`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	store := NewStore(db)
	attempt, err := store.ActiveAttemptForTransaction(context.Background(), 9)

	require.NoError(t, err)
	assert.Nil(t, attempt)
}

func TestStore_ScheduleRetry_GuardsStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	next := time.Now().UTC().Add(2 * time.Hour)

	// Attempt already completed: zero rows updated.
	mock.ExpectExec(`UPDATE recovery_attempts`).
		WithArgs("scheduled", next, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db)
	err = store.ScheduleRetry(context.Background(), 4, next)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStateConflict))
}

func TestStore_CompleteAttemptsForTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE recovery_attempts`).
		WithArgs("completed", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewStore(db)
	n, err := store.CompleteAttemptsForTransaction(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// ==========================
// Policy Tests
// ==========================

func TestStore_CreatePolicy_DeactivatesThenInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE retry_policies SET is_active = FALSE`).
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO retry_policies`).
		WithArgs(int64(11), "aggressive", 5, 30, 2, 720, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(21), time.Now().UTC()))
	mock.ExpectCommit()

	store := NewStore(db)
	policy := &models.RetryPolicy{
		OrgID:               11,
		Name:                "aggressive",
		MaxRetries:          5,
		InitialDelayMinutes: 30,
		BackoffMultiplier:   2,
		MaxDelayMinutes:     720,
		EnabledChannels:     []string{"email", "sms"},
	}
	err = store.CreatePolicy(context.Background(), policy)

	require.NoError(t, err)
	assert.Equal(t, int64(21), policy.ID)
	assert.True(t, policy.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ActivePolicyForOrg_NoneIsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM retry_policies`).
		WithArgs(int64(11)).
		WillReturnError(sql.ErrNoRows)

	store := NewStore(db)
	policy, err := store.ActivePolicyForOrg(context.Background(), 11)

	require.NoError(t, err)
	assert.Nil(t, policy)
}

// ==========================
// Idempotency Ledger Tests
// ==========================

func TestStore_InsertPspEvent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO psp_events`).
		WithArgs("razorpay", "payment.failed", "razorpay:payment.failed:pay_123", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(1), time.Now().UTC()))

	store := NewStore(db)
	event := &models.PspEvent{
		Provider:   "razorpay",
		EventType:  "payment.failed",
		PspEventID: "razorpay:payment.failed:pay_123",
		Payload:    map[string]interface{}{"reason": "insufficient_funds"},
	}
	err = store.InsertPspEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, int64(1), event.ID)
}

func TestStore_InsertPspEvent_DuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO psp_events`).
		WillReturnError(&pq.Error{Code: "23505"})

	store := NewStore(db)
	err = store.InsertPspEvent(context.Background(), &models.PspEvent{
		Provider:   "razorpay",
		EventType:  "payment.failed",
		PspEventID: "razorpay:payment.failed:pay_123",
	})

	require.Error(t, err)
	assert.True(t, errors.IsDuplicateEvent(err))
}

func TestStore_InsertPspEvent_OtherError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO psp_events`).
		WillReturnError(fmt.Errorf("connection reset"))

	store := NewStore(db)
	err = store.InsertPspEvent(context.Background(), &models.PspEvent{
		Provider:   "stripe",
		EventType:  "payment_intent.payment_failed",
		PspEventID: "stripe:payment_intent.payment_failed:pi_1",
	})

	require.Error(t, err)
	assert.False(t, errors.IsDuplicateEvent(err))
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueryExecutionFailed))
}

// ==========================
// Notification Log Tests
// ==========================

func TestStore_NotificationLogLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO notification_logs`).
		WithArgs(int64(5), "email", "customer@example.com", "pending", "ses").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow(int64(30), time.Now().UTC()))
	mock.ExpectExec(`UPDATE notification_logs`).
		WithArgs("sent", "msg-001", sqlmock.AnyArg(), int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db)
	logEntry := &models.NotificationLog{
		RecoveryAttemptID: 5,
		Channel:           models.ChannelEmail,
		Recipient:         "customer@example.com",
		Status:            models.NotificationPending,
		Provider:          "ses",
	}
	require.NoError(t, store.InsertNotificationLog(context.Background(), logEntry))
	assert.Equal(t, int64(30), logEntry.ID)

	require.NoError(t, store.MarkNotificationSent(context.Background(), 30, "msg-001"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
