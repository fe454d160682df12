// internal/recovery/store.go
package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/models"
)

// Store is the Postgres persistence layer for transactions, recovery
// attempts, retry policies, notification logs, and the webhook
// idempotency ledger.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need to coordinate a
// transaction across stores.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ==========================
// Transactions
// ==========================

const transactionColumns = `id, transaction_ref, amount, currency, org_id,
	customer_email, customer_phone, razorpay_order_id, razorpay_payment_id,
	stripe_intent_id, created_at`

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var (
		txn      models.Transaction
		email    sql.NullString
		phone    sql.NullString
		currency sql.NullString
		rzpOrder sql.NullString
		rzpPay   sql.NullString
		stripe   sql.NullString
	)
	err := row.Scan(
		&txn.ID, &txn.TransactionRef, &txn.Amount, &currency, &txn.OrgID,
		&email, &phone, &rzpOrder, &rzpPay, &stripe, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.Currency = currency.String
	txn.CustomerEmail = email.String
	txn.CustomerPhone = phone.String
	txn.RazorpayOrderID = rzpOrder.String
	txn.RazorpayPaymentID = rzpPay.String
	txn.StripeIntentID = stripe.String
	return &txn, nil
}

func (s *Store) GetTransactionByRef(ctx context.Context, ref string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE transaction_ref = $1`, ref)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("Transaction", fmt.Sprintf("ref: %s", ref))
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_transaction_by_ref", err)
	}
	return txn, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("Transaction", fmt.Sprintf("id: %d", id))
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_transaction_by_id", err)
	}
	return txn, nil
}

// FindTransactionForEvent resolves the transaction a webhook refers to by
// whatever provider identifier the payload carried.
func (s *Store) FindTransactionForEvent(ctx context.Context, razorpayOrderID, razorpayPaymentID, stripeIntentID string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE ($1 <> '' AND razorpay_order_id = $1)
		   OR ($2 <> '' AND razorpay_payment_id = $2)
		   OR ($3 <> '' AND stripe_intent_id = $3)
		LIMIT 1`,
		razorpayOrderID, razorpayPaymentID, stripeIntentID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("Transaction", "no provider id matched")
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("find_transaction_for_event", err)
	}
	return txn, nil
}

// RecordRazorpayPaymentID stores the payment id learned from a webhook so
// later events can match on it.
func (s *Store) RecordRazorpayPaymentID(ctx context.Context, txnID int64, paymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET razorpay_payment_id = $1, updated_at = $2
		WHERE id = $3 AND (razorpay_payment_id IS NULL OR razorpay_payment_id = '')`,
		paymentID, time.Now().UTC(), txnID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("record_razorpay_payment_id", err)
	}
	return nil
}

// ==========================
// Organizations
// ==========================

func (s *Store) GetOrganization(ctx context.Context, id int64) (*models.Organization, error) {
	var (
		org      models.Organization
		brand    sql.NullString
		support  sql.NullString
		channels pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, brand_name, support_email, recovery_channels, is_active
		FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &brand, &support, &channels, &org.IsActive)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("Organization", fmt.Sprintf("id: %d", id))
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_organization", err)
	}
	org.BrandName = brand.String
	org.SupportEmail = support.String
	org.RecoveryChannels = channels
	return &org, nil
}

// ==========================
// Recovery Attempts
// ==========================

const attemptColumns = `id, transaction_id, channel, token, status, expires_at,
	opened_at, used_at, created_at, retry_count, last_retry_at, next_retry_at, max_retries`

func scanAttempt(scan func(dest ...interface{}) error) (*models.RecoveryAttempt, error) {
	var a models.RecoveryAttempt
	err := scan(
		&a.ID, &a.TransactionID, &a.Channel, &a.Token, &a.Status, &a.ExpiresAt,
		&a.OpenedAt, &a.UsedAt, &a.CreatedAt, &a.RetryCount, &a.LastRetryAt,
		&a.NextRetryAt, &a.MaxRetries,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAttempt persists a new attempt. Token uniqueness is enforced by
// the database; a collision surfaces as a query error for the caller to
// retry with a fresh token.
func (s *Store) InsertAttempt(ctx context.Context, a *models.RecoveryAttempt) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO recovery_attempts
			(transaction_id, channel, token, status, expires_at, retry_count, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		a.TransactionID, a.Channel, a.Token, a.Status, a.ExpiresAt, a.RetryCount, a.MaxRetries,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert_attempt", err)
	}
	return nil
}

func (s *Store) GetAttemptByToken(ctx context.Context, token string) (*models.RecoveryAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM recovery_attempts WHERE token = $1`, token)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("RecoveryAttempt", "token not found")
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_attempt_by_token", err)
	}
	return a, nil
}

func (s *Store) GetAttemptByID(ctx context.Context, id int64) (*models.RecoveryAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM recovery_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewResourceNotFoundError("RecoveryAttempt", fmt.Sprintf("id: %d", id))
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get_attempt_by_id", err)
	}
	return a, nil
}

// ActiveAttemptForTransaction returns the single active attempt for a
// transaction, or nil when there is none.
func (s *Store) ActiveAttemptForTransaction(ctx context.Context, txnID int64) (*models.RecoveryAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM recovery_attempts
		WHERE transaction_id = $1 AND status IN ('created', 'sent', 'scheduled')
		ORDER BY created_at DESC LIMIT 1`, txnID)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("active_attempt", err)
	}
	return a, nil
}

// UpdateAttemptStatus moves an attempt to a new status with optimistic
// concurrency on the current status.
func (s *Store) UpdateAttemptStatus(ctx context.Context, id int64, from, to models.AttemptStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts SET status = $1 WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return errors.NewQueryExecutionFailedError("update_attempt_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError(fmt.Sprintf("attempt %d is not in status %s", id, from))
	}
	return nil
}

// MarkOpened records the first open of a recovery link. Replays keep the
// original opened_at.
func (s *Store) MarkOpened(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts
		SET status = $1, opened_at = COALESCE(opened_at, $2)
		WHERE id = $3 AND status IN ('created', 'sent', 'scheduled')`,
		models.AttemptOpened, time.Now().UTC(), id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark_opened", err)
	}
	return nil
}

// MarkExpired flips a past-deadline attempt to expired.
func (s *Store) MarkExpired(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts SET status = $1
		WHERE id = $2 AND status NOT IN ('completed', 'expired', 'cancelled')`,
		models.AttemptExpired, id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark_expired", err)
	}
	return nil
}

// CompleteAttemptsForTransaction closes every non-terminal attempt on a
// transaction after a successful payment. Returns the number closed. A
// transaction holds at most one non-terminal attempt (webhook processing
// refuses to create a second), so the blanket update closes exactly the
// open attempt; it also sweeps up any strays should that invariant ever
// be violated.
func (s *Store) CompleteAttemptsForTransaction(ctx context.Context, txnID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts SET status = $1, used_at = $2
		WHERE transaction_id = $3 AND status NOT IN ('completed', 'expired', 'cancelled')`,
		models.AttemptCompleted, time.Now().UTC(), txnID)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("complete_attempts", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ScheduleRetry sets next_retry_at and moves created/sent attempts to
// scheduled. The status guard makes the write a no-op on any other state.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, nextRetryAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts SET status = $1, next_retry_at = $2
		WHERE id = $3 AND status IN ('created', 'sent', 'scheduled')`,
		models.AttemptScheduled, nextRetryAt.UTC(), id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("schedule_retry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStateConflictError(fmt.Sprintf("attempt %d cannot be rescheduled", id))
	}
	return nil
}

// RecordRetryExecution bumps the retry counter after a retry fires.
func (s *Store) RecordRetryExecution(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recovery_attempts
		SET retry_count = retry_count + 1, last_retry_at = $1, next_retry_at = NULL
		WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("record_retry_execution", err)
	}
	return nil
}

// ==========================
// Retry Policies
// ==========================

// ActivePolicyForOrg returns the org's active policy, or nil when the org
// has none and the configured default applies.
func (s *Store) ActivePolicyForOrg(ctx context.Context, orgID int64) (*models.RetryPolicy, error) {
	var (
		p        models.RetryPolicy
		channels pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, max_retries, initial_delay_minutes,
		       backoff_multiplier, max_delay_minutes, enabled_channels, is_active, created_at
		FROM retry_policies
		WHERE org_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC LIMIT 1`, orgID,
	).Scan(&p.ID, &p.OrgID, &p.Name, &p.MaxRetries, &p.InitialDelayMinutes,
		&p.BackoffMultiplier, &p.MaxDelayMinutes, &channels, &p.IsActive, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("active_policy", err)
	}
	p.EnabledChannels = channels
	return &p, nil
}

// CreatePolicy activates a new policy for an org. Deactivation of the old
// policies and insertion of the new one commit atomically, so exactly one
// policy is active at any time.
func (s *Store) CreatePolicy(ctx context.Context, p *models.RetryPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseConnectionFailedError(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE retry_policies SET is_active = FALSE WHERE org_id = $1 AND is_active = TRUE`,
		p.OrgID)
	if err != nil {
		return errors.NewQueryExecutionFailedError("deactivate_policies", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO retry_policies
			(org_id, name, max_retries, initial_delay_minutes, backoff_multiplier,
			 max_delay_minutes, enabled_channels, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id, created_at`,
		p.OrgID, p.Name, p.MaxRetries, p.InitialDelayMinutes, p.BackoffMultiplier,
		p.MaxDelayMinutes, pq.Array(p.EnabledChannels),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert_policy", err)
	}
	p.IsActive = true

	if err := tx.Commit(); err != nil {
		return errors.NewQueryExecutionFailedError("policy_commit", err)
	}
	return nil
}

// ==========================
// Webhook Idempotency Ledger
// ==========================

// InsertPspEvent records a webhook delivery in the idempotency ledger.
// The unique index on (provider, psp_event_id) is the source of truth for
// dedup; a violation is surfaced as a DuplicateEvent error.
func (s *Store) InsertPspEvent(ctx context.Context, e *models.PspEvent) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("payload not serializable: %v", err))
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO psp_events (provider, event_type, psp_event_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		e.Provider, e.EventType, e.PspEventID, payloadJSON,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.NewDuplicateEventError(e.PspEventID)
		}
		return errors.NewQueryExecutionFailedError("insert_psp_event", err)
	}
	return nil
}

// InsertFailureEvent appends one classified failure to the audit trail.
func (s *Store) InsertFailureEvent(ctx context.Context, e *models.FailureEvent) error {
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("meta not serializable: %v", err))
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO failure_events (transaction_id, gateway, reason, category, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.TransactionID, e.Gateway, e.Reason, e.Category, metaJSON, e.OccurredAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert_failure_event", err)
	}
	return nil
}

// ==========================
// Notification Logs
// ==========================

func (s *Store) InsertNotificationLog(ctx context.Context, n *models.NotificationLog) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_logs (recovery_attempt_id, channel, recipient, status, provider)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		n.RecoveryAttemptID, n.Channel, n.Recipient, n.Status, n.Provider,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return errors.NewQueryExecutionFailedError("insert_notification_log", err)
	}
	return nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, id int64, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = $1, provider_message_id = $2, sent_at = $3
		WHERE id = $4`,
		models.NotificationSent, providerMessageID, time.Now().UTC(), id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark_notification_sent", err)
	}
	return nil
}

func (s *Store) MarkNotificationFailed(ctx context.Context, id int64, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = $1, error_message = $2, failed_at = $3
		WHERE id = $4`,
		models.NotificationFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark_notification_failed", err)
	}
	return nil
}
