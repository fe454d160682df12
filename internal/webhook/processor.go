// internal/webhook/processor.go
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tinko-recovery/internal/common/config"
	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/metrics"
	"tinko-recovery/internal/models"
	"tinko-recovery/internal/recovery"
	"tinko-recovery/internal/retry"
	"tinko-recovery/internal/rules"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// AuditSink receives processed-event documents for search and analytics.
// Indexing is best-effort and never blocks acknowledgement.
type AuditSink interface {
	IndexWebhookEvent(ctx context.Context, doc map[string]interface{}) error
}

// Processor turns raw provider deliveries into recovery-engine state. The
// contract with providers is: reject only on a bad signature; once the
// delivery is durably recorded, always acknowledge, even when downstream
// handling fails.
type Processor struct {
	store    *recovery.Store
	service  *recovery.Service
	enqueuer recovery.Enqueuer
	redis    *redis.Client
	cfg      config.ProvidersConfig
	audit    AuditSink
	logger   logger.Logger
	now      func() time.Time
}

type ProcessorOptions struct {
	Store     *recovery.Store
	Service   *recovery.Service
	Enqueuer  recovery.Enqueuer
	Redis     *redis.Client
	Providers config.ProvidersConfig
	Audit     AuditSink
	Logger    logger.Logger
}

func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("store is required")
	}
	if opts.Service == nil {
		return nil, errors.NewValidationError("service is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewStructured("info", "json")
	}
	return &Processor{
		store:    opts.Store,
		service:  opts.Service,
		enqueuer: opts.Enqueuer,
		redis:    opts.Redis,
		cfg:      opts.Providers,
		audit:    opts.Audit,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Delivery is one raw inbound webhook request.
type Delivery struct {
	Provider  string
	Signature string
	Body      []byte
}

// Result is the acknowledgement returned to the provider.
type Result struct {
	Status     string `json:"status"`
	Idempotent bool   `json:"idempotent,omitempty"`
	EventKey   string `json:"-"`
}

// parsedEvent is the provider-neutral view of a delivery.
type parsedEvent struct {
	EventType      string
	PaymentID      string
	OrderID        string
	IntentID       string
	FailureCode    string
	FailureMessage string
	Payload        map[string]interface{}
}

// Process verifies, deduplicates, records, and routes one delivery.
func (p *Processor) Process(ctx context.Context, d Delivery) (*Result, error) {
	if !p.verify(d) {
		metrics.WebhooksRejected.WithLabelValues(d.Provider).Inc()
		return nil, errors.NewSignatureInvalidError(d.Provider)
	}

	event, err := p.parse(d)
	if err != nil {
		// Authenticated but unparseable: record nothing, acknowledge so the
		// provider stops redelivering a body we will never understand.
		p.logger.WithError(err).Warn("Unparseable webhook payload", map[string]interface{}{
			"provider": d.Provider,
		})
		return &Result{Status: "ok"}, nil
	}

	metrics.WebhooksReceived.WithLabelValues(d.Provider, event.EventType).Inc()

	key := models.EventKey(d.Provider, event.EventType, event.primaryID())
	if p.fastPathDuplicate(ctx, key) {
		metrics.WebhooksDuplicate.WithLabelValues(d.Provider).Inc()
		return &Result{Status: "ok", Idempotent: true, EventKey: key}, nil
	}

	pspEventID := key
	if pspEventID == "" {
		// No stable identity in the payload; record it under a random id so
		// the ledger stays complete, at the cost of dedup for this delivery.
		pspEventID = uuid.NewString()
	}
	ledgerEntry := &models.PspEvent{
		Provider:   d.Provider,
		EventType:  event.EventType,
		PspEventID: pspEventID,
		Payload:    event.Payload,
	}
	if err := p.store.InsertPspEvent(ctx, ledgerEntry); err != nil {
		if errors.IsDuplicateEvent(err) {
			metrics.WebhooksDuplicate.WithLabelValues(d.Provider).Inc()
			p.markProcessed(ctx, key)
			return &Result{Status: "ok", Idempotent: true, EventKey: key}, nil
		}
		// Nothing durable recorded yet; let the provider redeliver.
		return nil, err
	}

	// From here on the delivery is durably recorded: always acknowledge.
	p.markProcessed(ctx, key)
	if err := p.route(ctx, d.Provider, event); err != nil {
		p.logger.WithError(err).Error("Webhook routing failed after ledger write", map[string]interface{}{
			"provider":  d.Provider,
			"eventType": event.EventType,
			"eventKey":  key,
		})
	}

	p.indexAudit(ctx, d.Provider, event, key)
	return &Result{Status: "ok", EventKey: key}, nil
}

func (p *Processor) verify(d Delivery) bool {
	switch d.Provider {
	case ProviderRazorpay:
		return VerifyRazorpaySignature(d.Body, d.Signature, p.cfg.Razorpay.WebhookSecret)
	case ProviderStripe:
		return VerifyStripeSignature(d.Body, d.Signature, p.cfg.Stripe.WebhookSecret, p.now())
	}
	return false
}

const dedupTTL = 48 * time.Hour

func dedupKey(key string) string {
	return "webhook:dedup:" + key
}

// fastPathDuplicate consults the Redis dedup set before touching Postgres.
// Read-only: the key is written by markProcessed only after the ledger
// insert commits, so a failed insert leaves the redelivery processable.
// Redis being down degrades to the database unique index, never to
// double-processing.
func (p *Processor) fastPathDuplicate(ctx context.Context, key string) bool {
	if p.redis == nil || key == "" {
		return false
	}
	n, err := p.redis.Exists(ctx, dedupKey(key)).Result()
	if err != nil {
		p.logger.WithError(err).Debug("Dedup fast path unavailable", nil)
		return false
	}
	return n > 0
}

// markProcessed stamps the dedup key once the event is durably recorded.
func (p *Processor) markProcessed(ctx context.Context, key string) {
	if p.redis == nil || key == "" {
		return
	}
	if err := p.redis.Set(ctx, dedupKey(key), 1, dedupTTL).Err(); err != nil {
		p.logger.WithError(err).Debug("Dedup key write failed", nil)
	}
}

func (e *parsedEvent) primaryID() string {
	if e.PaymentID != "" {
		return e.PaymentID
	}
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.IntentID
}

// ==========================
// Payload Parsing
// ==========================

func (p *Processor) parse(d Delivery) (*parsedEvent, error) {
	switch d.Provider {
	case ProviderRazorpay:
		return parseRazorpay(d.Body)
	case ProviderStripe:
		return parseStripe(d.Body)
	}
	return nil, errors.NewValidationError("unknown provider: " + d.Provider)
}

func parseRazorpay(body []byte) (*parsedEvent, error) {
	var raw struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID               string `json:"id"`
					OrderID          string `json:"order_id"`
					ErrorCode        string `json:"error_code"`
					ErrorDescription string `json:"error_description"`
				} `json:"entity"`
			} `json:"payment"`
			Order struct {
				Entity struct {
					ID string `json:"id"`
				} `json:"entity"`
			} `json:"order"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.NewValidationError("malformed razorpay payload: " + err.Error())
	}
	if raw.Event == "" {
		return nil, errors.NewValidationError("razorpay payload missing event")
	}

	var payload map[string]interface{}
	_ = json.Unmarshal(body, &payload)

	orderID := raw.Payload.Payment.Entity.OrderID
	if orderID == "" {
		orderID = raw.Payload.Order.Entity.ID
	}
	return &parsedEvent{
		EventType:      raw.Event,
		PaymentID:      raw.Payload.Payment.Entity.ID,
		OrderID:        orderID,
		FailureCode:    raw.Payload.Payment.Entity.ErrorCode,
		FailureMessage: raw.Payload.Payment.Entity.ErrorDescription,
		Payload:        payload,
	}, nil
}

func parseStripe(body []byte) (*parsedEvent, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				LastPaymentError struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.NewValidationError("malformed stripe payload: " + err.Error())
	}
	if raw.Type == "" {
		return nil, errors.NewValidationError("stripe payload missing type")
	}

	var payload map[string]interface{}
	_ = json.Unmarshal(body, &payload)

	return &parsedEvent{
		EventType:      raw.Type,
		IntentID:       raw.Data.Object.ID,
		FailureCode:    raw.Data.Object.LastPaymentError.Code,
		FailureMessage: raw.Data.Object.LastPaymentError.Message,
		Payload:        payload,
	}, nil
}

// ==========================
// Routing
// ==========================

func (p *Processor) route(ctx context.Context, provider string, event *parsedEvent) error {
	switch event.EventType {
	case "payment.captured", "order.paid", "payment_intent.succeeded":
		return p.handleSuccess(ctx, provider, event)
	case "payment.failed", "payment_intent.payment_failed":
		return p.handleFailure(ctx, provider, event)
	}
	p.logger.Debug("Ignoring webhook event type", map[string]interface{}{
		"provider":  provider,
		"eventType": event.EventType,
	})
	return nil
}

// handleSuccess closes all open recovery work on the paid transaction.
func (p *Processor) handleSuccess(ctx context.Context, provider string, event *parsedEvent) error {
	txn, err := p.store.FindTransactionForEvent(ctx, event.OrderID, event.PaymentID, event.IntentID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeResourceNotFound) {
			p.logger.Warn("Success webhook for unknown transaction", map[string]interface{}{
				"provider":  provider,
				"paymentId": event.PaymentID,
				"orderId":   event.OrderID,
				"intentId":  event.IntentID,
			})
			return nil
		}
		return err
	}

	if provider == ProviderRazorpay && event.PaymentID != "" {
		if err := p.store.RecordRazorpayPaymentID(ctx, txn.ID, event.PaymentID); err != nil {
			p.logger.WithError(err).Warn("Could not record payment id", map[string]interface{}{
				"transactionId": txn.ID,
			})
		}
	}

	n, err := p.store.CompleteAttemptsForTransaction(ctx, txn.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.AttemptsCompleted.Add(float64(n))
	}
	p.logger.Info("Payment recovered", map[string]interface{}{
		"transactionId":     txn.ID,
		"attemptsCompleted": n,
	})
	return nil
}

// handleFailure classifies the decline, records it, and schedules recovery
// notifications according to the category's strategy and the org's policy.
func (p *Processor) handleFailure(ctx context.Context, provider string, event *parsedEvent) error {
	classification := rules.ClassifyEvent(event.FailureCode, event.FailureMessage)

	txn, err := p.store.FindTransactionForEvent(ctx, event.OrderID, event.PaymentID, event.IntentID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeResourceNotFound) {
			p.logger.Warn("Failure webhook for unknown transaction", map[string]interface{}{
				"provider":  provider,
				"paymentId": event.PaymentID,
				"orderId":   event.OrderID,
				"intentId":  event.IntentID,
			})
			return nil
		}
		return err
	}

	if provider == ProviderRazorpay && event.PaymentID != "" {
		if err := p.store.RecordRazorpayPaymentID(ctx, txn.ID, event.PaymentID); err != nil {
			p.logger.WithError(err).Warn("Could not record payment id", map[string]interface{}{
				"transactionId": txn.ID,
			})
		}
	}

	failureEvent := &models.FailureEvent{
		TransactionID: txn.ID,
		Gateway:       provider,
		Reason:        event.FailureMessage,
		Category:      string(classification.Category),
		Meta: map[string]interface{}{
			"errorCode":      event.FailureCode,
			"hardness":       string(classification.Hardness),
			"strategy":       string(classification.Options.ScheduleStrategy),
			"recommendation": classification.Options.Recommendation,
			"alt":            classification.Options.AlternateMethods,
		},
	}
	if err := p.store.InsertFailureEvent(ctx, failureEvent); err != nil {
		return err
	}

	existing, err := p.store.ActiveAttemptForTransaction(ctx, txn.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		p.logger.Info("Active recovery attempt already exists", map[string]interface{}{
			"transactionId": txn.ID,
			"attemptId":     existing.ID,
		})
		return nil
	}

	policy, err := p.service.PolicyForOrg(ctx, orgID(txn))
	if err != nil {
		return err
	}

	out, err := p.service.CreateRecoveryLink(ctx, recovery.CreateLinkInput{
		TransactionRef: txn.TransactionRef,
		Channel:        firstChannel(policy.EnabledChannels),
	})
	if err != nil {
		return err
	}

	return p.scheduleNotifications(ctx, out.Attempt, policy, classification)
}

// scheduleNotifications enqueues one job per enabled channel per delay
// offset. The jobs reference the attempt only; recipient and content are
// resolved at execution time so they reflect current data.
func (p *Processor) scheduleNotifications(ctx context.Context, attempt *models.RecoveryAttempt, policy *models.RetryPolicy, classification rules.Classification) error {
	if p.enqueuer == nil {
		return nil
	}

	now := p.now()
	delays := retry.SmartDelays(classification.Options.ScheduleStrategy, classification.Options.DelaysMinutes, now)

	var firstErr error
	for _, offset := range delays {
		runAt := now.Add(time.Duration(offset) * time.Minute)
		for _, channel := range policy.EnabledChannels {
			taskName := taskForChannel(models.Channel(channel))
			if taskName == "" {
				continue
			}
			_, err := p.enqueuer.Enqueue(ctx, taskName, map[string]interface{}{
				"attemptId": attempt.ID,
			}, runAt)
			if err != nil && firstErr == nil {
				firstErr = errors.NewSchedulingFailedError(err)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	p.logger.Info("Recovery notifications scheduled", map[string]interface{}{
		"attemptId":     attempt.ID,
		"delaysMinutes": delays,
		"channels":      policy.EnabledChannels,
		"strategy":      string(classification.Options.ScheduleStrategy),
	})
	return nil
}

func taskForChannel(channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return "send_email"
	case models.ChannelSMS, models.ChannelWhatsApp:
		return "send_recovery_sms"
	}
	return ""
}

func firstChannel(channels []string) models.Channel {
	if len(channels) > 0 {
		return models.Channel(channels[0])
	}
	return models.ChannelLink
}

func orgID(txn *models.Transaction) int64 {
	if txn.OrgID != nil {
		return *txn.OrgID
	}
	return 0
}

func (p *Processor) indexAudit(ctx context.Context, provider string, event *parsedEvent, key string) {
	if p.audit == nil {
		return
	}
	doc := map[string]interface{}{
		"provider":   provider,
		"eventType":  event.EventType,
		"eventKey":   key,
		"paymentId":  event.PaymentID,
		"orderId":    event.OrderID,
		"intentId":   event.IntentID,
		"receivedAt": p.now().Format(time.RFC3339),
	}
	if err := p.audit.IndexWebhookEvent(ctx, doc); err != nil {
		p.logger.WithError(err).Debug("Audit indexing failed", nil)
	}
}
