// internal/recovery/service.go
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tinko-recovery/internal/common/config"
	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/metrics"
	"tinko-recovery/internal/models"
)

// Enqueuer schedules a follow-up job. Satisfied by queue.Store.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskName string, args map[string]interface{}, scheduledAt time.Time) (*models.Job, error)
}

// Service implements the customer- and operator-facing recovery
// operations on top of the store.
type Service struct {
	store    *Store
	redis    *redis.Client
	enqueuer Enqueuer
	cfg      config.RecoveryConfig
	fallback config.RetryConfig
	logger   logger.Logger
	now      func() time.Time
}

type ServiceOptions struct {
	Store       *Store
	Redis       *redis.Client
	Enqueuer    Enqueuer
	Config      config.RecoveryConfig
	RetryConfig config.RetryConfig
	Logger      logger.Logger
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewStructured("info", "json")
	}
	return &Service{
		store:    opts.Store,
		redis:    opts.Redis,
		enqueuer: opts.Enqueuer,
		cfg:      opts.Config,
		fallback: opts.RetryConfig,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ==========================
// Link Creation
// ==========================

type CreateLinkInput struct {
	TransactionRef string
	Channel        models.Channel
	TTLHours       int
}

type CreateLinkOutput struct {
	Attempt *models.RecoveryAttempt
	URL     string
}

// CreateRecoveryLink mints a new recovery attempt for a failed
// transaction. A transaction holds at most one active attempt; a second
// create returns the existing attempt instead of a duplicate.
func (s *Service) CreateRecoveryLink(ctx context.Context, input CreateLinkInput) (*CreateLinkOutput, error) {
	if input.TransactionRef == "" {
		return nil, errors.NewValidationError("transactionRef is required")
	}
	channel := input.Channel
	if channel == "" {
		channel = models.ChannelLink
	}
	ttl := input.TTLHours
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTLHours
	}
	if ttl <= 0 {
		ttl = 24
	}

	txn, err := s.store.GetTransactionByRef(ctx, input.TransactionRef)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.ActiveAttemptForTransaction(ctx, txn.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return &CreateLinkOutput{Attempt: existing, URL: s.LinkURL(existing.Token)}, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("token generation failed: %v", err))
	}

	policy, err := s.PolicyForOrg(ctx, orgIDOf(txn))
	if err != nil {
		return nil, err
	}

	attempt := &models.RecoveryAttempt{
		TransactionID: &txn.ID,
		Channel:       channel,
		Token:         token,
		Status:        models.AttemptCreated,
		ExpiresAt:     s.now().Add(time.Duration(ttl) * time.Hour),
		MaxRetries:    policy.MaxRetries,
	}
	if err := s.store.InsertAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	metrics.AttemptsCreated.Inc()

	s.logger.Info("Recovery link created", map[string]interface{}{
		"attemptId":      attempt.ID,
		"transactionRef": txn.TransactionRef,
		"channel":        string(channel),
		"expiresAt":      attempt.ExpiresAt,
	})
	return &CreateLinkOutput{Attempt: attempt, URL: s.LinkURL(token)}, nil
}

// LinkURL renders the customer-facing URL for a token.
func (s *Service) LinkURL(token string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/r/%s", base, token)
}

// generateToken returns a 128-bit URL-safe random token.
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ==========================
// Link Resolution
// ==========================

// LinkState is the outcome of resolving a recovery token.
type LinkState string

const (
	LinkOK       LinkState = "ok"
	LinkNotFound LinkState = "not_found"
	LinkExpired  LinkState = "expired"
	LinkUsed     LinkState = "used"
)

type LinkResolution struct {
	State       LinkState               `json:"state"`
	Attempt     *models.RecoveryAttempt `json:"attempt,omitempty"`
	Transaction *models.Transaction     `json:"transaction,omitempty"`
}

// GetRecoveryByToken resolves a token to a typed result. Unknown, expired,
// and consumed tokens are ordinary outcomes, not errors. Expiry is applied
// lazily: a past-deadline attempt is flipped to expired on first read.
func (s *Service) GetRecoveryByToken(ctx context.Context, token string) (*LinkResolution, error) {
	if token == "" {
		return &LinkResolution{State: LinkNotFound}, nil
	}

	if cached := s.cachedResolution(ctx, token); cached != nil {
		return cached, nil
	}

	attempt, err := s.store.GetAttemptByToken(ctx, token)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeResourceNotFound) {
			return &LinkResolution{State: LinkNotFound}, nil
		}
		return nil, err
	}

	if attempt.Status == models.AttemptCompleted {
		return &LinkResolution{State: LinkUsed, Attempt: attempt}, nil
	}
	if attempt.Status == models.AttemptExpired || attempt.Status == models.AttemptCancelled {
		return &LinkResolution{State: LinkExpired, Attempt: attempt}, nil
	}
	if attempt.ExpiredAt(s.now()) {
		if err := s.store.MarkExpired(ctx, attempt.ID); err != nil {
			s.logger.WithError(err).Warn("Lazy expiry write failed", map[string]interface{}{
				"attemptId": attempt.ID,
			})
		}
		attempt.Status = models.AttemptExpired
		return &LinkResolution{State: LinkExpired, Attempt: attempt}, nil
	}

	resolution := &LinkResolution{State: LinkOK, Attempt: attempt}
	if attempt.TransactionID != nil {
		txn, err := s.store.GetTransactionByID(ctx, *attempt.TransactionID)
		if err == nil {
			resolution.Transaction = txn
		}
	}

	s.cacheResolution(ctx, token, resolution)
	return resolution, nil
}

// MarkOpened records that the customer opened the link. Idempotent: the
// first open wins, replays are no-ops.
func (s *Service) MarkOpened(ctx context.Context, token string) error {
	attempt, err := s.store.GetAttemptByToken(ctx, token)
	if err != nil {
		return err
	}
	if attempt.Status == models.AttemptOpened || attempt.Status.Terminal() {
		return nil
	}
	if err := s.store.MarkOpened(ctx, attempt.ID); err != nil {
		return err
	}
	s.invalidateCache(ctx, token)
	return nil
}

// ==========================
// Retry Rescheduling
// ==========================

// ActorKind distinguishes who is calling an operator-facing operation.
type ActorKind string

const (
	ActorOperator ActorKind = "operator"
	ActorLink     ActorKind = "link"
)

// Actor carries the caller's proof of authority. Operators act with an
// org-scoped credential; customers act by presenting the raw link token.
type Actor struct {
	Kind  ActorKind
	OrgID int64
	Token string
}

type UpdateNextRetryInput struct {
	AttemptID   int64
	Token       string
	NextRetryAt time.Time
	Actor       Actor
}

// UpdateNextRetryAt reschedules an attempt's next automated retry. The
// attempt must be in created, sent, or scheduled; the new time must be
// strictly in the future; and the caller must either own the org or hold
// the attempt's token. On success the attempt moves to scheduled and an
// execution job is enqueued for the new time.
func (s *Service) UpdateNextRetryAt(ctx context.Context, input UpdateNextRetryInput) (*models.RecoveryAttempt, error) {
	now := s.now()
	if !input.NextRetryAt.After(now) {
		return nil, errors.NewValidationError("nextRetryAt must be in the future")
	}

	var (
		attempt *models.RecoveryAttempt
		err     error
	)
	if input.AttemptID != 0 {
		attempt, err = s.store.GetAttemptByID(ctx, input.AttemptID)
	} else {
		attempt, err = s.store.GetAttemptByToken(ctx, input.Token)
	}
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, input.Actor, attempt); err != nil {
		return nil, err
	}

	if !attempt.Active() {
		return nil, errors.NewStateConflictError(
			fmt.Sprintf("attempt %d is %s; only created, sent, or scheduled attempts can be rescheduled",
				attempt.ID, attempt.Status))
	}
	if attempt.ExpiredAt(now) {
		return nil, errors.NewLinkExpiredError(attempt.Token)
	}

	if err := s.store.ScheduleRetry(ctx, attempt.ID, input.NextRetryAt); err != nil {
		return nil, err
	}
	attempt.Status = models.AttemptScheduled
	next := input.NextRetryAt.UTC()
	attempt.NextRetryAt = &next
	s.invalidateCache(ctx, attempt.Token)

	if s.enqueuer != nil {
		_, err := s.enqueuer.Enqueue(ctx, "execute_retry_attempt", map[string]interface{}{
			"attemptId": attempt.ID,
		}, next)
		if err != nil {
			return nil, errors.NewSchedulingFailedError(err)
		}
	}

	s.logger.Info("Retry rescheduled", map[string]interface{}{
		"attemptId":   attempt.ID,
		"nextRetryAt": next,
		"actor":       string(input.Actor.Kind),
	})
	return attempt, nil
}

func (s *Service) authorize(ctx context.Context, actor Actor, attempt *models.RecoveryAttempt) error {
	switch actor.Kind {
	case ActorLink:
		if actor.Token == "" || actor.Token != attempt.Token {
			return errors.NewUnauthorizedError("token does not match attempt")
		}
		return nil
	case ActorOperator:
		if attempt.TransactionID == nil {
			return errors.NewUnauthorizedError("attempt has no owning transaction")
		}
		txn, err := s.store.GetTransactionByID(ctx, *attempt.TransactionID)
		if err != nil {
			return err
		}
		if txn.OrgID == nil || *txn.OrgID != actor.OrgID {
			return errors.NewUnauthorizedError("credential org does not own this attempt")
		}
		return nil
	}
	return errors.NewUnauthorizedError("unknown actor kind")
}

// ==========================
// Policies
// ==========================

// PolicyForOrg returns the org's active policy, falling back to the
// configured engine default.
func (s *Service) PolicyForOrg(ctx context.Context, orgID int64) (*models.RetryPolicy, error) {
	if orgID != 0 {
		policy, err := s.store.ActivePolicyForOrg(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			return policy, nil
		}
	}
	policy := models.DefaultRetryPolicy(orgID)
	if s.fallback.MaxRetries > 0 {
		policy.MaxRetries = s.fallback.MaxRetries
		policy.InitialDelayMinutes = s.fallback.InitialDelayMinutes
		policy.BackoffMultiplier = s.fallback.BackoffMultiplier
		policy.MaxDelayMinutes = s.fallback.MaxDelayMinutes
	}
	return policy, nil
}

// ActivatePolicy validates and activates a new policy for an org.
func (s *Service) ActivatePolicy(ctx context.Context, p *models.RetryPolicy) error {
	if p.OrgID == 0 {
		return errors.NewValidationError("orgId is required")
	}
	if p.MaxRetries < 0 {
		return errors.NewValidationError("maxRetries must not be negative")
	}
	if p.InitialDelayMinutes <= 0 {
		return errors.NewValidationError("initialDelayMinutes must be positive")
	}
	if p.BackoffMultiplier < 1 {
		return errors.NewValidationError("backoffMultiplier must be at least 1")
	}
	if p.MaxDelayMinutes < p.InitialDelayMinutes {
		return errors.NewValidationError("maxDelayMinutes must be at least initialDelayMinutes")
	}
	return s.store.CreatePolicy(ctx, p)
}

// ==========================
// Cache
// ==========================

const cacheTTL = 60 * time.Second

func cacheKey(token string) string {
	return "recovery:link:" + token
}

func (s *Service) cachedResolution(ctx context.Context, token string) *LinkResolution {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, cacheKey(token)).Result()
	if err != nil {
		return nil
	}
	var resolution LinkResolution
	if err := json.Unmarshal([]byte(raw), &resolution); err != nil {
		return nil
	}
	// A cached OK can go stale past the deadline; re-resolve from the store.
	if resolution.State == LinkOK && resolution.Attempt != nil &&
		resolution.Attempt.ExpiredAt(s.now()) {
		return nil
	}
	return &resolution
}

func (s *Service) cacheResolution(ctx context.Context, token string, resolution *LinkResolution) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(resolution)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(token), raw, cacheTTL).Err(); err != nil {
		s.logger.WithError(err).Debug("Link cache write failed", nil)
	}
}

func (s *Service) invalidateCache(ctx context.Context, token string) {
	if s.redis == nil || token == "" {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(token)).Err(); err != nil {
		s.logger.WithError(err).Debug("Link cache invalidation failed", nil)
	}
}

func orgIDOf(txn *models.Transaction) int64 {
	if txn.OrgID != nil {
		return *txn.OrgID
	}
	return 0
}
