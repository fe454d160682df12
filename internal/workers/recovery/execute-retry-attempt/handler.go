package executeretryattempt

import (
	"context"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/validation"
	"tinko-recovery/internal/models"
)

const TaskName = "execute_retry_attempt"

// Handler adapts the retry-execution service to the queue's task interface.
type Handler struct {
	config  *Config
	logger  logger.Logger
	service *Service
}

type HandlerOptions struct {
	CustomConfig *Config
	Store        ServiceDependencies
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	config := opts.CustomConfig
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	deps := opts.Store
	if deps.Logger == nil {
		deps.Logger = log
	}
	return &Handler{
		config:  config,
		logger:  log,
		service: NewService(deps, config),
	}, nil
}

func (h *Handler) TaskName() string {
	return TaskName
}

func (h *Handler) InputSchema() validation.JSONSchema {
	return GetInputSchema()
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) Handle(ctx context.Context, job *models.Job) error {
	input, err := parseInput(job)
	if err != nil {
		return err
	}
	_, err = h.service.Execute(ctx, input)
	return err
}

func parseInput(job *models.Job) (*Input, error) {
	raw, ok := job.Arguments["attemptId"]
	if !ok {
		return nil, errors.NewValidationError("attemptId is required")
	}
	id, ok := toInt64(raw)
	if !ok || id <= 0 {
		return nil, errors.NewValidationError("attemptId must be a positive integer")
	}
	return &Input{AttemptID: id}, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}
