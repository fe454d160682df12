package queue

import (
	"context"
	"testing"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/validation"
	"tinko-recovery/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name   string
	schema validation.JSONSchema
	fn     func(ctx context.Context, job *models.Job) error
}

func (h *stubHandler) TaskName() string { return h.name }

func (h *stubHandler) InputSchema() validation.JSONSchema { return h.schema }

func (h *stubHandler) Handle(ctx context.Context, job *models.Job) error {
	if h.fn != nil {
		return h.fn(ctx, job)
	}
	return nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubHandler{name: "send_email"}))
	require.NoError(t, registry.Register(&stubHandler{name: "send_recovery_sms"}))

	h, ok := registry.Lookup("send_email")
	require.True(t, ok)
	assert.Equal(t, "send_email", h.TaskName())

	_, ok = registry.Lookup("unknown_task")
	assert.False(t, ok)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubHandler{name: "send_email"}))
	err := registry.Register(&stubHandler{name: "send_email"})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&stubHandler{name: ""})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidationFailed))
}

func TestRegistry_TaskNamesSorted(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(&stubHandler{name: "send_recovery_sms"}))
	require.NoError(t, registry.Register(&stubHandler{name: "execute_retry_attempt"}))
	require.NoError(t, registry.Register(&stubHandler{name: "send_email"}))

	assert.Equal(t, []string{"execute_retry_attempt", "send_email", "send_recovery_sms"}, registry.TaskNames())
}
