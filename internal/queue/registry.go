// internal/queue/registry.go
package queue

import (
	"context"
	"sort"
	"sync"

	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/validation"
	"tinko-recovery/internal/models"
)

// Handler executes one task type. Implementations must be safe for
// concurrent calls.
type Handler interface {
	TaskName() string
	InputSchema() validation.JSONSchema
	Handle(ctx context.Context, job *models.Job) error
}

// Registry maps task names to handlers. The mapping is explicit and
// injected into the worker at construction; there is no package-level
// registration and no init-time side effects.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same task name twice is a
// configuration bug and fails loudly.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.TaskName()
	if name == "" {
		return errors.NewValidationError("handler has empty task name")
	}
	if _, exists := r.handlers[name]; exists {
		return errors.NewValidationError("handler already registered for task: " + name)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for a task name.
func (r *Registry) Lookup(taskName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskName]
	return h, ok
}

// TaskNames returns the registered task names in sorted order.
func (r *Registry) TaskNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
