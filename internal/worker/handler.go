package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vendorops/backend/internal/domain"
)

// ProgressFunc reports execution progress back to the job store. pct is
// clamped to 0-100 by the store and never decreases within a run; partial
// may carry an intermediate result or be nil.
type ProgressFunc func(pct int, partial json.RawMessage)

// Handler executes the domain logic for one job kind. It returns a result
// payload on success. Errors wrapped in domain.FatalError fail the job
// terminally; anything else is treated as transient and retried while the
// attempt budget lasts.
type Handler func(ctx context.Context, job *domain.Job, progress ProgressFunc) (json.RawMessage, error)

// Registry maps job kinds to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds kind to h, replacing any previous binding.
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Resolve returns the handler for kind. An unknown kind is a fatal error:
// retrying cannot make a handler appear.
func (r *Registry) Resolve(kind string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, domain.NewFatalError(fmt.Errorf("no handler registered for kind %q", kind))
	}
	return h, nil
}
