// Package skills exposes the skill invocation collaborator the orchestrator
// delegates skill_invocation tasks to. The registry is an explicit owned
// structure injected where needed, never module-level state, so orchestrator
// instances and test fixtures cannot interfere with each other.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bl1nk/agent-worker/internal/store"
)

// Handler executes one skill's logic.
type Handler func(ctx context.Context, inputs json.RawMessage) (json.RawMessage, error)

// Invoker is the contract the orchestrator calls.
type Invoker interface {
	// Invoke runs the identified skill. Unknown IDs fail with a wrapped
	// store.ErrNotFound.
	Invoke(ctx context.Context, skillID string, inputs json.RawMessage) (json.RawMessage, error)
}

// Registry is a concurrency-safe skill registry implementing Invoker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds or replaces the handler for skillID.
func (r *Registry) Register(skillID string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[skillID] = handler
}

// Invoke runs the identified skill.
func (r *Registry) Invoke(
	ctx context.Context,
	skillID string,
	inputs json.RawMessage,
) (json.RawMessage, error) {
	r.mu.RLock()
	handler, ok := r.handlers[skillID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: skill %q", store.ErrNotFound, skillID)
	}

	result, err := handler(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("skill %q failed: %w", skillID, err)
	}

	return result, nil
}
