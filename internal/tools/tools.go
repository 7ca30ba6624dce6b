// Package tools exposes the MCP tool-call collaborator for mcp_tool_call
// tasks. Like the skills registry, it is an owned structure injected into
// the orchestrator rather than shared module state.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bl1nk/agent-worker/internal/store"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Caller is the contract the orchestrator calls.
type Caller interface {
	// Call runs the identified tool. Unknown names fail with a wrapped
	// store.ErrNotFound.
	Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Registry is a concurrency-safe tool registry implementing Caller.
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

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Call runs the identified tool.
func (r *Registry) Call(
	ctx context.Context,
	name string,
	args json.RawMessage,
) (json.RawMessage, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: tool %q", store.ErrNotFound, name)
	}

	result, err := handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q failed: %w", name, err)
	}

	return result, nil
}
