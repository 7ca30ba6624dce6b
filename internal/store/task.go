package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/domain"
)

// TaskStore defines the interface for persisting tasks.
// The durable record is the single source of truth for task state;
// every status transition goes through a guarded conditional update.
type TaskStore interface {
	// CreateTask persists a new task. Returns ErrDuplicate (wrapped) if the
	// task's (source, external_id) pair already exists.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask retrieves a task by ID. Returns ErrTaskNotFound if absent.
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetTaskBySource retrieves a task by its (source, external_id) pair.
	// Returns ErrTaskNotFound if absent.
	GetTaskBySource(ctx context.Context, source, externalID string) (*domain.Task, error)

	// UpdateStatus performs a guarded conditional update: the task's status
	// is set to `status` only if its current status is one of `expected`.
	// Output and errorReason are written alongside the status when non-zero.
	// Returns false (with nil error) when the guard did not match, which is
	// how a transition loses a race against another writer.
	UpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		status domain.TaskStatus,
		output json.RawMessage,
		errorReason string,
		expected []domain.TaskStatus,
	) (bool, error)
}
