package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/logger"
	"github.com/bl1nk/agent-worker/internal/store"
)

// TaskStore implements the store.TaskStore interface using PostgreSQL.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{
		db: db,
	}
}

// WithTx returns a new TaskStore that runs its operations on the provided
// transaction. The transaction is created and managed by the caller.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

const taskColumns = `
	id, user_id, task_type, status, priority,
	input_payload, output_payload, error_reason, metadata,
	source, external_id, created_at, updated_at
`

// CreateTask persists a new task to the database.
func (s *TaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.UserID,
		task.Type,
		task.Status,
		task.Priority,
		[]byte(task.InputPayload),
		nullableJSON(task.OutputPayload),
		nullableString(task.ErrorReason),
		nullableJSON(task.Metadata),
		nullableString(task.Source),
		nullableString(task.ExternalID),
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		mapped := MapError(err)
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", mapped)
		return fmt.Errorf("failed to save task: %w", mapped)
	}

	return nil
}

// GetTask retrieves a task by its ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}

	return task, nil
}

// GetTaskBySource retrieves a task by its (source, external_id) pair.
func (s *TaskStore) GetTaskBySource(
	ctx context.Context,
	source, externalID string,
) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE source = $1 AND external_id = $2`

	row := s.db.QueryRowContext(ctx, query, source, externalID)
	task, err := scanTask(row)
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, fmt.Errorf("%w: %s:%s", store.ErrTaskNotFound, source, externalID)
		}
		return nil, fmt.Errorf("failed to get task by source: %w", MapError(err))
	}

	return task, nil
}

// UpdateStatus performs the guarded conditional status update that totally
// orders task transitions. The row is written only when its current status is
// one of `expected`; a false return means another writer won the race.
func (s *TaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	output json.RawMessage,
	errorReason string,
	expected []domain.TaskStatus,
) (bool, error) {
	log := logger.FromContext(ctx)

	if len(expected) == 0 {
		return false, fmt.Errorf("%w: no expected prior statuses given", store.ErrUpdateFailed)
	}

	query := `
		UPDATE tasks
		SET status = $1,
		    output_payload = COALESCE($2, output_payload),
		    error_reason = COALESCE($3, error_reason),
		    updated_at = $4
		WHERE id = $5 AND status = ANY($6)
	`

	expectedStrs := make([]string, len(expected))
	for i, st := range expected {
		expectedStrs[i] = string(st)
	}

	result, err := s.db.ExecContext(ctx, query,
		status,
		nullableJSON(output),
		nullableString(errorReason),
		time.Now().UTC(),
		id,
		expectedStrs,
	)
	if err != nil {
		mapped := MapError(err)
		log.Error("failed to update task status",
			"task_id", id,
			"status", status,
			"error", mapped)
		return false, fmt.Errorf("failed to update task status: %w", mapped)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task        domain.Task
		output      []byte
		metadata    []byte
		errorReason sql.NullString
		source      sql.NullString
		externalID  sql.NullString
		input       []byte
	)

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Type,
		&task.Status,
		&task.Priority,
		&input,
		&output,
		&errorReason,
		&metadata,
		&source,
		&externalID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.InputPayload = input
	if output != nil {
		task.OutputPayload = output
	}
	if metadata != nil {
		task.Metadata = metadata
	}
	task.ErrorReason = errorReason.String
	task.Source = source.String
	task.ExternalID = externalID.String

	return &task, nil
}

// nullableString maps "" to SQL NULL so empty optional fields do not occupy
// the unique (source, external_id) index.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
