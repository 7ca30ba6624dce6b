package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/domain"
)

// execution is the in-process handle for one running execution unit.
// Its context is cancelled by Cancel and Shutdown; the execution observes
// the signal at its safe points (before each provider call and retry attempt).
type execution struct {
	taskID    uuid.UUID
	taskType  domain.TaskType
	userID    string
	cancel    context.CancelFunc
	startedAt time.Time
}

// executionRegistry maps task IDs to their live execution handles.
// Dispatchers write it while Cancel and Shutdown read it from other callers,
// so every access goes through the mutex.
type executionRegistry struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*execution
}

func newExecutionRegistry() *executionRegistry {
	return &executionRegistry{
		executions: make(map[uuid.UUID]*execution),
	}
}

// add registers a running execution.
func (r *executionRegistry) add(exec *execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[exec.taskID] = exec
}

// remove drops the execution for taskID, if any.
func (r *executionRegistry) remove(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executions, taskID)
}

// signalCancel cancels the execution for taskID if one is running.
// The signal is best-effort: the execution may still complete and attempt a
// terminal write, which the durable-store guard resolves.
func (r *executionRegistry) signalCancel(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.executions[taskID]
	if !ok {
		return false
	}
	exec.cancel()
	return true
}

// signalAll cancels every running execution.
func (r *executionRegistry) signalAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, exec := range r.executions {
		exec.cancel()
	}
}

// snapshot returns a copy of the live execution descriptors.
func (r *executionRegistry) snapshot() []ActiveExecution {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]ActiveExecution, 0, len(r.executions))
	for _, exec := range r.executions {
		active = append(active, ActiveExecution{
			TaskID:    exec.taskID,
			TaskType:  exec.taskType,
			UserID:    exec.userID,
			StartedAt: exec.startedAt,
		})
	}
	return active
}

// ActiveExecution describes one in-flight task execution.
type ActiveExecution struct {
	TaskID    uuid.UUID       `json:"task_id"`
	TaskType  domain.TaskType `json:"task_type"`
	UserID    string          `json:"user_id"`
	StartedAt time.Time       `json:"started_at"`
}
