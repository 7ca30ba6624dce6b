package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskType identifies the kind of work a task performs
type TaskType string

// Known task types
const (
	TaskTypeChat            TaskType = "chat"
	TaskTypeEmbedding       TaskType = "embedding"
	TaskTypeRerank          TaskType = "rerank"
	TaskTypeSkillInvocation TaskType = "skill_invocation"
	TaskTypeMCPToolCall     TaskType = "mcp_tool_call"
)

// TaskPriority orders tasks by importance. Priority is stored with the task
// and surfaced to consumers, but the dispatch queue itself is single-lane:
// priority never reorders already-queued work.
type TaskPriority int

// Priority levels, lowest to highest
const (
	TaskPriorityLow    TaskPriority = 1
	TaskPriorityNormal TaskPriority = 2
	TaskPriorityHigh   TaskPriority = 3
	TaskPriorityUrgent TaskPriority = 4
)

// Task represents a unit of orchestrated work with a typed payload and a
// lifecycle status. Tasks are created on submission and mutated only by the
// orchestrator's transition operations (or an explicit cancel).
type Task struct {
	ID            uuid.UUID       `json:"id"`
	UserID        string          `json:"user_id"`
	Type          TaskType        `json:"task_type"`
	Status        TaskStatus      `json:"status"`
	Priority      TaskPriority    `json:"priority"`
	InputPayload  json.RawMessage `json:"input_payload"`
	OutputPayload json.RawMessage `json:"output_payload,omitempty"`
	ErrorReason   string          `json:"error_reason,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`

	// Source and ExternalID identify webhook-originated tasks for
	// idempotent acceptance: the pair is unique when both are set.
	Source     string `json:"source,omitempty"`
	ExternalID string `json:"external_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask creates a new pending Task with a generated ID and timestamps.
// Returns an error if validation fails.
func NewTask(
	taskType TaskType,
	input json.RawMessage,
	userID string,
	priority TaskPriority,
	metadata json.RawMessage,
) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         taskType,
		Status:       TaskStatusPending,
		Priority:     priority,
		InputPayload: input,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks if the Task has valid data.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: task ID cannot be empty", ErrInvalidID)
	}

	if !IsValidTaskType(t.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, t.Type)
	}

	if !IsValidTaskStatus(t.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}

	if t.Priority < TaskPriorityLow || t.Priority > TaskPriorityUrgent {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, t.Priority)
	}

	if len(t.InputPayload) == 0 {
		return ErrEmptyPayload
	}

	// Source and ExternalID travel as a pair or not at all.
	if (t.Source == "") != (t.ExternalID == "") {
		return fmt.Errorf("%w: source and external_id must be set together", ErrValidation)
	}

	return nil
}

// IsTerminal reports whether the task has reached a final status.
// Terminal tasks admit no further status writes.
func (t *Task) IsTerminal() bool {
	return IsTerminalStatus(t.Status)
}

// IsTerminalStatus reports whether the given status is final.
func IsTerminalStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a task in status `from` may move to `to`.
// The lifecycle is pending → processing → {completed | failed | cancelled},
// with cancelled also reachable directly from pending.
func CanTransitionTo(from, to TaskStatus) bool {
	if IsTerminalStatus(from) {
		return false
	}

	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusCancelled || to == TaskStatusFailed
	case TaskStatusProcessing:
		return IsTerminalStatus(to)
	default:
		return false
	}
}

// IsValidTaskStatus checks if the given status is a known TaskStatus.
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidTaskType checks if the given type is a known TaskType.
func IsValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeChat, TaskTypeEmbedding, TaskTypeRerank,
		TaskTypeSkillInvocation, TaskTypeMCPToolCall:
		return true
	default:
		return false
	}
}

// ParsePriority converts a priority name to a TaskPriority.
// An empty name maps to TaskPriorityNormal.
func ParsePriority(name string) (TaskPriority, error) {
	switch name {
	case "low":
		return TaskPriorityLow, nil
	case "normal", "":
		return TaskPriorityNormal, nil
	case "high":
		return TaskPriorityHigh, nil
	case "urgent":
		return TaskPriorityUrgent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, name)
	}
}

// String returns the priority's wire name.
func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityLow:
		return "low"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}
