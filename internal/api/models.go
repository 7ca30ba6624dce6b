package api

import (
	"encoding/json"
	"time"
)

// SubmitTaskRequest is the body for POST /api/tasks.
type SubmitTaskRequest struct {
	TaskType string          `json:"task_type"`
	Input    json.RawMessage `json:"input"`
	UserID   string          `json:"user_id"`
	Priority string          `json:"priority,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// SubmitTaskResponse is returned by task submission endpoints.
type SubmitTaskResponse struct {
	TaskID    string `json:"task_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// TaskStatusResponse is returned by GET /api/tasks/{id}.
type TaskStatusResponse struct {
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	TaskType  string          `json:"task_type,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CancelTaskResponse is returned by DELETE /api/tasks/{id}.
type CancelTaskResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

// WebhookRequest is the body for POST /webhooks/{source}.
type WebhookRequest struct {
	ExternalID     string          `json:"external_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TaskType       string          `json:"task_type"`
	Input          json.RawMessage `json:"input"`
	UserID         string          `json:"user_id"`
	Priority       string          `json:"priority,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}
