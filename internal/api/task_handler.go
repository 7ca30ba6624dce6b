package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/orchestrator"
)

// TaskHandler exposes the orchestrator's submit/status/cancel operations.
type TaskHandler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(orch *orchestrator.Orchestrator, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		orch:   orch,
		logger: logger.With("handler", "task"),
	}
}

// Submit handles POST /api/tasks.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	taskID, err := h.orch.Submit(
		r.Context(),
		domain.TaskType(req.TaskType),
		req.Input,
		req.UserID,
		priority,
		req.Metadata,
	)
	if err != nil {
		h.logger.Error("task submission failed", "error", err)
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{TaskID: taskID.String()})
}

// GetStatus handles GET /api/tasks/{id}.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	record, err := h.orch.GetStatus(r.Context(), taskID)
	if err != nil {
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
		TaskID:    record.TaskID.String(),
		Status:    string(record.Status),
		TaskType:  string(record.TaskType),
		UserID:    record.UserID,
		Result:    record.Result,
		Error:     record.Error,
		UpdatedAt: record.UpdatedAt,
	})
}

// Cancel handles DELETE /api/tasks/{id}. Cancelling a task that is already
// terminal (or unknown) is reported as not cancelled, not as an error.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	cancelled, err := h.orch.Cancel(r.Context(), taskID)
	if err != nil {
		h.logger.Error("task cancellation failed", "task_id", taskID, "error", err)
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	RespondWithJSON(w, r, http.StatusOK, CancelTaskResponse{
		TaskID:    taskID.String(),
		Cancelled: cancelled,
	})
}

// Active handles GET /api/tasks/active.
func (h *TaskHandler) Active(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, r, http.StatusOK, map[string]any{
		"active_tasks": h.orch.ActiveTasks(),
	})
}
