package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/broker"
)

// EventsHandler streams task progress events to clients over SSE.
type EventsHandler struct {
	broadcaster *broker.Broadcaster
	heartbeat   time.Duration
	logger      *slog.Logger
}

// NewEventsHandler creates a new EventsHandler. Idle streams receive a
// heartbeat event every heartbeat interval.
func NewEventsHandler(
	broadcaster *broker.Broadcaster,
	heartbeat time.Duration,
	logger *slog.Logger,
) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &EventsHandler{
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
		logger:      logger.With("handler", "events"),
	}
}

// StreamTask handles GET /api/tasks/{id}/events. The stream carries the
// task's transition events and terminates after done or error, or when the
// client disconnects.
func (h *EventsHandler) StreamTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(taskID); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	h.stream(w, r, taskID, r.URL.Query().Get("user_id"))
}

// StreamUser handles GET /api/users/{id}/events.
func (h *EventsHandler) StreamUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	h.stream(w, r, "", userID)
}

// stream subscribes the connection and forwards its events as SSE frames.
func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, taskID, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	connectionID := uuid.NewString()
	events := h.broadcaster.Subscribe(connectionID, taskID, userID)
	defer h.broadcaster.Unsubscribe(connectionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("event stream opened",
		"connection_id", connectionID,
		"task_id", taskID,
		"user_id", userID)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed by client", "connection_id", connectionID)
			return

		case <-heartbeat.C:
			writeSSE(w, broker.Event{
				Type:      broker.EventHeartbeat,
				Timestamp: time.Now().UTC(),
			})
			flusher.Flush()

		case event, ok := <-events:
			if !ok {
				// Subscription was reaped or replaced.
				return
			}

			writeSSE(w, event)
			flusher.Flush()

			if event.Type == broker.EventDone || event.Type == broker.EventError {
				h.logger.Debug("event stream finished",
					"connection_id", connectionID,
					"final_event", event.Type)
				return
			}
		}
	}
}

// writeSSE frames one event in text/event-stream format.
func writeSSE(w http.ResponseWriter, event broker.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
