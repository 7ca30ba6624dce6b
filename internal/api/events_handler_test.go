package api

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl1nk/agent-worker/internal/broker"
)

func newEventsTestServer(t *testing.T, b *broker.Broadcaster) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewEventsHandler(b, time.Minute, logger)

	r := chi.NewRouter()
	r.Get("/api/tasks/{id}/events", handler.StreamTask)
	r.Get("/api/users/{id}/events", handler.StreamUser)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

// waitForSubscribers polls until the broadcaster sees the expected number of
// connections, so a publish cannot race the subscription handshake.
func waitForSubscribers(t *testing.T, b *broker.Broadcaster, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.Stats()["active_connections"] == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_StreamTask(t *testing.T) {
	t.Parallel()

	b := broker.NewBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := newEventsTestServer(t, b)

	taskID := uuid.NewString()
	resp, err := http.Get(server.URL + "/api/tasks/" + taskID + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitForSubscribers(t, b, 1)

	b.PublishToTask(taskID, broker.EventProgress, []byte(`{"status":"processing"}`))
	b.PublishToTask(taskID, broker.EventDone, []byte(`{"status":"completed"}`))

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			frames = append(frames, strings.TrimPrefix(line, "event: "))
		}
	}

	// The stream terminates itself after the done event.
	assert.Equal(t, []string{"progress", "done"}, frames)
	waitForSubscribers(t, b, 0)
}

func TestEventsHandler_StreamTask_InvalidID(t *testing.T) {
	t.Parallel()

	b := broker.NewBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := newEventsTestServer(t, b)

	resp, err := http.Get(server.URL + "/api/tasks/not-a-uuid/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventsHandler_StreamTask_TerminatesOnError(t *testing.T) {
	t.Parallel()

	b := broker.NewBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := newEventsTestServer(t, b)

	taskID := uuid.NewString()
	resp, err := http.Get(server.URL + "/api/tasks/" + taskID + "/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	waitForSubscribers(t, b, 1)
	b.PublishToTask(taskID, broker.EventError, []byte(`{"error":"provider failed"}`))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: error")
}

func TestEventsHandler_StreamUser(t *testing.T) {
	t.Parallel()

	b := broker.NewBroadcaster(slog.New(slog.NewTextHandler(io.Discard, nil)))
	server := newEventsTestServer(t, b)

	resp, err := http.Get(server.URL + "/api/users/user-1/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	waitForSubscribers(t, b, 1)
	b.PublishToUser("user-1", broker.EventDone, []byte(`{}`))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: done")
}
