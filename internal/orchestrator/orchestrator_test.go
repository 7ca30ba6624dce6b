package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl1nk/agent-worker/internal/broker"
	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/memstore"
	"github.com/bl1nk/agent-worker/internal/provider"
	"github.com/bl1nk/agent-worker/internal/retry"
	"github.com/bl1nk/agent-worker/internal/skills"
	"github.com/bl1nk/agent-worker/internal/status"
	"github.com/bl1nk/agent-worker/internal/store"
	"github.com/bl1nk/agent-worker/internal/tools"
	"github.com/bl1nk/agent-worker/internal/vector"
)

// fakeTaskStore is an in-memory store.TaskStore that enforces the same
// guarded update semantics as the database implementation.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func (f *fakeTaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if task.Source != "" {
		for _, existing := range f.tasks {
			if existing.Source == task.Source && existing.ExternalID == task.ExternalID {
				return fmt.Errorf("%w: %s:%s", store.ErrDuplicate, task.Source, task.ExternalID)
			}
		}
	}

	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

func (f *fakeTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskStore) GetTaskBySource(
	ctx context.Context,
	source, externalID string,
) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, task := range f.tasks {
		if task.Source == source && task.ExternalID == externalID {
			copied := *task
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s:%s", store.ErrTaskNotFound, source, externalID)
}

func (f *fakeTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	taskStatus domain.TaskStatus,
	output json.RawMessage,
	errorReason string,
	expected []domain.TaskStatus,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[id]
	if !ok {
		return false, nil
	}

	matched := false
	for _, want := range expected {
		if task.Status == want {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	task.Status = taskStatus
	if output != nil {
		task.OutputPayload = output
	}
	if errorReason != "" {
		task.ErrorReason = errorReason
	}
	task.UpdatedAt = time.Now().UTC()
	return true, nil
}

// fixture bundles an orchestrator over fully in-memory collaborators.
type fixture struct {
	orch        *Orchestrator
	tasks       *fakeTaskStore
	providers   *provider.MockRouter
	skills      *skills.Registry
	tools       *tools.Registry
	broadcaster *broker.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := newFakeTaskStore()
	providers := provider.NewMockRouter()
	skillRegistry := skills.NewRegistry()
	toolRegistry := tools.NewRegistry()
	broadcaster := broker.NewBroadcaster(logger)

	orch := New(
		tasks,
		status.NewStore(memstore.NewCache(0), time.Minute),
		memstore.NewQueue(100),
		providers,
		vector.NewMemoryStore(),
		skillRegistry,
		toolRegistry,
		broadcaster,
		Config{
			QueueName:  "tasks",
			PopTimeout: 50 * time.Millisecond,
			ProviderRetry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				Strategy:    retry.StrategyFixed,
			},
		},
		logger,
	)

	return &fixture{
		orch:        orch,
		tasks:       tasks,
		providers:   providers,
		skills:      skillRegistry,
		tools:       toolRegistry,
		broadcaster: broadcaster,
	}
}

func chatInput(t *testing.T) json.RawMessage {
	t.Helper()
	return json.RawMessage(`{"message":"hello","model":"test-model"}`)
}

func TestOrchestrator_SubmitAndProcess_Completes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	taskID, err := f.orch.Submit(ctx, domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, taskID)

	record, err := f.orch.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, record.Status)

	gotID, processed, err := f.orch.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, taskID, gotID)

	task, err := f.tasks.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.NotEmpty(t, task.OutputPayload)

	record, err = f.orch.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, record.Status)
}

func TestOrchestrator_Submit_InvalidTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.Submit(
		context.Background(),
		"unknown",
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	assert.ErrorIs(t, err, domain.ErrInvalidTaskType)

	_, err = f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		nil,
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	assert.ErrorIs(t, err, domain.ErrEmptyPayload)
}

func TestOrchestrator_Submit_RejectedDuringShutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.orch.Shutdown(context.Background()))

	_, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestOrchestrator_ProcessNext_EmptyQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestOrchestrator_RetriesTransientProviderFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.providers.FailuresBeforeSuccess = 2

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, 3, f.providers.Calls("generate"))
}

func TestOrchestrator_FailsAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.providers.FailuresBeforeSuccess = 10

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.ErrorReason, "max retry attempts exceeded")
	assert.Equal(t, 3, f.providers.Calls("generate"))
}

func TestOrchestrator_GetStatus_FailedTaskFromProjection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.providers.FailuresBeforeSuccess = 10

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// The projection is still warm, so this read is served from the cache.
	// The failure reason must survive the cache hop.
	record, err := f.orch.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, record.Status)
	assert.Contains(t, record.Error, "max retry attempts exceeded")
	assert.Empty(t, record.Result)
}

func TestOrchestrator_ValidationErrorNotRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		json.RawMessage(`{"message":""}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	// Validation fails before any provider call.
	assert.Zero(t, f.providers.Calls("generate"))
}

func TestOrchestrator_CancelPendingTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	taskID, err := f.orch.Submit(ctx, domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil)
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The queued token is dropped when its task is no longer pending.
	_, processed, err := f.orch.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	task, err := f.tasks.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
}

func TestOrchestrator_CancelDuringExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.skills.Register("stubborn", func(ctx context.Context, inputs json.RawMessage) (json.RawMessage, error) {
		close(started)
		// Ignores cancellation and finishes anyway, so its completion
		// write races the already-settled cancel transition.
		<-release
		return json.RawMessage(`{"late":"result"}`), nil
	})

	taskID, err := f.orch.Submit(
		ctx,
		domain.TaskTypeSkillInvocation,
		json.RawMessage(`{"skill_id":"stubborn"}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.orch.ProcessNext(ctx)
	}()

	<-started
	cancelled, err := f.orch.Cancel(ctx, taskID)
	require.NoError(t, err)
	require.True(t, cancelled)

	close(release)
	<-done

	// Exactly one terminal state: the guard already settled on cancelled,
	// so the late completion must not land its output.
	task, err := f.tasks.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	assert.Empty(t, task.OutputPayload)
}

func TestOrchestrator_CancelNotifiesUserSubscribers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	events := f.broadcaster.Subscribe("conn-user", "", "user-1")

	taskID, err := f.orch.Submit(ctx, domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil)
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(ctx, taskID)
	require.NoError(t, err)
	require.True(t, cancelled)

	deadline := time.After(time.Second)
	for {
		select {
		case event := <-events:
			if event.Type != broker.EventDone {
				continue
			}
			var payload struct {
				TaskID uuid.UUID         `json:"task_id"`
				Status domain.TaskStatus `json:"status"`
			}
			require.NoError(t, json.Unmarshal(event.Data, &payload))
			assert.Equal(t, taskID, payload.TaskID)
			assert.Equal(t, domain.TaskStatusCancelled, payload.Status)
			return
		case <-deadline:
			t.Fatal("user-scoped subscriber never saw the cancellation")
		}
	}
}

func TestOrchestrator_CancelTerminalTaskIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	taskID, err := f.orch.Submit(ctx, domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	cancelled, err := f.orch.Cancel(ctx, taskID)
	require.NoError(t, err)
	assert.False(t, cancelled, "terminal tasks admit no further transitions")

	task, err := f.tasks.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
}

func TestOrchestrator_CancelUnknownTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	cancelled, err := f.orch.Cancel(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestOrchestrator_SubmitFromSource_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.SubmitFromSource(
		ctx, "slack", "msg-42",
		domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil,
	)
	require.NoError(t, err)

	second, err := f.orch.SubmitFromSource(
		ctx, "slack", "msg-42",
		domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same (source, external_id) must return the same task")

	// A different external ID creates a distinct task.
	third, err := f.orch.SubmitFromSource(
		ctx, "slack", "msg-43",
		domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil,
	)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestOrchestrator_SubmitFromSource_RequiresPair(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.SubmitFromSource(
		context.Background(), "", "msg-42",
		domain.TaskTypeChat, chatInput(t), "user-1", domain.TaskPriorityNormal, nil,
	)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestOrchestrator_GetStatus_FallsBackToDurableRecord(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := newFakeTaskStore()

	// A very short projection TTL forces the fallback path.
	orch := New(
		tasks,
		status.NewStore(memstore.NewCache(0), time.Nanosecond),
		memstore.NewQueue(100),
		provider.NewMockRouter(),
		vector.NewMemoryStore(),
		skills.NewRegistry(),
		tools.NewRegistry(),
		nil,
		Config{PopTimeout: 50 * time.Millisecond},
		logger,
	)

	taskID, err := orch.Submit(
		context.Background(),
		domain.TaskTypeChat,
		chatInput(t),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	record, err := orch.GetStatus(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, record.Status)
	assert.Equal(t, domain.TaskTypeChat, record.TaskType)
}

func TestOrchestrator_GetStatus_UnknownTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestOrchestrator_SkillInvocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.skills.Register("summarize", func(ctx context.Context, inputs json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"summary":"short"}`), nil
	})

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeSkillInvocation,
		json.RawMessage(`{"skill_id":"summarize","inputs":{"text":"long text"}}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Contains(t, string(task.OutputPayload), "summary")
}

func TestOrchestrator_UnknownSkillFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeSkillInvocation,
		json.RawMessage(`{"skill_id":"missing"}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
}

func TestOrchestrator_EmbeddingStoresVector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeEmbedding,
		json.RawMessage(`{"text":"embed me","model":"embed-model"}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	var output struct {
		VectorID  string `json:"vector_id"`
		Dimension int    `json:"dimension"`
	}
	require.NoError(t, json.Unmarshal(task.OutputPayload, &output))
	assert.NotEmpty(t, output.VectorID)
	assert.Equal(t, 8, output.Dimension)
}

func TestOrchestrator_RerankOrdersDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeRerank,
		json.RawMessage(`{"query":"alpha beta","documents":["gamma delta","alpha beta gamma","alpha only"]}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	var output struct {
		Reranked      []provider.RankedDocument `json:"reranked_documents"`
		OriginalCount int                       `json:"original_count"`
		RerankedCount int                       `json:"reranked_count"`
	}
	require.NoError(t, json.Unmarshal(task.OutputPayload, &output))
	require.Len(t, output.Reranked, 3)
	assert.Equal(t, 3, output.OriginalCount)
	assert.Equal(t, 3, output.RerankedCount)
	assert.Equal(t, "alpha beta gamma", output.Reranked[0].Document, "best match comes first")
	assert.GreaterOrEqual(t, output.Reranked[0].Score, output.Reranked[1].Score)
	assert.GreaterOrEqual(t, output.Reranked[1].Score, output.Reranked[2].Score)
}

func TestOrchestrator_ToolCallInvocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tools.Register("weather", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"forecast":"sunny"}`), nil
	})

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeMCPToolCall,
		json.RawMessage(`{"tool":"weather","args":{"city":"berlin"}}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	_, processed, err := f.orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	task, err := f.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	var output struct {
		Tool   string          `json:"tool"`
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(task.OutputPayload, &output))
	assert.Equal(t, "weather", output.Tool)
	assert.JSONEq(t, `{"forecast":"sunny"}`, string(output.Result))
}

func TestOrchestrator_MalformedTokenDropped(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queue := memstore.NewQueue(100)

	orch := New(
		newFakeTaskStore(),
		status.NewStore(memstore.NewCache(0), time.Minute),
		queue,
		provider.NewMockRouter(),
		vector.NewMemoryStore(),
		skills.NewRegistry(),
		tools.NewRegistry(),
		nil,
		Config{PopTimeout: 50 * time.Millisecond},
		logger,
	)

	require.NoError(t, queue.Push(context.Background(), "tasks", []byte("not json")))

	_, processed, err := orch.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestOrchestrator_ActiveTasksDuringExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.skills.Register("slow", func(ctx context.Context, inputs json.RawMessage) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{}`), nil
	})

	taskID, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeSkillInvocation,
		json.RawMessage(`{"skill_id":"slow"}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.orch.ProcessNext(context.Background())
	}()

	<-started
	active := f.orch.ActiveTasks()
	require.Len(t, active, 1)
	assert.Equal(t, taskID, active[0].TaskID)

	close(release)
	<-done

	assert.Empty(t, f.orch.ActiveTasks())
}

func TestOrchestrator_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.Run(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestOrchestrator_ShutdownWaitsForInflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	release := make(chan struct{})
	started := make(chan struct{})
	f.skills.Register("slow", func(ctx context.Context, inputs json.RawMessage) (json.RawMessage, error) {
		close(started)
		select {
		case <-release:
			return json.RawMessage(`{}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	_, err := f.orch.Submit(
		context.Background(),
		domain.TaskTypeSkillInvocation,
		json.RawMessage(`{"skill_id":"slow"}`),
		"user-1",
		domain.TaskPriorityNormal,
		nil,
	)
	require.NoError(t, err)

	processDone := make(chan struct{})
	go func() {
		defer close(processDone)
		_, _, _ = f.orch.ProcessNext(context.Background())
	}()

	<-started

	// Shutdown signals the execution's context; the slow skill observes it
	// and returns, letting shutdown complete within the grace period.
	err = f.orch.Shutdown(context.Background())
	assert.NoError(t, err)

	<-processDone
}
