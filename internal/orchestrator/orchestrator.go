// Package orchestrator implements the task lifecycle state machine:
// submit, queue, dispatch, execute, complete/fail/cancel.
//
// The durable task record is the single source of truth. Every status
// transition is a guarded conditional update keyed by the expected prior
// statuses, so concurrent writers (a dispatcher finishing work, a caller
// cancelling) resolve deterministically to whichever write lands first.
// The cache projection is written immediately after each durable write;
// a projection failure is a consistency warning, never a rollback.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bl1nk/agent-worker/internal/broker"
	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/metrics"
	"github.com/bl1nk/agent-worker/internal/provider"
	"github.com/bl1nk/agent-worker/internal/retry"
	"github.com/bl1nk/agent-worker/internal/skills"
	"github.com/bl1nk/agent-worker/internal/status"
	"github.com/bl1nk/agent-worker/internal/store"
	"github.com/bl1nk/agent-worker/internal/tools"
	"github.com/bl1nk/agent-worker/internal/vector"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// Config holds the orchestrator's tunables.
type Config struct {
	// QueueName is the shared dispatch queue.
	QueueName string

	// PopTimeout bounds each queue pop so dispatcher loops can observe
	// shutdown between waits.
	PopTimeout time.Duration

	// ShutdownGrace bounds how long Shutdown waits for in-flight executions.
	ShutdownGrace time.Duration

	// ProviderRetry is the retry policy applied to outbound provider calls.
	ProviderRetry retry.Policy
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:     "tasks",
		PopTimeout:    2 * time.Second,
		ShutdownGrace: 30 * time.Second,
		ProviderRetry: retry.DefaultPolicy(),
	}
}

// dispatchToken is the structured queue payload. The queue carries only
// this tagged envelope; the authoritative task state always comes from the
// durable record at dispatch time.
type dispatchToken struct {
	TaskID     uuid.UUID       `json:"task_id"`
	TaskType   domain.TaskType `json:"task_type"`
	UserID     string          `json:"user_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// StatusRecord is the caller-facing view of a task's status, assembled from
// the projection when cached and from the durable record otherwise.
type StatusRecord struct {
	TaskID    uuid.UUID         `json:"task_id"`
	Status    domain.TaskStatus `json:"status"`
	TaskType  domain.TaskType   `json:"task_type,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// failurePayload is the projection body cached for failed tasks, so a cache
// hit carries the error reason just as the durable record does.
type failurePayload struct {
	Error string `json:"error"`
}

func encodeFailureReason(reason string) json.RawMessage {
	encoded, err := json.Marshal(failurePayload{Error: reason})
	if err != nil {
		return nil
	}
	return encoded
}

func decodeFailureReason(data json.RawMessage) string {
	var payload failurePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Error
}

// Orchestrator coordinates task execution across providers and manages the
// task lifecycle. All of its state is owned and injected; two orchestrators
// over different stores are fully independent.
type Orchestrator struct {
	tasks    store.TaskStore
	statuses *status.Store
	queue    store.Queue

	providers provider.Router
	vectors   vector.Store
	skills    skills.Invoker
	tools     tools.Caller

	broadcaster    *broker.Broadcaster
	registry       *executionRegistry
	providerPolicy retry.Policy

	cfg    Config
	logger *slog.Logger

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// New creates an Orchestrator. The broadcaster may be nil when no event
// streaming is wanted (e.g. in tests).
func New(
	tasks store.TaskStore,
	statuses *status.Store,
	queue store.Queue,
	providers provider.Router,
	vectors vector.Store,
	skillInvoker skills.Invoker,
	toolCaller tools.Caller,
	broadcaster *broker.Broadcaster,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.QueueName == "" {
		cfg.QueueName = "tasks"
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 2 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.ProviderRetry.MaxAttempts == 0 {
		cfg.ProviderRetry = retry.DefaultPolicy()
	}

	return &Orchestrator{
		tasks:          tasks,
		statuses:       statuses,
		queue:          queue,
		providers:      providers,
		vectors:        vectors,
		skills:         skillInvoker,
		tools:          toolCaller,
		broadcaster:    broadcaster,
		registry:       newExecutionRegistry(),
		providerPolicy: cfg.ProviderRetry,
		cfg:            cfg,
		logger:         logger.With("component", "orchestrator"),
	}
}

// Submit creates the durable record with status pending, projects pending
// into the status store, and pushes a dispatch token onto the shared queue.
// Safe to call concurrently by many callers.
func (o *Orchestrator) Submit(
	ctx context.Context,
	taskType domain.TaskType,
	input json.RawMessage,
	userID string,
	priority domain.TaskPriority,
	metadata json.RawMessage,
) (uuid.UUID, error) {
	if o.shuttingDown.Load() {
		return uuid.Nil, ErrShuttingDown
	}

	task, err := domain.NewTask(taskType, input, userID, priority, metadata)
	if err != nil {
		return uuid.Nil, err
	}

	if err := o.tasks.CreateTask(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task record: %w", err)
	}

	if err := o.enqueue(ctx, task); err != nil {
		return uuid.Nil, err
	}

	metrics.TasksSubmitted.WithLabelValues(string(taskType)).Inc()
	o.logger.Info("task submitted",
		"task_id", task.ID,
		"task_type", taskType,
		"user_id", userID,
		"priority", priority.String())

	return task.ID, nil
}

// SubmitFromSource is the idempotent submission path for webhook-originated
// tasks. A second submission with the same (source, externalID) pair returns
// the existing task's ID without creating a new record; a concurrent insert
// race is resolved by re-reading after a unique violation.
func (o *Orchestrator) SubmitFromSource(
	ctx context.Context,
	source, externalID string,
	taskType domain.TaskType,
	input json.RawMessage,
	userID string,
	priority domain.TaskPriority,
	metadata json.RawMessage,
) (uuid.UUID, error) {
	if o.shuttingDown.Load() {
		return uuid.Nil, ErrShuttingDown
	}
	if source == "" || externalID == "" {
		return uuid.Nil, fmt.Errorf(
			"%w: source and external_id are required",
			domain.ErrValidation,
		)
	}

	existing, err := o.tasks.GetTaskBySource(ctx, source, externalID)
	if err == nil {
		o.logger.Debug("existing task found for source",
			"task_id", existing.ID,
			"source", source,
			"external_id", externalID)
		return existing.ID, nil
	}
	if !store.IsNotFoundError(err) {
		return uuid.Nil, fmt.Errorf("failed to look up task by source: %w", err)
	}

	task, err := domain.NewTask(taskType, input, userID, priority, metadata)
	if err != nil {
		return uuid.Nil, err
	}
	task.Source = source
	task.ExternalID = externalID

	if err := o.tasks.CreateTask(ctx, task); err != nil {
		if store.IsDuplicateError(err) {
			// Lost the insert race; the winner's record is authoritative.
			winner, readErr := o.tasks.GetTaskBySource(ctx, source, externalID)
			if readErr != nil {
				return uuid.Nil, fmt.Errorf(
					"task exists but could not be read back: %w",
					readErr,
				)
			}
			return winner.ID, nil
		}
		return uuid.Nil, fmt.Errorf("failed to create task record: %w", err)
	}

	if err := o.enqueue(ctx, task); err != nil {
		return uuid.Nil, err
	}

	metrics.TasksSubmitted.WithLabelValues(string(taskType)).Inc()
	o.logger.Info("webhook task submitted",
		"task_id", task.ID,
		"source", source,
		"external_id", externalID)

	return task.ID, nil
}

// enqueue projects the initial status and pushes the dispatch token.
func (o *Orchestrator) enqueue(ctx context.Context, task *domain.Task) error {
	o.project(ctx, task.ID, domain.TaskStatusPending, nil)
	o.publishTransition(task.ID, task.UserID, broker.EventMeta, domain.TaskStatusPending, nil, "")

	token := dispatchToken{
		TaskID:     task.ID,
		TaskType:   task.Type,
		UserID:     task.UserID,
		EnqueuedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch token: %w", err)
	}

	if err := o.queue.Push(ctx, o.cfg.QueueName, encoded); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	if depth, err := o.queue.Len(ctx, o.cfg.QueueName); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	return nil
}

// GetStatus reads the status projection first and falls back to the durable
// record on a miss. Fails with a wrapped store.ErrTaskNotFound if neither
// source has the task.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID uuid.UUID) (*StatusRecord, error) {
	projection, ok, err := o.statuses.GetStatus(ctx, taskID)
	if err != nil {
		o.logger.Warn("status projection read failed, falling back to durable record",
			"task_id", taskID,
			"error", err)
	} else if ok {
		record := &StatusRecord{
			TaskID:    projection.TaskID,
			Status:    projection.Status,
			UpdatedAt: projection.UpdatedAt,
		}
		if projection.Status == domain.TaskStatusFailed {
			record.Error = decodeFailureReason(projection.Data)
		} else {
			record.Result = projection.Data
		}
		return record, nil
	}

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	record := &StatusRecord{
		TaskID:    task.ID,
		Status:    task.Status,
		TaskType:  task.Type,
		UserID:    task.UserID,
		Result:    task.OutputPayload,
		Error:     task.ErrorReason,
		UpdatedAt: task.UpdatedAt,
	}

	// Read repair: re-prime the cache so the next read is fast. Failed tasks
	// project their error reason so a later cache hit still surfaces it.
	if task.Status == domain.TaskStatusFailed {
		o.project(ctx, task.ID, task.Status, encodeFailureReason(task.ErrorReason))
	} else {
		o.project(ctx, task.ID, task.Status, task.OutputPayload)
	}

	return record, nil
}

// Cancel attempts the guarded cancel transition. Returns true only when the
// guard matched (the task was pending or processing and is now cancelled);
// false when the task was not found or already terminal. A running execution
// is signalled asynchronously; if it still completes, its terminal write
// loses to the guard since the row is already cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	matched, err := o.tasks.UpdateStatus(
		ctx,
		taskID,
		domain.TaskStatusCancelled,
		nil,
		"",
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusProcessing},
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", err)
	}
	if !matched {
		return false, nil
	}

	o.project(ctx, taskID, domain.TaskStatusCancelled, nil)

	// Read the row back so user-scoped subscribers see the cancellation too.
	userID := ""
	if task, readErr := o.tasks.GetTask(ctx, taskID); readErr == nil {
		userID = task.UserID
	} else {
		o.logger.Warn("could not load cancelled task for event routing",
			"task_id", taskID,
			"error", readErr)
	}
	o.publishTransition(taskID, userID, broker.EventDone, domain.TaskStatusCancelled, nil, "")

	signalled := o.registry.signalCancel(taskID)

	metrics.TasksCancelled.Inc()
	o.logger.Info("task cancelled",
		"task_id", taskID,
		"execution_signalled", signalled)

	return true, nil
}

// ProcessNext pops the next dispatch token (bounded by the pop timeout),
// transitions the task to processing, runs its execution unit, and records
// the terminal result. The bool return is false when the wait timed out or
// the dequeued task was no longer runnable.
func (o *Orchestrator) ProcessNext(ctx context.Context) (uuid.UUID, bool, error) {
	item, ok, err := o.queue.Pop(ctx, o.cfg.QueueName, o.cfg.PopTimeout)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("queue pop failed: %w", err)
	}
	if !ok {
		return uuid.Nil, false, nil
	}

	var token dispatchToken
	if err := json.Unmarshal(item, &token); err != nil {
		// A malformed token is dropped, not retried: it can never become
		// valid and would otherwise wedge the queue.
		o.logger.Error("dropping malformed dispatch token", "error", err)
		return uuid.Nil, false, nil
	}

	if depth, lenErr := o.queue.Len(ctx, o.cfg.QueueName); lenErr == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	processed, err := o.processTask(ctx, token)
	return token.TaskID, processed, err
}

// processTask drives one dequeued task to a terminal state.
func (o *Orchestrator) processTask(ctx context.Context, token dispatchToken) (bool, error) {
	log := o.logger.With("task_id", token.TaskID, "task_type", token.TaskType)

	// pending → processing. A mismatch means the task was cancelled while
	// queued (or already handled); the token is simply dropped.
	matched, err := o.tasks.UpdateStatus(
		ctx,
		token.TaskID,
		domain.TaskStatusProcessing,
		nil,
		"",
		[]domain.TaskStatus{domain.TaskStatusPending},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark task processing: %w", err)
	}
	if !matched {
		log.Debug("task no longer pending, skipping dispatch")
		return false, nil
	}

	task, err := o.tasks.GetTask(ctx, token.TaskID)
	if err != nil {
		return false, fmt.Errorf("failed to load task for execution: %w", err)
	}

	o.project(ctx, task.ID, domain.TaskStatusProcessing, nil)
	o.publishTransition(task.ID, task.UserID, broker.EventProgress, domain.TaskStatusProcessing, nil, "")

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	exec := &execution{
		taskID:    task.ID,
		taskType:  task.Type,
		userID:    task.UserID,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
	}
	o.registry.add(exec)
	defer o.registry.remove(task.ID)

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	log.Info("processing task")
	started := time.Now()

	// The execution unit runs as its own goroutine so cancel/shutdown can
	// signal it while this dispatcher awaits the result.
	type outcome struct {
		output json.RawMessage
		err    error
	}
	resultCh := make(chan outcome, 1)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("task execution panicked: %v", r)}
			}
		}()

		output, execErr := o.executeTask(execCtx, task)
		resultCh <- outcome{output: output, err: execErr}
	}()

	result := <-resultCh
	metrics.TaskDuration.WithLabelValues(string(task.Type)).Observe(time.Since(started).Seconds())

	if result.err != nil {
		reason := result.err.Error()
		if execCtx.Err() != nil {
			reason = fmt.Sprintf("task was cancelled: %v", result.err)
		}
		o.failTask(ctx, task, reason)
		return true, nil
	}

	o.completeTask(ctx, task, result.output)
	return true, nil
}

// completeTask records a successful terminal transition.
func (o *Orchestrator) completeTask(ctx context.Context, task *domain.Task, output json.RawMessage) {
	matched, err := o.tasks.UpdateStatus(
		ctx,
		task.ID,
		domain.TaskStatusCompleted,
		output,
		"",
		[]domain.TaskStatus{domain.TaskStatusProcessing},
	)
	if err != nil {
		o.logger.Error("failed to mark task completed", "task_id", task.ID, "error", err)
		return
	}
	if !matched {
		// Cancel won the race; the durable guard already settled it.
		o.logger.Info("completion lost race with cancellation", "task_id", task.ID)
		return
	}

	o.project(ctx, task.ID, domain.TaskStatusCompleted, output)
	o.publishTransition(task.ID, task.UserID, broker.EventDone, domain.TaskStatusCompleted, output, "")

	metrics.TasksCompleted.WithLabelValues(string(task.Type)).Inc()
	o.logger.Info("task completed", "task_id", task.ID, "task_type", task.Type)
}

// failTask records a failed terminal transition.
func (o *Orchestrator) failTask(ctx context.Context, task *domain.Task, reason string) {
	matched, err := o.tasks.UpdateStatus(
		ctx,
		task.ID,
		domain.TaskStatusFailed,
		nil,
		reason,
		[]domain.TaskStatus{domain.TaskStatusProcessing},
	)
	if err != nil {
		o.logger.Error("failed to mark task failed", "task_id", task.ID, "error", err)
		return
	}
	if !matched {
		o.logger.Info("failure transition lost race with cancellation", "task_id", task.ID)
		return
	}

	o.project(ctx, task.ID, domain.TaskStatusFailed, encodeFailureReason(reason))
	o.publishTransition(task.ID, task.UserID, broker.EventError, domain.TaskStatusFailed, nil, reason)

	metrics.TasksFailed.WithLabelValues(string(task.Type)).Inc()
	o.logger.Error("task failed", "task_id", task.ID, "task_type", task.Type, "reason", reason)
}

// project writes the status projection after a durable write. A projection
// failure is logged as a consistency warning; the durable store already
// holds the truth and readers fall back to it.
func (o *Orchestrator) project(
	ctx context.Context,
	taskID uuid.UUID,
	taskStatus domain.TaskStatus,
	data json.RawMessage,
) {
	if err := o.statuses.SetStatus(ctx, taskID, taskStatus, data); err != nil {
		o.logger.Warn("status projection write failed, cache may be stale",
			"task_id", taskID,
			"status", taskStatus,
			"error", err)
	}
}

// publishTransition pushes a progress event for the transition. Delivery is
// best-effort; broadcaster misses never block task processing.
func (o *Orchestrator) publishTransition(
	taskID uuid.UUID,
	userID string,
	eventType string,
	taskStatus domain.TaskStatus,
	result json.RawMessage,
	errorReason string,
) {
	if o.broadcaster == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"task_id": taskID,
		"status":  taskStatus,
		"result":  result,
		"error":   errorReason,
	})
	if err != nil {
		return
	}

	o.broadcaster.PublishToTask(taskID.String(), eventType, payload)
	if userID != "" {
		o.broadcaster.PublishToUser(userID, eventType, payload)
	}
}

// Run loops ProcessNext until the context is cancelled or Shutdown begins.
// A single task's failure never terminates the loop; infrastructure errors
// from the queue or store are logged and retried after a short pause.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info("dispatcher loop started")

	for {
		if ctx.Err() != nil || o.shuttingDown.Load() {
			o.logger.Info("dispatcher loop stopped")
			return
		}

		if _, _, err := o.ProcessNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, store.ErrQueueClosed) {
				o.logger.Info("dispatcher loop stopped")
				return
			}
			o.logger.Error("dispatch iteration failed, pausing", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ActiveTasks returns descriptors for all in-flight executions.
func (o *Orchestrator) ActiveTasks() []ActiveExecution {
	return o.registry.snapshot()
}

// Shutdown stops accepting new work, signals all in-flight executions, and
// waits for them to finish within the shutdown grace period.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	o.logger.Info("orchestrator shutting down")
	o.registry.signalAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	grace := o.cfg.ShutdownGrace
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		o.logger.Info("orchestrator shutdown complete")
		return nil
	case <-timer.C:
		return fmt.Errorf("shutdown timed out after %s with executions still running", grace)
	case <-ctx.Done():
		return ctx.Err()
	}
}
