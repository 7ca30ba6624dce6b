package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/platform/logger"
	"github.com/bl1nk/agent-worker/internal/platform/metrics"
	"github.com/bl1nk/agent-worker/internal/provider"
	"github.com/bl1nk/agent-worker/internal/retry"
	"github.com/bl1nk/agent-worker/internal/store"
)

// executeTask selects the behavior for the task's type and returns the
// output payload on success. Every remote call inside a branch goes through
// the retry engine; the execution context is the cancellation token, checked
// by the retry sleep and by each provider client.
func (o *Orchestrator) executeTask(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	switch task.Type {
	case domain.TaskTypeChat:
		return o.executeChat(ctx, task)
	case domain.TaskTypeEmbedding:
		return o.executeEmbedding(ctx, task)
	case domain.TaskTypeRerank:
		return o.executeRerank(ctx, task)
	case domain.TaskTypeSkillInvocation:
		return o.executeSkill(ctx, task)
	case domain.TaskTypeMCPToolCall:
		return o.executeToolCall(ctx, task)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, task.Type)
	}
}

// retryPolicy returns the provider-call policy with the orchestrator's
// metrics hook attached.
func (o *Orchestrator) retryPolicy(operation string) retry.Policy {
	p := o.providerPolicy
	p.OnRetry = func(attempt int, err error, delay time.Duration) error {
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
		return nil
	}
	// Caller errors never deserve another provider call.
	p.Retryable = func(err error, attempt int) bool {
		return !store.IsNotFoundError(err) && !errors.Is(err, domain.ErrValidation)
	}
	return p
}

func (o *Orchestrator) executeChat(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var input struct {
		Message     string  `json:"message"`
		Model       string  `json:"model"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
		Temperature float64 `json:"temperature,omitempty"`
	}
	if err := json.Unmarshal(task.InputPayload, &input); err != nil {
		return nil, fmt.Errorf("%w: chat input: %v", domain.ErrValidation, err)
	}
	if input.Message == "" {
		return nil, fmt.Errorf("%w: chat message cannot be empty", domain.ErrValidation)
	}

	result, err := retry.Do(ctx, o.retryPolicy("generate"),
		func(ctx context.Context) (*provider.Generation, error) {
			return o.providers.Generate(ctx, input.Message, input.Model, provider.GenerateParams{
				MaxTokens:   input.MaxTokens,
				Temperature: input.Temperature,
			})
		})
	if err != nil {
		return nil, err
	}

	gen := result.Value
	return json.Marshal(map[string]any{
		"response":      gen.Response,
		"model_used":    gen.Model,
		"provider":      gen.ProviderName,
		"input_tokens":  gen.InputTokens,
		"output_tokens": gen.OutputTokens,
		"cost":          gen.Cost,
		"attempts":      result.Attempts,
	})
}

func (o *Orchestrator) executeEmbedding(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var input struct {
		Text     string         `json:"text"`
		Model    string         `json:"model"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(task.InputPayload, &input); err != nil {
		return nil, fmt.Errorf("%w: embedding input: %v", domain.ErrValidation, err)
	}
	if input.Text == "" {
		return nil, fmt.Errorf("%w: embedding text cannot be empty", domain.ErrValidation)
	}

	result, err := retry.Do(ctx, o.retryPolicy("embed"),
		func(ctx context.Context) ([]float64, error) {
			return o.providers.Embed(ctx, input.Text, input.Model)
		})
	if err != nil {
		return nil, err
	}

	vectorID, err := o.vectors.StoreEmbedding(ctx, input.Text, result.Value, input.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to store embedding: %w", err)
	}

	return json.Marshal(map[string]any{
		"vector_id": vectorID,
		"dimension": len(result.Value),
		"model":     input.Model,
	})
}

func (o *Orchestrator) executeRerank(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var input struct {
		Query     string   `json:"query"`
		Documents []string `json:"documents"`
	}
	if err := json.Unmarshal(task.InputPayload, &input); err != nil {
		return nil, fmt.Errorf("%w: rerank input: %v", domain.ErrValidation, err)
	}
	if input.Query == "" {
		return nil, fmt.Errorf("%w: rerank query cannot be empty", domain.ErrValidation)
	}

	result, err := retry.Do(ctx, o.retryPolicy("rerank"),
		func(ctx context.Context) ([]provider.RankedDocument, error) {
			return o.providers.Rerank(ctx, input.Query, input.Documents)
		})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"reranked_documents": result.Value,
		"original_count":     len(input.Documents),
		"reranked_count":     len(result.Value),
	})
}

func (o *Orchestrator) executeSkill(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	var input struct {
		SkillID string          `json:"skill_id"`
		Inputs  json.RawMessage `json:"inputs"`
	}
	if err := json.Unmarshal(task.InputPayload, &input); err != nil {
		return nil, fmt.Errorf("%w: skill input: %v", domain.ErrValidation, err)
	}
	if input.SkillID == "" {
		return nil, fmt.Errorf("%w: skill_id cannot be empty", domain.ErrValidation)
	}

	result, err := o.skills.Invoke(ctx, input.SkillID, input.Inputs)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"skill_id": input.SkillID,
		"result":   result,
	})
}

func (o *Orchestrator) executeToolCall(ctx context.Context, task *domain.Task) (json.RawMessage, error) {
	log := logger.FromContext(ctx)

	var input struct {
		Tool string          `json:"tool"`
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(task.InputPayload, &input); err != nil {
		return nil, fmt.Errorf("%w: tool call input: %v", domain.ErrValidation, err)
	}
	if input.Tool == "" {
		return nil, fmt.Errorf("%w: tool cannot be empty", domain.ErrValidation)
	}

	log.Debug("invoking tool", "tool", input.Tool, "task_id", task.ID)

	result, err := o.tools.Call(ctx, input.Tool, input.Args)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"tool":   input.Tool,
		"result": result,
	})
}
