package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bl1nk/agent-worker/internal/domain"
	"github.com/bl1nk/agent-worker/internal/idempotency"
	"github.com/bl1nk/agent-worker/internal/orchestrator"
)

// webhookOperationType scopes webhook submissions in the idempotency ledger.
const webhookOperationType = "webhook_submit"

// WebhookHandler accepts task submissions from external platforms. Requests
// are deduplicated twice: an explicit idempotency key short-circuits through
// the ledger, and the (source, external_id) pair guarantees at most one
// durable task either way.
type WebhookHandler struct {
	orch   *orchestrator.Orchestrator
	ledger *idempotency.Ledger
	ttl    time.Duration
	logger *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler. Results stored in the
// ledger deduplicate redeliveries for resultTTL.
func NewWebhookHandler(
	orch *orchestrator.Orchestrator,
	ledger *idempotency.Ledger,
	resultTTL time.Duration,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		orch:   orch,
		ledger: ledger,
		ttl:    resultTTL,
		logger: logger.With("handler", "webhook"),
	}
}

// Receive handles POST /webhooks/{source}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ExternalID == "" {
		RespondWithError(w, r, http.StatusBadRequest, "external_id is required")
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	// The idempotency key is optional; when present, a redelivered request
	// is answered from the ledger without touching the orchestrator.
	if req.IdempotencyKey != "" {
		check, err := h.ledger.CheckDuplicate(
			r.Context(),
			webhookOperationType,
			req.IdempotencyKey,
			req.Input,
		)
		if err != nil {
			h.logger.Error("idempotency check failed",
				"source", source,
				"idempotency_key", req.IdempotencyKey,
				"error", err)
			RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
			return
		}
		if check.IsDuplicate {
			var stored SubmitTaskResponse
			if err := json.Unmarshal(check.StoredResult, &stored); err == nil {
				stored.Duplicate = true
				RespondWithJSON(w, r, http.StatusOK, stored)
				return
			}
			// Undecodable stored result falls through to the
			// (source, external_id) path, which is still idempotent.
		}
	}

	taskID, err := h.orch.SubmitFromSource(
		r.Context(),
		source,
		req.ExternalID,
		domain.TaskType(req.TaskType),
		req.Input,
		req.UserID,
		priority,
		req.Metadata,
	)
	if err != nil {
		h.logger.Error("webhook submission failed",
			"source", source,
			"external_id", req.ExternalID,
			"error", err)
		RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	resp := SubmitTaskResponse{TaskID: taskID.String()}

	if req.IdempotencyKey != "" {
		result, _ := json.Marshal(resp)
		if err := h.ledger.Store(
			r.Context(),
			webhookOperationType,
			req.IdempotencyKey,
			req.Input,
			result,
			h.ttl,
		); err != nil {
			// The (source, external_id) pair still deduplicates, so a
			// ledger write failure costs a lookup, not correctness.
			h.logger.Warn("failed to store idempotency result",
				"source", source,
				"idempotency_key", req.IdempotencyKey,
				"error", err)
		}
	}

	RespondWithJSON(w, r, http.StatusAccepted, resp)
}
