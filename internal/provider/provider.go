// Package provider defines the narrow contract the orchestrator relies on
// for LLM, embedding and rerank calls. The network implementations live
// outside the core; execution branches invoke these methods through the
// retry engine and treat them as opaque remote operations.
package provider

import "context"

// GenerateParams carries optional model parameters for a generation call.
type GenerateParams struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Generation is the result of a chat generation call.
type Generation struct {
	Response     string  `json:"response"`
	Model        string  `json:"model"`
	ProviderName string  `json:"provider"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// RankedDocument is one entry of a rerank result, best first.
type RankedDocument struct {
	Document string  `json:"document"`
	Score    float64 `json:"score"`
	Index    int     `json:"index"`
}

// Router routes calls to whichever backing provider serves the model.
type Router interface {
	// Generate produces a chat completion for the prompt.
	Generate(ctx context.Context, prompt, model string, params GenerateParams) (*Generation, error)

	// Embed converts text into an embedding vector.
	Embed(ctx context.Context, text, model string) ([]float64, error)

	// Rerank orders documents by relevance to the query, best first.
	Rerank(ctx context.Context, query string, documents []string) ([]RankedDocument, error)
}
