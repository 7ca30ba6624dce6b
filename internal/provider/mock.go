package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MockRouter is a configurable Router for tests and local development.
// Each method returns deterministic data unless an error is injected.
type MockRouter struct {
	mu sync.Mutex

	// GenerateErr, EmbedErr and RerankErr are returned by the matching
	// method when non-nil.
	GenerateErr error
	EmbedErr    error
	RerankErr   error

	// FailuresBeforeSuccess makes each method fail this many times before
	// succeeding, for exercising retry behavior.
	FailuresBeforeSuccess int

	// CallCounts tracks invocations per method name.
	CallCounts map[string]int
}

// NewMockRouter creates a MockRouter with zeroed counters.
func NewMockRouter() *MockRouter {
	return &MockRouter{
		CallCounts: make(map[string]int),
	}
}

// record bumps the method's call count and reports whether this call should
// fail due to FailuresBeforeSuccess.
func (m *MockRouter) record(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
	return m.CallCounts[method] <= m.FailuresBeforeSuccess
}

// Calls returns how many times the named method ran.
func (m *MockRouter) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCounts[method]
}

// Generate returns a canned completion.
func (m *MockRouter) Generate(
	ctx context.Context,
	prompt, model string,
	params GenerateParams,
) (*Generation, error) {
	if m.record("generate") {
		return nil, fmt.Errorf("mock provider: injected transient failure")
	}
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}

	return &Generation{
		Response:     "mock response to: " + prompt,
		Model:        model,
		ProviderName: "mock",
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: 5,
		Cost:         0.0001,
	}, nil
}

// Embed returns a small deterministic vector derived from the text.
func (m *MockRouter) Embed(ctx context.Context, text, model string) ([]float64, error) {
	if m.record("embed") {
		return nil, fmt.Errorf("mock provider: injected transient failure")
	}
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}

	vector := make([]float64, 8)
	for i, r := range text {
		vector[i%len(vector)] += float64(r) / 1000
	}
	return vector, nil
}

// Rerank orders documents by naive term overlap with the query.
func (m *MockRouter) Rerank(
	ctx context.Context,
	query string,
	documents []string,
) ([]RankedDocument, error) {
	if m.record("rerank") {
		return nil, fmt.Errorf("mock provider: injected transient failure")
	}
	if m.RerankErr != nil {
		return nil, m.RerankErr
	}

	terms := strings.Fields(strings.ToLower(query))
	ranked := make([]RankedDocument, len(documents))
	for i, doc := range documents {
		score := 0.0
		lower := strings.ToLower(doc)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		ranked[i] = RankedDocument{Document: doc, Score: score, Index: i}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked, nil
}
