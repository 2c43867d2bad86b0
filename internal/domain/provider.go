package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai").
	Name() string
}

// UsageReport is the side-channel usage summary collected across the LLM
// calls of one run.
type UsageReport struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	Requests         int     `json:"requests"`
}

// UsageMeter reports accumulated token/cost usage for LLM calls.
// Snapshot returns the totals since the last Reset.
type UsageMeter interface {
	Snapshot() UsageReport
	Reset()
}
