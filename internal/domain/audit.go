package domain

import (
	"context"
	"time"
)

// RunMetadata is the usage summary accumulated over one run. It is built
// by scanning the final conversation plus the usage meter, and is
// immutable once handed to the audit sink.
type RunMetadata struct {
	TotalTokens      int            `json:"total_tokens"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	CostUSD          float64        `json:"total_cost_usd"`
	LLMCalls         int            `json:"llm_calls"`
	ToolCalls        int            `json:"tool_calls"`
	ToolsUsed        map[string]int `json:"tools_used,omitempty"`
	CachedTickers    []string       `json:"cached_tickers,omitempty"`
}

// RunRecord is one completed agent run as handed to the audit sink.
type RunRecord struct {
	ThreadID  string      `json:"thread_id"`
	Query     string      `json:"query"`
	Response  string      `json:"response"`
	Metadata  RunMetadata `json:"metadata"`
	Timestamp time.Time   `json:"timestamp"`
}

// AuditSink persists completed runs. Failures must never surface to the
// caller of a run; the coordinator logs and drops them.
type AuditSink interface {
	LogRun(ctx context.Context, rec RunRecord) error
	Close() error
}
