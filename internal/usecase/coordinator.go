package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finsight/internal/domain"
	"finsight/internal/infra/tracer"
	"finsight/internal/market"
)

// Coordinator owns the lifecycle of one query: seed the run, drive the
// agent, assemble usage metadata, and hand the record to the audit sink.
type Coordinator struct {
	agent        *Agent
	meter        domain.UsageMeter
	cache        *market.ClientCache
	sink         domain.AuditSink // optional, nil = no audit
	systemPrompt string
	logger       *slog.Logger
}

// NewCoordinator creates a coordinator. sink may be nil, in which case
// loggingEnabled has no effect.
func NewCoordinator(agent *Agent, meter domain.UsageMeter, cache *market.ClientCache, sink domain.AuditSink, systemPrompt string, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		agent:        agent,
		meter:        meter,
		cache:        cache,
		sink:         sink,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// Run executes one query to completion. The error return is reserved
// for context cancellation and unrecoverable LLM failures; tool and
// audit failures are absorbed into the run.
func (c *Coordinator) Run(ctx context.Context, query, threadID string, loggingEnabled bool) (string, domain.RunMetadata, error) {
	ctx, span := tracer.StartSpan(ctx, "coordinator.run",
		trace.WithAttributes(tracer.StringAttr("thread.id", threadID)),
	)
	defer span.End()

	c.meter.Reset()
	run := NewRun(threadID, c.systemPrompt, query)

	answer, err := c.agent.Execute(ctx, run)
	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.RunMetadata{}, domain.WrapOp("Coordinator.Run", err)
	}

	meta := c.buildMetadata(run)
	span.SetAttributes(
		tracer.IntAttr("run.total_tokens", meta.TotalTokens),
		tracer.IntAttr("run.tool_calls", meta.ToolCalls),
	)

	if loggingEnabled && c.sink != nil {
		rec := domain.RunRecord{
			ThreadID:  threadID,
			Query:     query,
			Response:  answer,
			Metadata:  meta,
			Timestamp: time.Now().UTC(),
		}
		if auditErr := c.sink.LogRun(ctx, rec); auditErr != nil {
			// Audit failures never surface to the caller.
			c.logger.Error("audit write failed", "thread_id", threadID, "error", auditErr)
		}
	}

	tracer.SetOK(span)
	return answer, meta, nil
}

// buildMetadata assembles the run summary. Tool tallies come from
// scanning the final conversation rather than counters kept during the
// loop, so they stay exact even when individual turns failed. Token and
// cost totals come from the usage meter.
func (c *Coordinator) buildMetadata(run *Run) domain.RunMetadata {
	report := c.meter.Snapshot()

	toolsUsed := make(map[string]int)
	toolCalls := 0
	for _, msg := range run.Messages() {
		if msg.Role != domain.RoleTool {
			continue
		}
		toolCalls++
		if msg.Name != "" {
			toolsUsed[msg.Name]++
		}
	}
	if len(toolsUsed) == 0 {
		toolsUsed = nil
	}

	return domain.RunMetadata{
		TotalTokens:      report.TotalTokens,
		PromptTokens:     report.PromptTokens,
		CompletionTokens: report.CompletionTokens,
		CostUSD:          report.CostUSD,
		LLMCalls:         report.Requests,
		ToolCalls:        toolCalls,
		ToolsUsed:        toolsUsed,
		CachedTickers:    c.cache.Tickers(),
	}
}
