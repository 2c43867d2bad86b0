package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"finsight/internal/domain"
	"finsight/internal/infra/tracer"
	"finsight/internal/market"
)

// CorrectPeriodTool exposes period resolution as a standalone tool so
// the planner can normalize a user-supplied range before other calls.
type CorrectPeriodTool struct {
	resolver *market.PeriodResolver
	logger   *slog.Logger
}

// NewCorrectPeriodTool creates the correct_period tool.
func NewCorrectPeriodTool(resolver *market.PeriodResolver, logger *slog.Logger) *CorrectPeriodTool {
	return &CorrectPeriodTool{resolver: resolver, logger: logger}
}

func (t *CorrectPeriodTool) Name() string { return "correct_period" }
func (t *CorrectPeriodTool) Description() string {
	return fmt.Sprintf(
		"Correct an invalid history period token to the nearest valid one, rounding up. Valid periods: %s.",
		strings.Join(market.ValidPeriods, ", "))
}

func (t *CorrectPeriodTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"period": {"type": "string", "description": "The period token to correct (e.g., '2w', 'quarter')"}
			},
			"required": ["period"]
		}`),
	}
}

type periodParams struct {
	Period string `json:"period"`
}

func (t *CorrectPeriodTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.correct_period", t.logger, params,
		func(ctx context.Context, span trace.Span, p periodParams) (any, error) {
			if strings.TrimSpace(p.Period) == "" {
				return nil, fmt.Errorf("'period' is required")
			}
			resolved := t.resolver.Resolve(ctx, p.Period)
			span.SetAttributes(
				tracer.StringAttr("tool.period.requested", p.Period),
				tracer.StringAttr("tool.period.resolved", resolved),
			)
			return resolved, nil
		},
	)
}
