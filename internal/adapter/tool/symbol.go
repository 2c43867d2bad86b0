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
)

// unknownSymbol is the degraded sentinel for symbol tools: endpoint
// failures, parse errors, and zero matches all fall back to it instead
// of propagating an error to the planner.
const unknownSymbol = "UNKNOWN"

// ValidateSymbolTool classifies a candidate ticker symbol by delegating
// judgment to the language model; there is no local validation table.
type ValidateSymbolTool struct {
	llm    domain.LLMProvider
	logger *slog.Logger
}

// NewValidateSymbolTool creates the validate_symbol tool.
func NewValidateSymbolTool(llm domain.LLMProvider, logger *slog.Logger) *ValidateSymbolTool {
	return &ValidateSymbolTool{llm: llm, logger: logger}
}

func (t *ValidateSymbolTool) Name() string { return "validate_symbol" }
func (t *ValidateSymbolTool) Description() string {
	return "Validate a stock ticker symbol. Returns VALID:<sym>, CORRECTED:<sym> (was:<orig>), SYMBOL:<sym> (for company:<name>), or UNKNOWN:<sym>."
}

func (t *ValidateSymbolTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "description": "The candidate ticker symbol or company name to validate"}
			},
			"required": ["symbol"]
		}`),
	}
}

type validateSymbolParams struct {
	Symbol string `json:"symbol"`
}

func (t *ValidateSymbolTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.validate_symbol", t.logger, params,
		func(ctx context.Context, span trace.Span, p validateSymbolParams) (any, error) {
			symbol := strings.TrimSpace(p.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("'symbol' is required")
			}
			span.SetAttributes(tracer.StringAttr("tool.symbol", symbol))

			prompt := fmt.Sprintf(`Classify the input %q as a stock ticker symbol. Answer with EXACTLY one line in one of these formats:
VALID:<sym>                       - the input is already a valid ticker symbol
CORRECTED:<sym> (was:<orig>)      - the input is a misspelled ticker; <sym> is the correction
SYMBOL:<sym> (for company:<name>) - the input is a company name; <sym> is its ticker
UNKNOWN:<sym>                     - the input cannot be resolved to a ticker
No other text.`, symbol)

			resp, err := t.llm.Chat(ctx, domain.ChatRequest{
				Messages: []domain.Message{
					{Role: domain.RoleSystem, Content: "You classify stock ticker symbols. Answer with one line only."},
					{Role: domain.RoleUser, Content: prompt},
				},
			})
			if err != nil {
				t.logger.Warn("symbol validation LLM call failed", "symbol", symbol, "error", err)
				return fmt.Sprintf("%s:%s", unknownSymbol, symbol), nil
			}

			answer := strings.TrimSpace(resp.Message.Content)
			if answer == "" {
				return fmt.Sprintf("%s:%s", unknownSymbol, symbol), nil
			}
			return answer, nil
		},
	)
}

// SearchSymbolTool resolves a company name to its ticker symbol through
// the provider's free-text search endpoint.
type SearchSymbolTool struct {
	provider domain.MarketData
	logger   *slog.Logger
}

// NewSearchSymbolTool creates the search_symbol tool.
func NewSearchSymbolTool(provider domain.MarketData, logger *slog.Logger) *SearchSymbolTool {
	return &SearchSymbolTool{provider: provider, logger: logger}
}

func (t *SearchSymbolTool) Name() string { return "search_symbol" }
func (t *SearchSymbolTool) Description() string {
	return "Search for a stock ticker symbol by company name. Returns the best-match symbol, or UNKNOWN if the company cannot be found."
}

func (t *SearchSymbolTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"company_name": {"type": "string", "description": "The company name to search for (e.g., 'Tesla')"}
			},
			"required": ["company_name"]
		}`),
	}
}

type searchSymbolParams struct {
	CompanyName string `json:"company_name"`
}

func (t *SearchSymbolTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_symbol", t.logger, params,
		func(ctx context.Context, span trace.Span, p searchSymbolParams) (any, error) {
			query := strings.TrimSpace(p.CompanyName)
			if query == "" {
				return nil, fmt.Errorf("'company_name' is required")
			}
			span.SetAttributes(tracer.StringAttr("tool.query", query))

			matches, err := t.provider.Search(ctx, query)
			if err != nil {
				t.logger.Warn("symbol search failed", "query", query, "error", err)
				return unknownSymbol, nil
			}
			if len(matches) == 0 || matches[0].Symbol == "" {
				return unknownSymbol, nil
			}

			best := matches[0]
			t.logger.Debug("symbol search completed",
				"query", query, "symbol", best.Symbol, "matches", len(matches))
			return best.Symbol, nil
		},
	)
}
