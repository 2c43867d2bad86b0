package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"finsight/internal/domain"
	"finsight/internal/infra/tracer"
	"finsight/internal/market"
)

// infoKeys is the metric subset surfaced by get_company_info, in display
// order. The provider returns far more fields than a summary needs.
var infoKeys = []string{
	"price.longName",
	"price.regularMarketPrice",
	"price.currency",
	"price.marketCap",
	"summaryDetail.trailingPE",
	"summaryDetail.forwardPE",
	"summaryDetail.dividendYield",
	"summaryDetail.fiftyTwoWeekHigh",
	"summaryDetail.fiftyTwoWeekLow",
	"defaultKeyStatistics.trailingEps",
	"defaultKeyStatistics.beta",
	"assetProfile.sector",
	"assetProfile.industry",
	"assetProfile.country",
	"assetProfile.fullTimeEmployees",
}

// CompanyInfoTool returns the key metrics for one ticker.
type CompanyInfoTool struct {
	cache  *market.ClientCache
	logger *slog.Logger
}

// NewCompanyInfoTool creates the get_company_info tool.
func NewCompanyInfoTool(cache *market.ClientCache, logger *slog.Logger) *CompanyInfoTool {
	return &CompanyInfoTool{cache: cache, logger: logger}
}

func (t *CompanyInfoTool) Name() string { return "get_company_info" }
func (t *CompanyInfoTool) Description() string {
	return "Get key company metrics for a stock ticker: name, price, market cap, P/E, dividend yield, 52-week range, sector, industry."
}

func (t *CompanyInfoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "description": "The stock ticker symbol (e.g., 'AAPL')"}
			},
			"required": ["symbol"]
		}`),
	}
}

type symbolParams struct {
	Symbol string `json:"symbol"`
}

func (t *CompanyInfoTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_company_info", t.logger, params,
		func(ctx context.Context, span trace.Span, p symbolParams) (any, error) {
			symbol := strings.TrimSpace(p.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("'symbol' is required")
			}
			span.SetAttributes(tracer.StringAttr("tool.symbol", symbol))

			client := t.cache.GetOrCreate(symbol)
			info, ok := client.Info(ctx)
			if !ok {
				return fmt.Sprintf("No company information available for %s.", client.Symbol()), nil
			}
			return formatInfo(client.Symbol(), info), nil
		},
	)
}

// formatInfo renders the curated metric subset as "key: value" lines.
// Known keys come first in display order; fields outside the curated set
// are dropped. Missing fields are skipped rather than shown empty.
func formatInfo(symbol string, info domain.CompanyInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company information for %s:\n", symbol)
	written := 0
	for _, key := range infoKeys {
		v, ok := info[key]
		if !ok || v == "" {
			continue
		}
		label := key[strings.IndexByte(key, '.')+1:]
		fmt.Fprintf(&b, "%s: %s\n", label, v)
		written++
	}
	if written == 0 {
		// Provider returned data but nothing from the curated set;
		// fall back to everything so the model still gets a summary.
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, info[k])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FinancialStatementsTool returns annual income statement line items.
type FinancialStatementsTool struct {
	cache  *market.ClientCache
	logger *slog.Logger
}

// NewFinancialStatementsTool creates the get_financial_statements tool.
func NewFinancialStatementsTool(cache *market.ClientCache, logger *slog.Logger) *FinancialStatementsTool {
	return &FinancialStatementsTool{cache: cache, logger: logger}
}

func (t *FinancialStatementsTool) Name() string { return "get_financial_statements" }
func (t *FinancialStatementsTool) Description() string {
	return "Get annual income statement line items (revenue, net income, etc.) for a stock ticker across recent fiscal years."
}

func (t *FinancialStatementsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "description": "The stock ticker symbol (e.g., 'AAPL')"}
			},
			"required": ["symbol"]
		}`),
	}
}

func (t *FinancialStatementsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_financial_statements", t.logger, params,
		func(ctx context.Context, span trace.Span, p symbolParams) (any, error) {
			symbol := strings.TrimSpace(p.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("'symbol' is required")
			}
			span.SetAttributes(tracer.StringAttr("tool.symbol", symbol))

			client := t.cache.GetOrCreate(symbol)
			stmts, ok := client.Financials(ctx)
			if !ok {
				return fmt.Sprintf("No financial statements available for %s.", client.Symbol()), nil
			}
			return formatStatements(client.Symbol(), stmts), nil
		},
	)
}

// formatStatements renders one line per statement item with its values
// across fiscal periods, newest period first.
func formatStatements(symbol string, stmts []domain.Statement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Annual financial statements for %s:\n", symbol)
	for _, s := range stmts {
		periods := make([]string, 0, len(s.Values))
		for p := range s.Values {
			periods = append(periods, p)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(periods)))

		parts := make([]string, 0, len(periods))
		for _, p := range periods {
			parts = append(parts, fmt.Sprintf("%s: %s", p, s.Values[p]))
		}
		fmt.Fprintf(&b, "%s | %s\n", s.Item, strings.Join(parts, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
