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

// historyTailRows caps how many bars are shown to the model. The fetch
// covers the whole period; only the most recent rows are rendered.
const historyTailRows = 10

// defaultInterval is the bar granularity when the model omits one.
const defaultInterval = "1d"

// StockHistoryTool returns recent OHLCV price history for one ticker.
// Arbitrary period tokens are resolved onto the valid set before the
// fetch, so a bad period degrades the query instead of failing it.
type StockHistoryTool struct {
	cache    *market.ClientCache
	resolver *market.PeriodResolver
	logger   *slog.Logger
}

// NewStockHistoryTool creates the get_stock_history tool.
func NewStockHistoryTool(cache *market.ClientCache, resolver *market.PeriodResolver, logger *slog.Logger) *StockHistoryTool {
	return &StockHistoryTool{cache: cache, resolver: resolver, logger: logger}
}

func (t *StockHistoryTool) Name() string { return "get_stock_history" }
func (t *StockHistoryTool) Description() string {
	return fmt.Sprintf(
		"Get recent daily OHLCV price history for a stock ticker. Valid periods: %s. Invalid periods are corrected automatically.",
		strings.Join(market.ValidPeriods, ", "))
}

func (t *StockHistoryTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "description": "The stock ticker symbol (e.g., 'AAPL')"},
				"period": {"type": "string", "description": "History range such as 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, ytd, max"},
				"interval": {"type": "string", "description": "Bar granularity such as 1d or 1wk (default 1d)"}
			},
			"required": ["symbol"]
		}`),
	}
}

type historyParams struct {
	Symbol   string `json:"symbol"`
	Period   string `json:"period"`
	Interval string `json:"interval"`
}

func (t *StockHistoryTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_stock_history", t.logger, params,
		func(ctx context.Context, span trace.Span, p historyParams) (any, error) {
			symbol := strings.TrimSpace(p.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("'symbol' is required")
			}

			requested := p.Period
			if strings.TrimSpace(requested) == "" {
				requested = market.DefaultPeriod
			}
			period := t.resolver.Resolve(ctx, requested)
			span.SetAttributes(
				tracer.StringAttr("tool.symbol", symbol),
				tracer.StringAttr("tool.period", period),
			)
			if period != strings.TrimSpace(strings.ToLower(requested)) {
				t.logger.Debug("history period corrected",
					"symbol", symbol, "requested", requested, "period", period)
			}

			interval := strings.TrimSpace(p.Interval)
			if interval == "" {
				interval = defaultInterval
			}

			client := t.cache.GetOrCreate(symbol)
			bars, err := client.History(ctx, period, interval)
			if err != nil {
				return nil, err
			}
			if len(bars) == 0 {
				return fmt.Sprintf("No price history available for %s over %s.", client.Symbol(), period), nil
			}
			return formatHistory(client.Symbol(), period, bars), nil
		},
	)
}

// formatHistory renders the last historyTailRows bars as a fixed-width
// table, oldest first.
func formatHistory(symbol, period string, bars []domain.Bar) string {
	tail := bars
	if len(tail) > historyTailRows {
		tail = tail[len(tail)-historyTailRows:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Price history for %s (period %s, last %d of %d bars):\n", symbol, period, len(tail), len(bars))
	fmt.Fprintf(&b, "%-12s %10s %10s %10s %10s %12s\n", "Date", "Open", "High", "Low", "Close", "Volume")
	for _, bar := range tail {
		fmt.Fprintf(&b, "%-12s %10.2f %10.2f %10.2f %10.2f %12d\n",
			bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return strings.TrimRight(b.String(), "\n")
}
