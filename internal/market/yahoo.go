package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"finsight/internal/domain"
)

const (
	defaultYahooBaseURL = "https://query2.finance.yahoo.com"
	maxMarketBodySize   = 2 * 1024 * 1024 // 2MB

	// The provider enforces roughly 2000 requests per hour; the
	// client-side limiter stays well under that.
	defaultRequestsPerHour = 1800
	defaultBurst           = 10
)

// infoModules are the quote-summary modules flattened into CompanyInfo.
var infoModules = []string{"price", "summaryDetail", "defaultKeyStatistics", "assetProfile"}

// YahooConfig configures the Yahoo market-data provider.
type YahooConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RequestsPerHour int
	Burst           int
}

// YahooProvider implements domain.MarketData against the Yahoo Finance
// public JSON endpoints, with a client-side rate limiter so the process
// does not burn the hourly quota on its own.
type YahooProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewYahooProvider creates a provider with configured timeouts and
// client-side rate limiting.
func NewYahooProvider(cfg YahooConfig, logger *slog.Logger) *YahooProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	perHour := cfg.RequestsPerHour
	if perHour <= 0 {
		perHour = defaultRequestsPerHour
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &YahooProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(perHour)/3600.0, burst),
		logger:  logger,
	}
}

// getJSON performs a rate-limited GET and returns the response body.
func (p *YahooProvider) getJSON(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMarketBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP 429 Too Many Requests", domain.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d: %s", domain.ErrProvider, resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Info implements domain.MarketData. The quote-summary modules are
// flattened into "module.field" keys with the provider's formatted
// values preferred over raw numbers.
func (p *YahooProvider) Info(ctx context.Context, symbol string) (domain.CompanyInfo, error) {
	body, err := p.getJSON(ctx, "/v10/finance/quoteSummary/"+symbol, map[string]string{
		"modules": strings.Join(infoModules, ","),
	})
	if err != nil {
		return nil, err
	}

	var qs quoteSummaryResponse
	if err := json.Unmarshal(body, &qs); err != nil {
		return nil, fmt.Errorf("%w: parse quote summary: %v", domain.ErrProvider, err)
	}
	if len(qs.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	info := make(domain.CompanyInfo)
	for module, fields := range qs.QuoteSummary.Result[0] {
		for field, value := range fields {
			if s, ok := flattenValue(value); ok {
				info[module+"."+field] = s
			}
		}
	}
	return info, nil
}

// Financials implements domain.MarketData using the annual income
// statement history.
func (p *YahooProvider) Financials(ctx context.Context, symbol string) ([]domain.Statement, error) {
	body, err := p.getJSON(ctx, "/v10/finance/quoteSummary/"+symbol, map[string]string{
		"modules": "incomeStatementHistory",
	})
	if err != nil {
		return nil, err
	}

	var resp incomeStatementResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse financials: %v", domain.ErrProvider, err)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	// Pivot per-period statements into per-item rows.
	items := make(map[string]map[string]string)
	for _, stmt := range resp.QuoteSummary.Result[0].IncomeStatementHistory.Statements {
		period := ""
		if v, ok := stmt["endDate"]; ok {
			if s, ok := flattenValue(v); ok {
				period = s
			}
		}
		if period == "" {
			continue
		}
		for item, value := range stmt {
			if item == "endDate" || item == "maxAge" {
				continue
			}
			s, ok := flattenValue(value)
			if !ok {
				continue
			}
			if items[item] == nil {
				items[item] = make(map[string]string)
			}
			items[item][period] = s
		}
	}

	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]domain.Statement, 0, len(names))
	for _, name := range names {
		stmts = append(stmts, domain.Statement{Item: name, Values: items[name]})
	}
	return stmts, nil
}

// History implements domain.MarketData via the chart endpoint.
func (p *YahooProvider) History(ctx context.Context, symbol, period, interval string) ([]domain.Bar, error) {
	body, err := p.getJSON(ctx, "/v8/finance/chart/"+symbol, map[string]string{
		"range":    period,
		"interval": interval,
	})
	if err != nil {
		return nil, err
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("%w: parse chart: %v", domain.ErrProvider, err)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		bar := domain.Bar{Date: time.Unix(ts, 0).UTC().Format("2006-01-02")}
		if i < len(quote.Open) {
			bar.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			bar.High = quote.High[i]
		}
		if i < len(quote.Low) {
			bar.Low = quote.Low[i]
		}
		if i < len(quote.Close) {
			bar.Close = quote.Close[i]
		}
		if i < len(quote.Volume) {
			bar.Volume = quote.Volume[i]
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Search implements domain.MarketData via the free-text search endpoint.
func (p *YahooProvider) Search(ctx context.Context, query string) ([]domain.SymbolMatch, error) {
	body, err := p.getJSON(ctx, "/v1/finance/search", map[string]string{
		"q":           query,
		"quotesCount": "5",
		"newsCount":   "0",
	})
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: parse search response: %v", domain.ErrProvider, err)
	}

	matches := make([]domain.SymbolMatch, 0, len(sr.Quotes))
	for _, q := range sr.Quotes {
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		matches = append(matches, domain.SymbolMatch{
			Symbol:   q.Symbol,
			Name:     name,
			Exchange: q.Exchange,
			Type:     q.QuoteType,
		})
	}
	return matches, nil
}

// flattenValue renders a quote-summary field as a display string.
// Fields arrive either as scalars or as {"raw": n, "fmt": "..."} objects;
// the formatted form is preferred.
func flattenValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.4f", t), ".0000"), true
	case bool:
		return fmt.Sprintf("%v", t), true
	case map[string]any:
		if s, ok := t["fmt"].(string); ok && s != "" {
			return s, true
		}
		if raw, ok := t["raw"]; ok {
			return flattenValue(raw)
		}
		return "", false
	default:
		return "", false
	}
}

// --- Yahoo API wire types ---

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]map[string]any `json:"result"`
	} `json:"quoteSummary"`
}

type incomeStatementResponse struct {
	QuoteSummary struct {
		Result []struct {
			IncomeStatementHistory struct {
				Statements []map[string]any `json:"incomeStatementHistory"`
			} `json:"incomeStatementHistory"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		LongName  string `json:"longname"`
		ShortName string `json:"shortname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}
