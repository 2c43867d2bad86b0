package market

import (
	"context"
	"log/slog"

	"finsight/internal/domain"
)

// Client is the cached handle for one ticker symbol. All reads go
// through the retry policy; absence of data is reported as a normal
// outcome, never as an error the caller must handle specially.
type Client struct {
	symbol   string
	provider domain.MarketData
	backoff  Backoff
	logger   *slog.Logger
}

// NewClient creates a handle bound to one (already normalized) symbol.
func NewClient(symbol string, provider domain.MarketData, backoff Backoff, logger *slog.Logger) *Client {
	return &Client{
		symbol:   symbol,
		provider: provider,
		backoff:  backoff,
		logger:   logger.With("symbol", symbol),
	}
}

// Symbol returns the ticker this handle is bound to.
func (c *Client) Symbol() string { return c.symbol }

// Info fetches the key company metrics. ok is false when nothing could
// be fetched under the retry policy.
func (c *Client) Info(ctx context.Context) (domain.CompanyInfo, bool) {
	return fetchRetry(ctx, c.backoff, c.logger, "info", func(ctx context.Context) (domain.CompanyInfo, error) {
		info, err := c.provider.Info(ctx, c.symbol)
		if err != nil {
			return nil, err
		}
		if len(info) == 0 {
			return nil, domain.ErrEmptyResponse
		}
		return info, nil
	})
}

// Financials fetches the annual statement line items.
func (c *Client) Financials(ctx context.Context) ([]domain.Statement, bool) {
	return fetchRetry(ctx, c.backoff, c.logger, "financials", func(ctx context.Context) ([]domain.Statement, error) {
		stmts, err := c.provider.Financials(ctx, c.symbol)
		if err != nil {
			return nil, err
		}
		if len(stmts) == 0 {
			return nil, domain.ErrEmptyResponse
		}
		return stmts, nil
	})
}

// History fetches OHLCV bars for the given period and interval. The
// period must already be a member of the valid period set; callers
// resolve arbitrary tokens through PeriodResolver first. When the fetch
// yields nothing the result is an empty, non-nil slice.
func (c *Client) History(ctx context.Context, period, interval string) ([]domain.Bar, error) {
	if !IsValidPeriod(period) {
		return nil, domain.NewDomainError("Client.History", domain.ErrInvalidInput, "period "+period)
	}
	bars, ok := fetchRetry(ctx, c.backoff, c.logger, "history", func(ctx context.Context) ([]domain.Bar, error) {
		bars, err := c.provider.History(ctx, c.symbol, period, interval)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, domain.ErrEmptyResponse
		}
		return bars, nil
	})
	if !ok {
		return []domain.Bar{}, nil
	}
	return bars, nil
}
