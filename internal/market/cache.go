package market

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"finsight/internal/domain"
)

// ClientCache maps an uppercased ticker symbol to a singleton Client.
// Handles are created lazily on first reference and live for the cache's
// lifetime; there is no eviction. Creation is single-flight: concurrent
// first references to the same symbol construct exactly one handle.
//
// The cache is constructor-injected into whichever component needs
// ticker lookups; it is the only shared mutable structure across
// concurrent runs.
type ClientCache struct {
	provider domain.MarketData
	backoff  Backoff
	logger   *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
}

// NewClientCache creates an empty cache that builds handles against the
// given provider with the given retry policy.
func NewClientCache(provider domain.MarketData, backoff Backoff, logger *slog.Logger) *ClientCache {
	return &ClientCache{
		provider: provider,
		backoff:  backoff,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// GetOrCreate returns the handle for symbol, constructing it on first
// reference. The symbol is case-normalized before lookup.
func (c *ClientCache) GetOrCreate(symbol string) *Client {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	client, ok := c.clients[sym]
	c.mu.RUnlock()
	if ok {
		return client
	}

	v, _, _ := c.group.Do(sym, func() (any, error) {
		// Re-check under the flight: a previous flight may have
		// completed between the RUnlock above and Do.
		c.mu.RLock()
		client, ok := c.clients[sym]
		c.mu.RUnlock()
		if ok {
			return client, nil
		}

		client = NewClient(sym, c.provider, c.backoff, c.logger)
		c.mu.Lock()
		c.clients[sym] = client
		c.order = append(c.order, sym)
		c.mu.Unlock()

		c.logger.Debug("ticker client created", "symbol", sym)
		return client, nil
	})
	return v.(*Client)
}

// Tickers returns the cached symbols in insertion order.
func (c *ClientCache) Tickers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
