package domain

import "context"

// CompanyInfo is the key/value metric set for one ticker.
type CompanyInfo map[string]string

// Statement is a single financial statement line item across periods.
type Statement struct {
	Item   string            `json:"item"`
	Values map[string]string `json:"values"` // period label -> value
}

// Bar is one OHLCV row of a price history series.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// SymbolMatch is one ranked candidate from the free-text symbol search.
type SymbolMatch struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type"`
}

// MarketData is the external data provider port. Implementations are
// consumed only through the resilient fetch layer; callers must treat an
// empty result as a normal, handleable outcome.
type MarketData interface {
	Info(ctx context.Context, symbol string) (CompanyInfo, error)
	Financials(ctx context.Context, symbol string) ([]Statement, error)
	History(ctx context.Context, symbol, period, interval string) ([]Bar, error)
	Search(ctx context.Context, query string) ([]SymbolMatch, error)
}
