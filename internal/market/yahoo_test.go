package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"finsight/internal/domain"
)

func newTestProvider(t *testing.T, handler http.Handler) *YahooProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewYahooProvider(YahooConfig{BaseURL: srv.URL}, testLogger())
}

func TestYahooSearch(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/finance/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "Tesla" {
			t.Errorf("q = %q, want Tesla", got)
		}
		w.Write([]byte(`{"quotes":[
			{"symbol":"TSLA","longname":"Tesla, Inc.","exchange":"NMS","quoteType":"EQUITY"},
			{"symbol":"TL0.DE","shortname":"TESLA","exchange":"GER","quoteType":"EQUITY"}
		]}`))
	}))

	matches, err := p.Search(context.Background(), "Tesla")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Symbol != "TSLA" || matches[0].Name != "Tesla, Inc." {
		t.Fatalf("unexpected best match %+v", matches[0])
	}
	// shortname fallback when longname is absent
	if matches[1].Name != "TESLA" {
		t.Fatalf("expected shortname fallback, got %+v", matches[1])
	}
}

func TestYahooRateLimitMapped(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := p.Search(context.Background(), "Tesla")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestYahooServerErrorMapped(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := p.Info(context.Background(), "TSLA")
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestYahooHistory(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("range"); got != "1mo" {
			t.Errorf("range = %q, want 1mo", got)
		}
		w.Write([]byte(`{"chart":{"result":[{
			"timestamp":[1700000000,1700086400],
			"indicators":{"quote":[{
				"open":[220.1,222.5],"high":[225.0,228.0],
				"low":[219.0,221.0],"close":[224.0,227.3],
				"volume":[1000000,1200000]
			}]}
		}]}}`))
	}))

	bars, err := p.History(context.Background(), "TSLA", "1mo", "1d")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Close != 224.0 || bars[1].Volume != 1200000 {
		t.Fatalf("unexpected bars %+v", bars)
	}
	if bars[0].Date == "" {
		t.Fatal("expected formatted date")
	}
}

func TestYahooInfoFlattening(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{
			"price":{"shortName":"Tesla, Inc.","marketCap":{"raw":800000000000,"fmt":"800B"}},
			"summaryDetail":{"trailingPE":{"raw":65.2,"fmt":"65.20"},"empty":null}
		}]}}`))
	}))

	info, err := p.Info(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info["price.shortName"] != "Tesla, Inc." {
		t.Fatalf("missing shortName: %v", info)
	}
	if info["price.marketCap"] != "800B" {
		t.Fatalf("fmt value not preferred: %v", info)
	}
	if _, ok := info["summaryDetail.empty"]; ok {
		t.Fatal("null fields must be dropped")
	}
}

func TestYahooInfoNoResult(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[]}}`))
	}))

	info, err := p.Info(context.Background(), "ZZZZ")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if len(info) != 0 {
		t.Fatalf("expected empty info, got %v", info)
	}
}
