package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"finsight/internal/domain"
	"finsight/internal/infra/config"
)

// MeteredProvider decorates an LLMProvider with per-run usage accounting:
// token totals, request count, and an estimated cost in USD from the
// configured price table. When the backend omits usage numbers the token
// counts are estimated locally with tiktoken.
type MeteredProvider struct {
	inner   domain.LLMProvider
	pricing config.PricingConfig
	logger  *slog.Logger

	mu     sync.Mutex
	report domain.UsageReport

	encOnce sync.Once
	enc     *tiktoken.Tiktoken // nil if the encoding could not be loaded
}

// NewMeteredProvider wraps inner with usage metering.
func NewMeteredProvider(inner domain.LLMProvider, pricing config.PricingConfig, logger *slog.Logger) *MeteredProvider {
	return &MeteredProvider{inner: inner, pricing: pricing, logger: logger}
}

// Chat implements domain.LLMProvider, recording usage on success.
func (p *MeteredProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.inner.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage = p.estimate(req, resp)
	}

	p.mu.Lock()
	p.report.PromptTokens += usage.PromptTokens
	p.report.CompletionTokens += usage.CompletionTokens
	p.report.TotalTokens += usage.TotalTokens
	p.report.Requests++
	p.report.CostUSD += float64(usage.PromptTokens)/1000.0*p.pricing.PromptPer1K +
		float64(usage.CompletionTokens)/1000.0*p.pricing.CompletionPer1K
	p.mu.Unlock()

	return resp, nil
}

// Name implements domain.LLMProvider.
func (p *MeteredProvider) Name() string { return p.inner.Name() }

// Snapshot implements domain.UsageMeter.
func (p *MeteredProvider) Snapshot() domain.UsageReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.report
}

// Reset implements domain.UsageMeter.
func (p *MeteredProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report = domain.UsageReport{}
}

// estimate approximates usage for backends that do not report it.
func (p *MeteredProvider) estimate(req domain.ChatRequest, resp *domain.ChatResponse) domain.Usage {
	var prompt int
	for _, m := range req.Messages {
		prompt += p.countTokens(m.Content)
	}
	completion := p.countTokens(resp.Message.Content)
	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// countTokens counts tokens with the cl100k_base encoding, falling back
// to a bytes/4 heuristic when the encoding is unavailable.
func (p *MeteredProvider) countTokens(text string) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			p.logger.Warn("tiktoken encoding unavailable, estimating tokens by size", "error", err)
			return
		}
		p.enc = enc
	})
	if p.enc == nil {
		return len(text) / 4
	}
	return len(p.enc.Encode(text, nil, nil))
}
