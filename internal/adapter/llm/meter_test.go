package llm

import (
	"context"
	"math"
	"testing"

	"finsight/internal/domain"
	"finsight/internal/infra/config"
)

// usageProvider returns a fixed response with reported usage.
type usageProvider struct {
	usage domain.Usage
}

func (u *usageProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: "answer"},
		Usage:   u.usage,
	}, nil
}

func (u *usageProvider) Name() string { return "usage" }

func TestMeterAccumulatesAcrossCalls(t *testing.T) {
	inner := &usageProvider{usage: domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}}
	m := NewMeteredProvider(inner, config.PricingConfig{
		PromptPer1K:     0.15,
		CompletionPer1K: 0.60,
	}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := m.Chat(context.Background(), domain.ChatRequest{}); err != nil {
			t.Fatalf("Chat: %v", err)
		}
	}

	report := m.Snapshot()
	if report.Requests != 3 {
		t.Fatalf("requests = %d, want 3", report.Requests)
	}
	if report.PromptTokens != 300 || report.CompletionTokens != 150 || report.TotalTokens != 450 {
		t.Fatalf("unexpected totals %+v", report)
	}

	// 3 * (100/1000*0.15 + 50/1000*0.60) = 3 * 0.045 = 0.135
	if math.Abs(report.CostUSD-0.135) > 1e-9 {
		t.Fatalf("cost = %f, want 0.135", report.CostUSD)
	}
}

func TestMeterReset(t *testing.T) {
	inner := &usageProvider{usage: domain.Usage{TotalTokens: 10, PromptTokens: 5, CompletionTokens: 5}}
	m := NewMeteredProvider(inner, config.PricingConfig{}, testLogger())

	if _, err := m.Chat(context.Background(), domain.ChatRequest{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	m.Reset()
	if report := m.Snapshot(); report.Requests != 0 || report.TotalTokens != 0 {
		t.Fatalf("expected zeroed report, got %+v", report)
	}
}
