package llm

import (
	"context"
	"errors"
	"testing"

	"finsight/internal/domain"
	"finsight/internal/infra/config"
)

// flakyProvider fails until succeedAfter calls have been made.
type flakyProvider struct {
	calls        int
	succeedAfter int
}

func (f *flakyProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	f.calls++
	if f.calls <= f.succeedAfter {
		return nil, errors.New("backend down")
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "ok"}}, nil
}

func (f *flakyProvider) Name() string { return "flaky" }

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &flakyProvider{succeedAfter: 100}
	p := NewCircuitBreakerProvider(inner, config.BreakerConfig{MaxFailures: 3}, testLogger())

	for i := 0; i < 3; i++ {
		if _, err := p.Chat(context.Background(), domain.ChatRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Circuit is now open: the call fails fast without reaching the backend.
	before := inner.calls
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable from open circuit, got %v", err)
	}
	if inner.calls != before {
		t.Fatal("open circuit must not reach the backend")
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakyProvider{}
	p := NewCircuitBreakerProvider(inner, config.BreakerConfig{}, testLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if p.Name() != "flaky" {
		t.Fatalf("Name = %q", p.Name())
	}
}
