package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider replays a fixed sequence of responses. When the
// script is exhausted it repeats the last entry.
type scriptedProvider struct {
	mu       sync.Mutex
	script   []scriptEntry
	calls    int
	requests []domain.ChatRequest
}

type scriptEntry struct {
	msg domain.Message
	err error
}

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++

	entry := p.script[idx]
	if entry.err != nil {
		return nil, entry.err
	}
	return &domain.ChatResponse{Message: entry.msg, Usage: domain.Usage{TotalTokens: 10}}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func assistantText(content string) scriptEntry {
	return scriptEntry{msg: domain.Message{Role: domain.RoleAssistant, Content: content}}
}

func assistantCalls(calls ...domain.ToolCall) scriptEntry {
	return scriptEntry{msg: domain.Message{Role: domain.RoleAssistant, Content: "", ToolCalls: calls}}
}

// fakeTool answers with a canned string or error keyed by its name.
type fakeTool struct {
	name  string
	reply func(params json.RawMessage) (*domain.ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return f.name }
func (f *fakeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: f.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (f *fakeTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return f.reply(params)
}

// fakeExecutor is an in-test ToolExecutor over a name map.
type fakeExecutor struct {
	tools map[string]domain.Tool
}

func newFakeExecutor(tools ...domain.Tool) *fakeExecutor {
	m := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &fakeExecutor{tools: m}
}

func (e *fakeExecutor) Get(name string) (domain.Tool, error) {
	t, ok := e.tools[name]
	if !ok {
		return nil, domain.NewDomainError("fakeExecutor.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (e *fakeExecutor) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t.Schema())
	}
	return out
}

func echoTool(name string) domain.Tool {
	return &fakeTool{name: name, reply: func(params json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: name + " result for " + string(params)}, nil
	}}
}

func newTestAgent(llm domain.LLMProvider, tools domain.ToolExecutor, planFirst bool, budget int) *Agent {
	return NewAgent(AgentDeps{
		LLM:        llm,
		Tools:      tools,
		Logger:     testLogger(),
		PlanFirst:  planFirst,
		ToolBudget: budget,
	})
}

func TestAgentDirectAnswer(t *testing.T) {
	llm := &scriptedProvider{script: []scriptEntry{assistantText("direct answer")}}
	agent := newTestAgent(llm, newFakeExecutor(), false, 0)
	run := NewRun("t1", "system", "question")

	answer, err := agent.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "direct answer", answer)
	assert.Equal(t, 1, llm.callCount())
	assert.Equal(t, 0, run.ToolCallsUsed())
}

func TestAgentToolLoopPreservesCallOrder(t *testing.T) {
	llm := &scriptedProvider{script: []scriptEntry{
		assistantCalls(
			domain.ToolCall{ID: "c1", Name: "alpha", Arguments: json.RawMessage(`{"n":1}`)},
			domain.ToolCall{ID: "c2", Name: "beta", Arguments: json.RawMessage(`{"n":2}`)},
			domain.ToolCall{ID: "c3", Name: "alpha", Arguments: json.RawMessage(`{"n":3}`)},
		),
		assistantText("final"),
	}}
	agent := newTestAgent(llm, newFakeExecutor(echoTool("alpha"), echoTool("beta")), false, 0)
	run := NewRun("t1", "system", "question")

	answer, err := agent.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "final", answer)
	assert.Equal(t, 3, run.ToolCallsUsed())

	var toolMsgs []domain.Message
	for _, msg := range run.Messages() {
		if msg.Role == domain.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 3)
	assert.Equal(t, "c1", toolMsgs[0].ToolCalls[0].ID)
	assert.Equal(t, "c2", toolMsgs[1].ToolCalls[0].ID)
	assert.Equal(t, "c3", toolMsgs[2].ToolCalls[0].ID)
	assert.Equal(t, `alpha result for {"n":1}`, toolMsgs[0].Content)
	assert.Equal(t, `beta result for {"n":2}`, toolMsgs[1].Content)
}

func TestAgentToolFailureFoldedIntoConversation(t *testing.T) {
	failing := &fakeTool{name: "broken", reply: func(json.RawMessage) (*domain.ToolResult, error) {
		return nil, fmt.Errorf("backend exploded")
	}}
	llm := &scriptedProvider{script: []scriptEntry{
		assistantCalls(
			domain.ToolCall{ID: "c1", Name: "broken", Arguments: json.RawMessage(`{}`)},
			domain.ToolCall{ID: "c2", Name: "missing", Arguments: json.RawMessage(`{}`)},
		),
		assistantText("recovered"),
	}}
	agent := newTestAgent(llm, newFakeExecutor(failing), false, 0)
	run := NewRun("t1", "system", "question")

	answer, err := agent.Execute(context.Background(), run)
	require.NoError(t, err, "tool failures must never abort the run")
	assert.Equal(t, "recovered", answer)

	var toolMsgs []domain.Message
	for _, msg := range run.Messages() {
		if msg.Role == domain.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Contains(t, toolMsgs[0].Content, "backend exploded")
	assert.Contains(t, toolMsgs[1].Content, "tool not found")
}

func TestAgentBudgetExhaustionEndsGracefully(t *testing.T) {
	// The model asks for two tool calls on every turn; the budget of 3
	// allows two rounds (0 < 3, 2 < 3) before routing to end at 4.
	llm := &scriptedProvider{script: []scriptEntry{
		assistantCalls(
			domain.ToolCall{ID: "c1", Name: "alpha", Arguments: json.RawMessage(`{}`)},
			domain.ToolCall{ID: "c2", Name: "alpha", Arguments: json.RawMessage(`{}`)},
		),
	}}
	agent := newTestAgent(llm, newFakeExecutor(echoTool("alpha")), false, 3)
	run := NewRun("t1", "system", "question")

	_, err := agent.Execute(context.Background(), run)
	require.NoError(t, err, "budget exhaustion is graceful termination")
	assert.Equal(t, 4, run.ToolCallsUsed())
	assert.Equal(t, 3, llm.callCount())
}

func TestAgentPlanFirst(t *testing.T) {
	llm := &scriptedProvider{script: []scriptEntry{
		assistantText("1. look up the ticker\n2. answer"),
		assistantText("final answer"),
	}}
	agent := newTestAgent(llm, newFakeExecutor(echoTool("alpha")), true, 0)
	run := NewRun("t1", "system", "question")

	answer, err := agent.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "final answer", answer)
	require.Equal(t, 2, llm.callCount())

	assert.Empty(t, llm.requests[0].Tools, "planning call must not bind tools")
	assert.NotEmpty(t, llm.requests[1].Tools, "acting call binds tool schemas")

	messages := run.Messages()
	var planMsg *domain.Message
	for i := range messages {
		if messages[i].Role == domain.RoleSystem && i > 0 {
			planMsg = &messages[i]
		}
	}
	require.NotNil(t, planMsg, "plan appended as a system message")
	assert.Contains(t, planMsg.Content, "1. look up the ticker")
}

func TestAgentNonRetryableLLMErrorAborts(t *testing.T) {
	llm := &scriptedProvider{script: []scriptEntry{
		{err: domain.NewDomainError("llm.Chat", domain.ErrAuthInvalid, "bad key")},
	}}
	agent := newTestAgent(llm, newFakeExecutor(), false, 0)
	run := NewRun("t1", "system", "question")

	_, err := agent.Execute(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, 1, llm.callCount(), "auth failure must not be retried")
}

func TestAgentRetriesTransientLLMError(t *testing.T) {
	llm := &scriptedProvider{script: []scriptEntry{
		{err: domain.NewDomainError("llm.Chat", domain.ErrLLMUnavailable, "breaker open")},
		assistantText("eventually"),
	}}
	agent := newTestAgent(llm, newFakeExecutor(), false, 0)
	run := NewRun("t1", "system", "question")

	answer, err := agent.Execute(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "eventually", answer)
	assert.Equal(t, 2, llm.callCount())
}

func TestShouldContinueRouting(t *testing.T) {
	agent := newTestAgent(&scriptedProvider{script: []scriptEntry{assistantText("x")}}, newFakeExecutor(), false, 5)

	cases := []struct {
		name      string
		toolCalls int
		used      int
		want      string
	}{
		{"no calls", 0, 0, routeEnd},
		{"calls under budget", 2, 0, routeTools},
		{"calls at budget", 2, 5, routeEnd},
		{"calls over budget", 2, 7, routeEnd},
		{"no calls over budget", 0, 7, routeEnd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := NewRun("t1", "system", "q")
			calls := make([]domain.ToolCall, tc.toolCalls)
			for i := range calls {
				calls[i] = domain.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "alpha"}
			}
			run.Append(domain.Message{Role: domain.RoleAssistant, ToolCalls: calls})
			run.countToolCalls(tc.used)

			assert.Equal(t, tc.want, agent.shouldContinue(run))
		})
	}
}

func TestRunConversationIsAppendOnly(t *testing.T) {
	run := NewRun("t1", "system prompt", "the question")

	messages := run.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, domain.RoleSystem, messages[0].Role)
	assert.Equal(t, domain.RoleUser, messages[1].Role)

	// Mutating the returned slice must not affect the run.
	messages[0].Content = "tampered"
	assert.Equal(t, "system prompt", run.Messages()[0].Content)

	assert.NotEmpty(t, run.ID)
	run2 := NewRun("t1", "system prompt", "the question")
	assert.NotEqual(t, run.ID, run2.ID)
}
