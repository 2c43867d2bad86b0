package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"finsight/internal/domain"
	"finsight/internal/infra/tracer"
)

// Recovery loop constants for transient LLM failures.
const (
	maxLLMRetries  = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// defaultToolBudget bounds the cumulative number of tool calls one run
// may issue. Exhaustion ends the run gracefully.
const defaultToolBudget = 50

// runState is the explicit phase of the agent loop.
type runState int

const (
	statePlan runState = iota
	stateAct
	stateTools
	stateEnd
)

// Route decisions returned by shouldContinue.
const (
	routeTools = "tools"
	routeEnd   = "end"
)

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM        domain.LLMProvider
	Tools      domain.ToolExecutor
	Logger     *slog.Logger
	PlanFirst  bool // run the planning phase before acting
	ToolBudget int  // cumulative tool-call cap; <= 0 uses the default
}

// Agent drives one run through the plan-act-tools state machine:
//
//	statePlan -> stateAct -> (route) -> stateTools -> stateAct
//	                                 -> stateEnd
//
// stateTools -> stateAct is the only cycle. Planning is skipped when
// PlanFirst is false.
type Agent struct {
	deps AgentDeps
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.ToolBudget <= 0 {
		deps.ToolBudget = defaultToolBudget
	}
	return &Agent{deps: deps}
}

// Execute runs the state machine to completion and returns the final
// assistant answer. Tool failures never abort a run; the returned error
// is reserved for context cancellation and unrecoverable LLM failures.
func (a *Agent) Execute(ctx context.Context, run *Run) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.execute",
		trace.WithAttributes(tracer.StringAttr("run.id", run.ID)),
	)
	defer span.End()

	state := stateAct
	if a.deps.PlanFirst {
		state = statePlan
	}

	for state != stateEnd {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return "", err
		}

		switch state {
		case statePlan:
			if err := a.plan(ctx, run); err != nil {
				tracer.RecordError(span, err)
				return "", err
			}
			state = stateAct

		case stateAct:
			if err := a.act(ctx, run); err != nil {
				tracer.RecordError(span, err)
				return "", err
			}
			switch a.shouldContinue(run) {
			case routeTools:
				state = stateTools
			default:
				state = stateEnd
			}

		case stateTools:
			a.runTools(ctx, run)
			state = stateAct
		}
	}

	tracer.SetOK(span)
	span.SetAttributes(tracer.IntAttr("run.tool_calls", run.ToolCallsUsed()))
	return run.LastAssistant().Content, nil
}

// plan asks the model for a numbered plan with no tools bound and
// appends it to the conversation as a system message.
func (a *Agent) plan(ctx context.Context, run *Run) error {
	ctx, span := tracer.StartSpan(ctx, "agent.plan")
	defer span.End()

	toolNames := make([]string, 0)
	for _, s := range a.deps.Tools.Schemas() {
		toolNames = append(toolNames, s.Name)
	}

	messages := run.Messages()
	messages = append(messages, domain.Message{
		Role: domain.RoleUser,
		Content: fmt.Sprintf(
			"Before answering, write a short numbered plan for how you will use the available tools (%v) to answer the question above. Output only the plan.",
			toolNames),
		Timestamp: time.Now(),
	})

	msg, err := a.callLLMWithRetry(ctx, domain.ChatRequest{Messages: messages})
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	run.Append(domain.Message{
		Role:      domain.RoleSystem,
		Content:   "Plan:\n" + msg.Content,
		Timestamp: time.Now(),
	})
	a.deps.Logger.Debug("plan recorded", "run_id", run.ID)
	tracer.SetOK(span)
	return nil
}

// act sends the whole conversation with full tool schemas and appends
// the assistant response.
func (a *Agent) act(ctx context.Context, run *Run) error {
	ctx, span := tracer.StartSpan(ctx, "agent.act")
	defer span.End()

	msg, err := a.callLLMWithRetry(ctx, domain.ChatRequest{
		Messages: run.Messages(),
		Tools:    a.deps.Tools.Schemas(),
	})
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	run.Append(msg)
	a.deps.Logger.Debug("assistant turn",
		"run_id", run.ID, "tool_calls", len(msg.ToolCalls))
	tracer.SetOK(span)
	return nil
}

// shouldContinue routes after an assistant turn: tools when the latest
// assistant message requests tool calls and the cumulative budget is not
// exhausted, end otherwise. Budget exhaustion is a normal termination.
func (a *Agent) shouldContinue(run *Run) string {
	last := run.LastAssistant()
	if len(last.ToolCalls) == 0 {
		return routeEnd
	}
	if run.ToolCallsUsed() >= a.deps.ToolBudget {
		a.deps.Logger.Warn("ending run",
			"run_id", run.ID, "reason", domain.ErrToolBudget,
			"used", run.ToolCallsUsed(), "budget", a.deps.ToolBudget)
		return routeEnd
	}
	return routeTools
}

// runTools executes every call from the latest assistant message in
// parallel. Results are collected in an indexed array so the merge back
// into the conversation preserves the original call order.
func (a *Agent) runTools(ctx context.Context, run *Run) {
	ctx, span := tracer.StartSpan(ctx, "agent.run_tools")
	defer span.End()

	calls := run.LastAssistant().ToolCalls
	run.countToolCalls(len(calls))
	span.SetAttributes(tracer.IntAttr("tool.count", len(calls)))

	toolMsgs := make([]domain.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c domain.ToolCall) {
			defer wg.Done()
			toolMsgs[idx] = a.executeTool(ctx, c)
		}(i, call)
	}
	wg.Wait()

	for _, msg := range toolMsgs {
		run.Append(msg)
	}
}

// executeTool runs a single tool call and folds any failure into the
// returned tool message so the planner sees it as content.
func (a *Agent) executeTool(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "agent.execute_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	toolMsg := func(content string) domain.Message {
		return domain.Message{
			Role:      domain.RoleTool,
			Name:      call.Name,
			Content:   content,
			ToolCalls: []domain.ToolCall{{ID: call.ID, Name: call.Name}},
			Timestamp: time.Now(),
		}
	}

	tool, err := a.deps.Tools.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return toolMsg(err.Error())
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		return toolMsg(err.Error())
	}

	if result.IsError {
		tracer.RecordError(span, fmt.Errorf("%s", result.Content))
	} else {
		tracer.SetOK(span)
	}
	return toolMsg(result.Content)
}

// callLLMWithRetry calls the model, retrying transient failures with
// exponential backoff and jitter. Non-retryable failures return
// immediately.
func (a *Agent) callLLMWithRetry(ctx context.Context, req domain.ChatRequest) (domain.Message, error) {
	var lastErr error
	for attempt := 0; attempt < maxLLMRetries; attempt++ {
		llmCtx, llmSpan := tracer.StartSpan(ctx, "agent.llm_call")
		resp, err := a.deps.LLM.Chat(llmCtx, req)
		llmSpan.End()

		if err == nil {
			return resp.Message, nil
		}
		lastErr = err

		if !domain.IsRetryableError(err) {
			return domain.Message{}, err
		}
		if attempt == maxLLMRetries-1 {
			break
		}

		delay := retryBackoff(attempt)
		a.deps.Logger.Info("retrying LLM call after error",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}
	return domain.Message{}, lastErr
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
