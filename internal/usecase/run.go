package usecase

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"finsight/internal/domain"
)

// Run is the mutable state of one agent run: an append-only conversation
// plus the cumulative tool-call count. A run is owned by a single
// goroutine; it is not safe for concurrent use.
type Run struct {
	ID       string
	ThreadID string

	messages      []domain.Message
	toolCallsUsed int
}

// NewRun starts a run seeded with the system prompt and the user query.
func NewRun(threadID, systemPrompt, query string) *Run {
	r := &Run{ID: newRunID(), ThreadID: threadID}
	r.Append(domain.Message{Role: domain.RoleSystem, Content: systemPrompt, Timestamp: time.Now()})
	r.Append(domain.Message{Role: domain.RoleUser, Content: query, Timestamp: time.Now()})
	return r
}

// Append adds a message. Messages are never reordered or removed.
func (r *Run) Append(msg domain.Message) {
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the conversation so far.
func (r *Run) Messages() []domain.Message {
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// LastAssistant returns the most recent assistant message, or a zero
// Message when none exists yet.
func (r *Run) LastAssistant() domain.Message {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == domain.RoleAssistant {
			return r.messages[i]
		}
	}
	return domain.Message{}
}

// ToolCallsUsed returns the cumulative number of tool calls issued over
// the whole run, including calls whose execution failed.
func (r *Run) ToolCallsUsed() int { return r.toolCallsUsed }

// countToolCalls records n more issued calls against the run's budget.
func (r *Run) countToolCalls(n int) { r.toolCallsUsed += n }

func newRunID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
