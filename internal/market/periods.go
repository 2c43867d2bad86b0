package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"finsight/internal/domain"
)

// ValidPeriods is the fixed set of accepted history range tokens, in
// ascending span order.
var ValidPeriods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}

// DefaultPeriod is the hardcoded fallback when no tier of the resolver
// can produce a valid period.
const DefaultPeriod = "1mo"

// periodAliases maps common invalid tokens to a valid period. Mappings
// round up: the mapped period is never smaller than the requested span,
// so downstream history queries are not starved of data.
var periodAliases = map[string]string{
	"1w":      "5d",
	"2w":      "1mo",
	"3w":      "1mo",
	"4w":      "1mo",
	"day":     "1d",
	"week":    "5d",
	"month":   "1mo",
	"quarter": "3mo",
	"year":    "1y",
	"1m":      "1mo",
	"3m":      "3mo",
	"6m":      "6mo",
	"12mo":    "1y",
	"all":     "max",
}

// IsValidPeriod reports whether p is a member of the valid period set.
func IsValidPeriod(p string) bool {
	for _, v := range ValidPeriods {
		if p == v {
			return true
		}
	}
	return false
}

// PeriodResolver maps arbitrary period tokens onto the valid period set.
// Resolution order: already-valid passthrough, alias table, LLM fallback
// constrained to the set, then DefaultPeriod. The result is always a
// member of ValidPeriods regardless of input.
type PeriodResolver struct {
	llm     domain.LLMProvider // optional; nil skips the LLM tier
	logger  *slog.Logger
	timeout time.Duration
}

// NewPeriodResolver creates a resolver. llm may be nil, in which case
// unknown tokens fall straight through to DefaultPeriod.
func NewPeriodResolver(llm domain.LLMProvider, logger *slog.Logger) *PeriodResolver {
	return &PeriodResolver{llm: llm, logger: logger, timeout: 15 * time.Second}
}

// Resolve returns a member of ValidPeriods for any input token.
func (r *PeriodResolver) Resolve(ctx context.Context, period string) string {
	token := strings.ToLower(strings.TrimSpace(period))
	if IsValidPeriod(token) {
		return token
	}
	if mapped, ok := periodAliases[token]; ok {
		return mapped
	}
	if r.llm != nil {
		if corrected, ok := r.resolveLLM(ctx, token); ok {
			return corrected
		}
	}
	r.logger.Debug("period unresolved, using default", "period", period, "default", DefaultPeriod)
	return DefaultPeriod
}

// resolveLLM asks the model for a valid period, rounding up so the
// mapped span is never smaller than the requested one. Out-of-set
// answers are rejected.
func (r *PeriodResolver) resolveLLM(ctx context.Context, token string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"The period %q is not a valid history range. Map it to the nearest valid option, "+
			"rounding UP so the chosen period is never shorter than the requested span.\n"+
			"Valid periods: %s\n"+
			"Return ONLY the corrected period value, nothing else.",
		token, strings.Join(ValidPeriods, ", "),
	)
	resp, err := r.llm.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Map an invalid period token to a valid one. Answer with the token only."},
			{Role: domain.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		r.logger.Warn("period correction LLM call failed", "period", token, "error", err)
		return "", false
	}
	corrected := strings.ToLower(strings.TrimSpace(resp.Message.Content))
	if !IsValidPeriod(corrected) {
		r.logger.Debug("period correction returned out-of-set value", "period", token, "answer", corrected)
		return "", false
	}
	return corrected, true
}
