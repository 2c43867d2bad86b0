package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"finsight/internal/adapter/audit"
	"finsight/internal/adapter/llm"
	"finsight/internal/adapter/tool"
	"finsight/internal/domain"
	"finsight/internal/infra/config"
	"finsight/internal/infra/logger"
	"finsight/internal/infra/tracer"
	"finsight/internal/market"
	"finsight/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds the command-line options.
type cliFlags struct {
	ConfigPath string
	ThreadID   string
	NoAudit    bool
	Query      string
}

func parseFlags(args []string) (cliFlags, error) {
	flags := cliFlags{ConfigPath: "config.yaml", ThreadID: "default"}
	var query []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			showUsage()
			os.Exit(0)
		case "--config":
			if i+1 >= len(args) {
				return flags, fmt.Errorf("--config requires a value")
			}
			i++
			flags.ConfigPath = args[i]
		case "--thread":
			if i+1 >= len(args) {
				return flags, fmt.Errorf("--thread requires a value")
			}
			i++
			flags.ThreadID = args[i]
		case "--no-audit":
			flags.NoAudit = true
		default:
			if strings.HasPrefix(args[i], "-") {
				return flags, fmt.Errorf("unknown flag: %s", args[i])
			}
			query = append(query, args[i])
		}
	}

	flags.Query = strings.TrimSpace(strings.Join(query, " "))
	return flags, nil
}

func showUsage() {
	fmt.Println(`finsight - conversational financial analysis

USAGE:
    finsight [FLAGS] "your question"

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)
    --thread ID      Conversation thread id for the audit log (default: "default")
    --no-audit       Skip writing this run to the audit log

CONFIGURATION:
    Config file: ./config.yaml
    Environment: OPENAI_API_KEY, FINSIGHT_* variables override config

EXAMPLES:
    finsight "Compare TSLA and F"
    finsight --thread earnings "What was Apple's revenue last year?"`)
}

func run() error {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if flags.Query == "" {
		showUsage()
		return fmt.Errorf("no query given")
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return domain.WrapOp("load config", err)
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured; set OPENAI_API_KEY or llm.api_key in %s", flags.ConfigPath)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return domain.WrapOp("init logger", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return domain.WrapOp("init tracer", err)
	}
	defer shutdownTracer(context.Background())

	coord, cleanup, err := buildCoordinator(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	loggingEnabled := cfg.Audit.Enabled && !flags.NoAudit
	answer, meta, err := coord.Run(ctx, flags.Query, flags.ThreadID, loggingEnabled)
	if err != nil {
		return err
	}

	fmt.Println(answer)
	log.Info("run completed",
		"thread_id", flags.ThreadID,
		"llm_calls", meta.LLMCalls,
		"tool_calls", meta.ToolCalls,
		"total_tokens", meta.TotalTokens,
		"cost_usd", meta.CostUSD,
		"tickers", meta.CachedTickers,
	)
	return nil
}

// buildCoordinator wires the provider chain, market layer, tools, agent,
// and audit sink from config.
func buildCoordinator(cfg *config.Config, log *slog.Logger) (*usecase.Coordinator, func(), error) {
	cleanup := func() {}

	// LLM chain: OpenAI-compatible provider, circuit breaker, usage meter.
	base := llm.NewOpenAIProvider(cfg.LLM, log)
	breaker := llm.NewCircuitBreakerProvider(base, cfg.LLM.Breaker, log)
	metered := llm.NewMeteredProvider(breaker, cfg.LLM.Pricing, log)

	// Market data layer.
	provider := market.NewYahooProvider(market.YahooConfig{
		BaseURL:         cfg.Market.BaseURL,
		Timeout:         config.Duration(cfg.Market.Timeout, 0),
		RequestsPerHour: cfg.Market.RequestsPerHour,
		Burst:           cfg.Market.Burst,
	}, log)
	backoff := market.NewBackoff(cfg.Market.MaxAttempts, config.Duration(cfg.Market.RateLimitDelay, 0))
	cache := market.NewClientCache(provider, backoff, log)
	resolver := market.NewPeriodResolver(metered, log)

	// Tools.
	registry := tool.NewRegistry(log)
	tools := []domain.Tool{
		tool.NewValidateSymbolTool(metered, log),
		tool.NewSearchSymbolTool(provider, log),
		tool.NewCompanyInfoTool(cache, log),
		tool.NewStockHistoryTool(cache, resolver, log),
		tool.NewFinancialStatementsTool(cache, log),
		tool.NewCorrectPeriodTool(resolver, log),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return nil, cleanup, domain.WrapOp("register tool "+t.Name(), err)
		}
	}

	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:        metered,
		Tools:      registry,
		Logger:     log,
		PlanFirst:  cfg.Agent.PlanFirst,
		ToolBudget: cfg.Agent.ToolBudget,
	})

	// Audit sink.
	var sink domain.AuditSink
	if cfg.Audit.Enabled {
		sqliteSink, err := audit.NewSQLiteSink(cfg.Audit.Path, cfg.Audit.TruncateAt, log)
		if err != nil {
			// A broken audit store must not block analysis runs.
			log.Error("audit sink unavailable, continuing without it", "path", cfg.Audit.Path, "error", err)
		} else {
			sink = sqliteSink
			cleanup = func() { sqliteSink.Close() }
		}
	}

	coord := usecase.NewCoordinator(agent, metered, cache, sink, cfg.Agent.SystemPrompt, log)
	return coord, cleanup, nil
}
