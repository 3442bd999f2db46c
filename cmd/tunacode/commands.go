package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunacode/agentcore/internal/agent"
	"github.com/tunacode/agentcore/internal/agent/providers"
	"github.com/tunacode/agentcore/internal/compaction"
	"github.com/tunacode/agentcore/internal/config"
	"github.com/tunacode/agentcore/internal/observability"
	"github.com/tunacode/agentcore/internal/sessions"
	"github.com/tunacode/agentcore/internal/usage"
	"github.com/tunacode/agentcore/pkg/models"
)

// buildRunCmd wires one Runtime end to end (session store, tool registry,
// compaction controller, Anthropic provider, observability) and drives it
// against a single user message, printing streamed text deltas and tool
// lifecycle notices to stdout as they arrive. Grounded on the teacher's
// cmd/nexus/handlers_serve.go "read a line, print the reply" interactive
// loop shape, trimmed to the one path this core's scope covers.
func buildRunCmd(configPath *string) *cobra.Command {
	var sessionKey string
	var model string

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Drive one request through the agent orchestration core",
		Long:  "Reads a user message (as an argument, or from stdin if omitted) and drives the Request Orchestrator to completion, printing streamed output and tool activity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := resolveMessage(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("tunacode: load config: %w", err)
			}

			runtime, store, eventStore, cleanup, err := buildRuntime(cfg)
			if err != nil {
				return fmt.Errorf("tunacode: build runtime: %w", err)
			}
			defer cleanup()
			tracker := usage.NewTracker(usage.DefaultTrackerConfig())

			callbacks := agent.CallbackSet{
				OnStreamDelta: func(text string) { fmt.Fprint(os.Stdout, text) },
				OnToolStart: func(name string) {
					fmt.Fprintf(os.Stderr, "\n[tool] %s starting\n", name)
				},
				OnToolResult: func(name string, status models.ToolCallStatus, _ json.RawMessage, _ string, d time.Duration) {
					fmt.Fprintf(os.Stderr, "[tool] %s %s (%s)\n", name, status, d)
				},
				OnNotice: func(text string) {
					fmt.Fprintf(os.Stderr, "[notice] %s\n", text)
				},
				OnCompactionStatus: func(active bool) {
					if active {
						fmt.Fprintln(os.Stderr, "[compaction] running...")
					}
				},
			}

			if sessionKey == "" {
				sessionKey = "cli"
			}
			if model == "" {
				model = cfg.LLM.DefaultModel
			}

			result, err := runtime.ProcessRequest(cmd.Context(), agent.ProcessRequestInput{
				SessionKey:  sessionKey,
				UserMessage: message,
				Model:       model,
				Callbacks:   callbacks,
			})
			fmt.Fprintln(os.Stdout)

			if session, serr := store.GetOrCreate(cmd.Context(), sessionKey); serr == nil {
				tracker.Record(usage.Record{
					Provider: "anthropic",
					Model:    model,
					Usage: usage.Usage{
						InputTokens:     session.Usage.PromptTokens,
						OutputTokens:    session.Usage.CompletionTokens,
						CacheReadTokens: session.Usage.CachedTokens,
					},
					Cost: session.Usage.Cost,
				})
				totals := tracker.GetTotals("anthropic", model)
				fmt.Fprintf(os.Stderr, "[usage] session %s %s\n", usage.FormatUsageDetailed(totals), usage.FormatUSD(session.Usage.Cost))
			}

			if eventStore != nil {
				if events, terr := eventStore.GetBySessionID(sessionKey); terr == nil && len(events) > 0 {
					fmt.Fprint(os.Stderr, observability.FormatTimeline(observability.BuildTimeline(events)))
				}
			}

			if err != nil {
				return err
			}
			_ = result
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionKey, "session", "", "session key to resume (default: a fresh \"cli\" session)")
	cmd.Flags().StringVar(&model, "model", "", "model id override (default: llm.default_model from config)")
	return cmd
}

// buildConfigSchemaCmd prints the JSON Schema for config.Config, so an
// operator or editor integration can validate a config file (or drive
// autocompletion) without reading this module's Go source. Grounded on
// internal/config/schema.go's reflection-based JSONSchema(), which had no
// caller before this command wired it up.
func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-schema",
		Short: "Print the JSON Schema for the configuration file format",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("tunacode: generate config schema: %w", err)
			}
			_, err = fmt.Fprintln(os.Stdout, string(schema))
			return err
		},
	}
}

// resolveMessage returns the first positional argument, or reads stdin
// line-by-line until EOF if none was given.
func resolveMessage(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	message := strings.TrimSpace(strings.Join(lines, "\n"))
	if message == "" {
		return "", fmt.Errorf("tunacode: no message provided (pass an argument or pipe one on stdin)")
	}
	return message, nil
}

// loadConfig reads path if given, otherwise builds a Config from
// environment variables alone so the CLI is runnable with zero files on
// disk, per spec.md §1's "the CLI and config wizard" being out of scope —
// this is the thinnest viable substitute, not a wizard.
func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.Load(path)
	}
	cfg := &config.Config{
		Version: config.CurrentVersion,
		LLM: config.LLMConfig{
			Provider:         "anthropic",
			APIKey:           os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel:     envOr("TUNACODE_MODEL", "claude-sonnet-4-20250514"),
			MaxContextTokens: 200000,
		},
		Agent: config.AgentConfig{
			MaxIterations:   15,
			SummaryProvider: "openai-compatible",
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// secondsOrDefault converts a config value expressed in whole seconds to a
// time.Duration, falling back to def when seconds is zero or negative.
func secondsOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

// buildRuntime wires every collaborator a Runtime needs: an in-memory
// session store (spec.md §1 excludes disk persistence), an empty tool
// registry (individual tool implementations are an external collaborator;
// a real CLI would Register() its own here), the compaction controller
// backed by an OpenAI-compatible summarizer, the Anthropic event-stream
// adapter, and the observability stack. When diagnostics are enabled in
// config, it also returns a populated EventStore the caller can render
// into a timeline after the request completes.
func buildRuntime(cfg *config.Config) (*agent.Runtime, sessions.Store, observability.EventStore, func(), error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "tunacode",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
		Attributes:     cfg.Observability.Tracing.Attributes,
	})
	cleanup := func() { _ = shutdown(context.Background()) }

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		cleanup()
		return nil, nil, nil, func() {}, fmt.Errorf("ANTHROPIC_API_KEY is required (set it in the environment or llm.api_key in --config)")
	}

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.DefaultModel,
	})
	if err != nil {
		cleanup()
		return nil, nil, nil, func() {}, err
	}

	summaryProvider := compaction.NewOpenAICompatibleProvider(
		cfg.Agent.SummaryProvider,
		envOr("OPENAI_API_KEY", ""),
		"",
		cfg.LLM.SummaryModel,
	)
	controller := compaction.NewController(
		compaction.NewSummarizer(summaryProvider),
		cfg.Compaction.KeepRecentTokens,
		cfg.Compaction.ReserveTokens,
	)

	store := sessions.NewMemoryStore().WithMaxHistoryMessages(cfg.Session.MaxHistoryMessages)
	registry := agent.NewToolRegistry()

	var eventStore observability.EventStore
	if cfg.Observability.Diagnostics.Enabled {
		observability.SetDiagnosticsEnabled(true)
		memStore := observability.NewMemoryEventStore(cfg.Observability.Diagnostics.TimelineSize)
		eventStore = memStore
		recorder := observability.NewEventRecorder(memStore, logger)
		observability.OnDiagnosticEvent(recorder.AsDiagnosticListener())
	}

	runtime := agent.NewRuntime(
		store,
		registry,
		agent.ToolDispatcherConfig{
			MaxConcurrentReads: cfg.Dispatch.MaxParallelReads,
			ToolTimeout:        secondsOrDefault(cfg.Dispatch.ToolTimeoutSeconds, agent.DefaultToolTimeout),
		},
		provider,
		controller,
		agent.RuntimeConfig{
			MaxIterations:        cfg.Agent.MaxIterations,
			GlobalRequestTimeout: secondsOrDefault(cfg.Agent.GlobalRequestTimeoutSeconds, 0),
			MaxContextTokens:     cfg.LLM.MaxContextTokens,
		},
		nil,
		logger,
		tracer,
		metrics,
	)
	return runtime, store, eventStore, cleanup, nil
}
