// Package config loads the agent core's YAML configuration, grounded on the
// teacher's internal/config: $include-merged YAML/JSON5 documents decoded
// with strict field checking (see loader.go), plus a reflected JSON Schema
// for editor validation (schema.go).
package config

// Config is the root configuration for the agent orchestration core.
// Version gates config schema migrations (version.go).
type Config struct {
	Version       int                 `yaml:"version"`
	LLM           LLMConfig           `yaml:"llm"`
	Agent         AgentConfig         `yaml:"agent"`
	Session       SessionConfig       `yaml:"session"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DispatchConfig controls the Tool Dispatcher's concurrency policy
// (spec.md §4.3, §5).
type DispatchConfig struct {
	// MaxParallelReads bounds the read-only tool worker pool width.
	// Default: 8.
	MaxParallelReads int `yaml:"max_parallel_reads"`

	// ToolTimeout bounds a single tool call, in seconds. Default: 30
	// (spec.md §5's per-tool default).
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
}

// Load reads and decodes a config file at path, resolving $include
// directives and validating its version.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dispatch.MaxParallelReads <= 0 {
		cfg.Dispatch.MaxParallelReads = 8
	}
	if cfg.Dispatch.ToolTimeoutSeconds <= 0 {
		cfg.Dispatch.ToolTimeoutSeconds = 30
	}
	if cfg.Compaction.ReserveTokens <= 0 {
		cfg.Compaction.ReserveTokens = 16384
	}
	if cfg.Compaction.KeepRecentTokens <= 0 {
		cfg.Compaction.KeepRecentTokens = 20000
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 15
	}
	if cfg.Agent.SummaryProvider == "" {
		cfg.Agent.SummaryProvider = "openai-compatible"
	}
	if cfg.LLM.MaxContextTokens <= 0 {
		cfg.LLM.MaxContextTokens = 200000
	}
	if cfg.Session.MaxHistoryMessages <= 0 {
		cfg.Session.MaxHistoryMessages = 5000
	}
}
