package config

// LLMConfig configures the single wired model provider (spec.md §1: only the
// event-stream contract is in scope, so only one concrete backend is kept —
// see DESIGN.md for why the teacher's other five provider adapters were
// dropped).
type LLMConfig struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// MaxContextTokens is the model's effective context window, used by
	// the Compaction Controller's trigger formula (spec.md §4.4).
	MaxContextTokens int `yaml:"max_context_tokens"`

	// SummaryModel, if set, is used for compaction summarization calls
	// instead of DefaultModel (spec.md §4.4).
	SummaryModel string `yaml:"summary_model"`
}

// CompactionConfig controls the Compaction Controller's trigger thresholds
// (spec.md §4.4).
type CompactionConfig struct {
	// ReserveTokens is the output/response budget subtracted from the
	// model's context window before computing the trigger threshold.
	// Default: 16384.
	ReserveTokens int `yaml:"reserve_tokens"`

	// KeepRecentTokens is the minimum tail of recent history, by estimated
	// token count, that a compaction pass must never summarize away.
	// Default: 20000.
	KeepRecentTokens int `yaml:"keep_recent_tokens"`

	// MaxSummaryLength caps the generated summary's length in characters.
	MaxSummaryLength int `yaml:"max_summary_length"`
}
