package config

// AgentConfig controls the Request Orchestrator's driver loop (spec.md
// §4.1) and the Event Stream Interpreter's truncation heuristic (spec.md
// §4.2, §9).
type AgentConfig struct {
	// MaxIterations bounds the number of completed turns a single request
	// may run before failing with MAX_ITERATIONS_EXCEEDED. Default: 15,
	// per spec.md §4.1 (overriding the teacher's default of 10 — see
	// DESIGN.md's Open Question decision).
	MaxIterations int `yaml:"max_iterations"`

	// GlobalRequestTimeoutSeconds, if > 0, bounds the wall-clock duration
	// of a single process_request call. Zero means no global timeout.
	GlobalRequestTimeoutSeconds int `yaml:"global_request_timeout_seconds"`

	// TruncationHeuristicEnabled toggles agent.DetectTruncation. nil means
	// unset; TruncationEnabled() treats unset as true (spec.md §9 calls
	// the heuristic "a tunable predicate behind a feature flag").
	TruncationHeuristicEnabled *bool `yaml:"truncation_heuristic_enabled"`

	// SummaryProvider selects the compaction summarization backend.
	// "openai-compatible" is the only supported value today; anything
	// else fails compaction with ReasonUnsupportedProvider (spec.md §4.4).
	SummaryProvider string `yaml:"summary_provider"`
}

// TruncationEnabled reports the effective truncation-heuristic setting,
// defaulting to true when unset in config.
func (a AgentConfig) TruncationEnabled() bool {
	return a.TruncationHeuristicEnabled == nil || *a.TruncationHeuristicEnabled
}
