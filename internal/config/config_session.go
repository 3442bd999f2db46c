package config

// SessionConfig controls session-scoped history limits (spec.md §3's
// ownership section). Persistence to disk is explicitly out of scope
// (spec.md §1 Non-goals), so unlike the teacher this has no reset/scoping
// knobs tied to chat-platform channels.
type SessionConfig struct {
	// MaxHistoryMessages backstops unbounded in-memory growth independent
	// of compaction. Default: 5000.
	MaxHistoryMessages int `yaml:"max_history_messages"`
}
