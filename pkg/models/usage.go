package models

// Usage carries per-call token and cost accounting, per spec.md §3.
type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CachedTokens     int64   `json:"cached_tokens"`
	Cost             float64 `json:"cost"`
}

// Add returns the element-wise sum of two Usage values.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
		Cost:             u.Cost + other.Cost,
	}
}

// Total returns prompt + completion tokens (cached tokens are a subset of
// prompt tokens and are not double-counted).
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// CompactionRecord is the process-wide session state tracking the current
// summary and its history, per spec.md §3.
type CompactionRecord struct {
	Summary               string
	CompactedMessageCount int
	TokensBefore          int
	TokensAfter           int
	CompactionCount       int
	PreviousSummary       string
	LastCompactedAt       string
}
