// Package compaction implements the context compaction controller of
// spec.md §4.4: it estimates token usage, decides whether a request-time
// context window is over threshold, and replaces the oldest portion of
// history with a generated summary while preserving a protected recent tail.
//
// Grounded on three teacher subsystems merged into one package: the token
// estimate/chunk algorithm of internal/compaction/compaction.go
// (CharsPerToken=4), the synthetic summary message convention of
// internal/sessions/compaction.go, and the SummaryProvider injection seam of
// internal/agent/context/summarize.go. The exact thresholds, skip-reason
// enum, and outcome shape are ported from
// original_source/core/compaction/controller.py, which already agrees with
// spec.md's stated defaults.
package compaction

import (
	"errors"

	"github.com/tunacode/agentcore/pkg/models"
)

// CharsPerToken is the approximate character-to-token ratio used for
// estimation, carried from the teacher's internal/compaction/compaction.go.
const CharsPerToken = 4

// DefaultKeepRecentTokens is the minimum protected tail of recent history,
// by estimated token count, a compaction pass must never summarize away.
const DefaultKeepRecentTokens = 20_000

// DefaultReserveTokens is the output/response budget subtracted from the
// model's context window before computing the trigger threshold.
const DefaultReserveTokens = 16_384

// SummaryHeader prefixes every synthetic summary message injected into
// model-facing history, matching models.CompactionSummaryHeader.
const SummaryHeader = "[Compaction summary]"

// Reason explains why check_and_compact produced a skip, failure, or
// success outcome.
type Reason string

const (
	ReasonAlreadyCompacted      Reason = "already_compacted"
	ReasonAutoDisabled          Reason = "auto_disabled"
	ReasonBelowThreshold        Reason = "below_threshold"
	ReasonThresholdNotAllowed   Reason = "threshold_not_allowed"
	ReasonNoValidBoundary       Reason = "no_valid_boundary"
	ReasonNoCompactableMessages Reason = "no_compactable_messages"
	ReasonSummarizationFailed   Reason = "summarization_failed"
	ReasonUnsupportedProvider   Reason = "unsupported_provider"
	ReasonMissingAPIKey         Reason = "missing_api_key"
	ReasonCompacted             Reason = "compacted"
)

// Status is the terminal outcome class of a compaction attempt.
type Status string

const (
	StatusCompacted Status = "compacted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ErrMissingSummaryAPIKey is returned by a SummaryProvider whose backing
// model requires credentials that were never configured, classified by
// compact() into ReasonMissingAPIKey rather than the generic
// ReasonSummarizationFailed.
var ErrMissingSummaryAPIKey = errors.New("compaction: missing summary model API key")

// UnsupportedProviderError is returned by a SummaryProvider constructed
// against a summary_provider config value it doesn't implement, classified
// by compact() into ReasonUnsupportedProvider (spec.md §4.4's "provider
// lacks an OpenAI-compatible endpoint for the summary model" skip outcome).
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return "compaction: unsupported summary provider: " + e.Provider
}

// Outcome is the result of CheckAndCompact/ForceCompact: either the
// untouched input (skipped/failed) or a retained tail with the compacted
// prefix folded into the session's CompactionRecord (compacted).
type Outcome struct {
	Status   Status
	Reason   Reason
	Detail   string
	Messages []models.Message
}

// Notice returns a user-facing explanation for a skip/failure outcome, or
// "" for a successful compaction (which needs no notice) or an
// uninteresting skip (below threshold — the common case, not worth
// surfacing). Grounded on original_source/core/compaction/controller.py's
// build_compaction_notice.
func (o Outcome) Notice() string {
	switch o.Reason {
	case ReasonUnsupportedProvider:
		model := o.Detail
		if model == "" {
			model = "<unknown-model>"
		}
		return "Compaction skipped: unsupported summarization provider (" + model + ")."
	case ReasonMissingAPIKey:
		return "Compaction skipped: missing API key for the summary model."
	case ReasonSummarizationFailed:
		return "Compaction failed during summarization; keeping existing history."
	default:
		return ""
	}
}
