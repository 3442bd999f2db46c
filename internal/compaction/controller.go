package compaction

import (
	"context"
	"errors"
	"time"

	"github.com/tunacode/agentcore/pkg/models"
)

// StatusCallback is notified when a compaction pass starts/ends, so the
// Request Orchestrator can surface a "compacting..." CLI-visible state
// (spec.md §6.4) while the summary call is in flight.
type StatusCallback func(inProgress bool)

// Controller is the single entry point for threshold checks and forced
// compaction, grounded on
// original_source/core/compaction/controller.py's CompactionController.
type Controller struct {
	summarizer       *Summarizer
	keepRecentTokens int
	reserveTokens    int
	autoCompact      bool

	compactedThisRequest bool
	statusCallback       StatusCallback
}

// NewController builds a Controller with the teacher's defaults; pass 0 for
// keepRecentTokens/reserveTokens to accept DefaultKeepRecentTokens/
// DefaultReserveTokens.
func NewController(summarizer *Summarizer, keepRecentTokens, reserveTokens int) *Controller {
	if keepRecentTokens <= 0 {
		keepRecentTokens = DefaultKeepRecentTokens
	}
	if reserveTokens <= 0 {
		reserveTokens = DefaultReserveTokens
	}
	return &Controller{
		summarizer:       summarizer,
		keepRecentTokens: keepRecentTokens,
		reserveTokens:    reserveTokens,
		autoCompact:      true,
	}
}

// SetStatusCallback installs (or clears, with nil) the in-progress callback.
func (c *Controller) SetStatusCallback(cb StatusCallback) { c.statusCallback = cb }

// SetAutoCompact toggles the threshold-triggered path; ForceCompact always
// bypasses it.
func (c *Controller) SetAutoCompact(enabled bool) { c.autoCompact = enabled }

// ResetRequestState clears the per-request idempotency guard; the Request
// Orchestrator calls this once at the start of each new top-level request
// (spec.md §4.4's "at most once automatically per request" rule).
func (c *Controller) ResetRequestState() { c.compactedThisRequest = false }

// ShouldCompact reports whether estimated history tokens exceed the
// trigger threshold: maxContextTokens - reserveTokens - keepRecentTokens.
func (c *Controller) ShouldCompact(history []models.Message, maxContextTokens int) bool {
	if maxContextTokens <= 0 {
		return false
	}
	threshold := maxContextTokens - c.reserveTokens - c.keepRecentTokens
	if threshold < 0 {
		threshold = 0
	}
	return EstimateMessagesTokens(history) > threshold
}

// CheckAndCompact compacts history if policy allows it, otherwise returns a
// structured skip outcome explaining why (spec.md §4.4's skip-reason enum).
// allowThreshold lets a caller that already tried and failed a turn disable
// the threshold-triggered path for that turn without disabling auto-compact
// entirely.
func (c *Controller) CheckAndCompact(ctx context.Context, record models.CompactionRecord, history []models.Message, maxContextTokens int, force, allowThreshold bool) (Outcome, models.CompactionRecord) {
	if !force {
		switch {
		case c.compactedThisRequest:
			return c.skip(history, ReasonAlreadyCompacted), record
		case !allowThreshold:
			return c.skip(history, ReasonThresholdNotAllowed), record
		case !c.autoCompact:
			return c.skip(history, ReasonAutoDisabled), record
		case !c.ShouldCompact(history, maxContextTokens):
			return c.skip(history, ReasonBelowThreshold), record
		}
	}

	c.compactedThisRequest = true
	return c.compact(ctx, record, history, force)
}

// ForceCompact bypasses threshold checks and compacts immediately,
// regardless of the per-request idempotency guard (spec.md §4.4's forced
// variant, used on context-overflow retry).
func (c *Controller) ForceCompact(ctx context.Context, record models.CompactionRecord, history []models.Message, maxContextTokens int) (Outcome, models.CompactionRecord) {
	return c.CheckAndCompact(ctx, record, history, maxContextTokens, true, true)
}

// InjectSummaryMessage prepends a synthetic summary user message to
// model-facing history when record carries a non-empty summary and the
// history doesn't already start with one. It never mutates the session's
// stored history — the summary is model-facing only (spec.md §4.4).
func InjectSummaryMessage(record models.CompactionRecord, history []models.Message) []models.Message {
	summary := record.Summary
	if summary == "" {
		return history
	}
	if len(history) > 0 && history[0].IsCompactionSummary() {
		return history
	}
	out := make([]models.Message, 0, len(history)+1)
	out = append(out, models.Message{
		Role:  models.RoleUser,
		Parts: []models.Part{models.Text(models.CompactionSummaryHeader + "\n\n" + summary)},
	})
	out = append(out, history...)
	return out
}

func (c *Controller) compact(ctx context.Context, record models.CompactionRecord, history []models.Message, force bool) (Outcome, models.CompactionRecord) {
	var boundary int
	if force {
		boundary = ForceRetentionBoundary(history)
	} else {
		boundary = RetentionBoundary(history, c.keepRecentTokens)
	}
	if boundary <= 0 {
		return c.skip(history, ReasonNoValidBoundary), record
	}

	compactable := history[:boundary]
	retained := append([]models.Message{}, history[boundary:]...)
	if len(compactable) == 0 {
		return c.skip(history, ReasonNoCompactableMessages), record
	}

	c.announce(true)
	summary, err := c.summarizer.Summarize(ctx, compactable, record.Summary, 0)
	c.announce(false)
	if err != nil {
		var unsupported *UnsupportedProviderError
		switch {
		case errors.As(err, &unsupported):
			return Outcome{Status: StatusFailed, Reason: ReasonUnsupportedProvider, Detail: unsupported.Provider, Messages: history}, record
		case errors.Is(err, ErrMissingSummaryAPIKey):
			return Outcome{Status: StatusFailed, Reason: ReasonMissingAPIKey, Messages: history}, record
		default:
			return Outcome{Status: StatusFailed, Reason: ReasonSummarizationFailed, Detail: err.Error(), Messages: history}, record
		}
	}

	tokensBefore := EstimateMessagesTokens(history)
	retainedTokens := EstimateMessagesTokens(retained)
	summaryTokens := (len(summary) + CharsPerToken - 1) / CharsPerToken

	next := models.CompactionRecord{
		Summary:               summary,
		CompactedMessageCount: len(compactable),
		TokensBefore:          tokensBefore,
		TokensAfter:           retainedTokens + summaryTokens,
		CompactionCount:       record.CompactionCount + 1,
		PreviousSummary:       record.Summary,
		LastCompactedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	return Outcome{Status: StatusCompacted, Reason: ReasonCompacted, Messages: retained}, next
}

func (c *Controller) skip(history []models.Message, reason Reason) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason, Messages: history}
}

func (c *Controller) announce(inProgress bool) {
	if c.statusCallback != nil {
		c.statusCallback(inProgress)
	}
}
