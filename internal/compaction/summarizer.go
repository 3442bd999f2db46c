package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/tunacode/agentcore/pkg/models"
)

// SummaryProvider generates a natural-language summary of a message slice.
// Injected so the controller never hard-codes a model backend; the agent
// core wires in the same LLM provider used for the main request loop, or a
// dedicated summary model, per Config.LLM.SummaryModel (spec.md §4.4's
// "dedicated model call" design note).
type SummaryProvider interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Summarizer estimates token usage and computes retention boundaries,
// grounded on the teacher's internal/compaction/compaction.go estimation
// heuristic and internal/agent/context/summarize.go's summarizer shape.
type Summarizer struct {
	provider SummaryProvider
}

// NewSummarizer wraps a SummaryProvider.
func NewSummarizer(provider SummaryProvider) *Summarizer {
	return &Summarizer{provider: provider}
}

// EstimateTokens approximates a message's token cost from its rendered
// text content, at CharsPerToken characters per token (ceiling division).
func EstimateTokens(msg models.Message) int {
	chars := 0
	for _, p := range msg.Parts {
		chars += len(p.Content) + len(p.ToolName) + len(p.Args)
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessagesTokens sums EstimateTokens across a history slice.
func EstimateMessagesTokens(history []models.Message) int {
	total := 0
	for _, msg := range history {
		total += EstimateTokens(msg)
	}
	return total
}

// RetentionBoundary returns the index at which history should be split
// into a compactable prefix (history[:boundary]) and a protected recent
// tail (history[boundary:]), walking backward from the end until
// keepRecentTokens worth of messages is reserved. Returns 0 (nothing
// compactable) if the whole history already fits in the protected tail.
// The raw token-count boundary is then adjusted backward, if needed, to
// the nearest turn boundary so a TOOL_CALL is never split from its
// matching TOOL_RETURN (spec.md §4.4 step 1).
func RetentionBoundary(history []models.Message, keepRecentTokens int) int {
	if len(history) == 0 {
		return 0
	}
	kept := 0
	boundary := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		kept += EstimateTokens(history[i])
		if kept > keepRecentTokens {
			boundary = i + 1
			break
		}
		boundary = i
	}
	return adjustToTurnBoundary(history, boundary)
}

// ForceRetentionBoundary is RetentionBoundary's forced-compaction variant:
// it always leaves at least the final message untouched (the caller's
// latest turn must never be summarized away), regardless of token budget.
// The boundary is likewise adjusted backward to the nearest turn boundary.
func ForceRetentionBoundary(history []models.Message) int {
	if len(history) <= 1 {
		return 0
	}
	return adjustToTurnBoundary(history, len(history)-1)
}

// adjustToTurnBoundary walks boundary backward, if necessary, until
// history[:boundary] contains a matching TOOL_RETURN for every TOOL_CALL it
// contains — i.e. the split never separates a call from its return, per
// spec.md §4.4's "suffix begins at a turn boundary ... respects invariants"
// requirement. Returns 0 if no prefix index satisfies that (history is too
// tightly coupled to split at all), which the caller treats as "no valid
// boundary".
func adjustToTurnBoundary(history []models.Message, boundary int) int {
	for b := boundary; b > 0; b-- {
		if prefixIsSelfContained(history[:b]) {
			return b
		}
	}
	return 0
}

// prefixIsSelfContained reports whether every TOOL_CALL part in prefix has a
// matching TOOL_RETURN part also within prefix.
func prefixIsSelfContained(prefix []models.Message) bool {
	calls := map[string]bool{}
	returns := map[string]bool{}
	for _, msg := range prefix {
		for _, p := range msg.Parts {
			switch p.Type {
			case models.PartToolCall:
				calls[p.ToolCallID] = true
			case models.PartToolReturn:
				returns[p.ToolCallID] = true
			}
		}
	}
	for id := range calls {
		if !returns[id] {
			return false
		}
	}
	return true
}

// Summarize renders compactable into a prompt, calls the provider, and
// folds in previousSummary so repeated compactions stay coherent rather
// than discarding earlier context.
func (s *Summarizer) Summarize(ctx context.Context, compactable []models.Message, previousSummary string, maxLength int) (string, error) {
	prompt := buildSummarizationPrompt(compactable, previousSummary, maxLength)
	summary, err := s.provider.Summarize(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("compaction: summarize: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("compaction: summary model returned empty content")
	}
	if maxLength > 0 && len(summary) > maxLength {
		summary = summary[:maxLength]
	}
	return summary, nil
}

// buildSummarizationPrompt is grounded on internal/agent/context/
// summarize.go's BuildSummarizationPrompt, adapted to the Part-based
// message model.
func buildSummarizationPrompt(history []models.Message, previousSummary string, maxLength int) string {
	var sb strings.Builder
	sb.WriteString("Please summarize the following conversation concisely. ")
	fmt.Fprintf(&sb, "Keep the summary under %d characters. ", maxLength)
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")

	if previousSummary != "" {
		sb.WriteString("Prior summary (fold this in, do not discard it):\n")
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Conversation:\n\n")
	for _, m := range history {
		fmt.Fprintf(&sb, "[%s]: ", m.Role)
		for _, p := range m.Parts {
			switch p.Type {
			case models.PartText, models.PartThought:
				sb.WriteString(p.Content)
			case models.PartToolCall:
				fmt.Fprintf(&sb, "\n  [Called tool: %s]", p.ToolName)
			case models.PartToolReturn:
				content := p.Content
				if len(content) > 200 {
					content = content[:200] + "..."
				}
				fmt.Fprintf(&sb, "\n  [Tool result: %s]", content)
			}
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString("---\nProvide a concise summary:")
	return sb.String()
}
