package compaction

import (
	"context"
	"errors"
	"testing"

	"github.com/tunacode/agentcore/pkg/models"
)

type fakeProvider struct {
	summary string
	err     error
}

func (f fakeProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func longMessage(n int) models.Message {
	content := make([]byte, n)
	for i := range content {
		content[i] = 'x'
	}
	return models.NewUserMessage(string(content))
}

func TestController_BelowThresholdSkips(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{summary: "s"}), 20_000, 16_384)
	history := []models.Message{models.NewUserMessage("hi")}

	outcome, _ := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100_000, false, true)

	if outcome.Status != StatusSkipped || outcome.Reason != ReasonBelowThreshold {
		t.Fatalf("expected below-threshold skip, got %+v", outcome)
	}
}

func TestController_CompactsOverThreshold(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{summary: "summary text"}), 10, 0)
	history := []models.Message{
		longMessage(400),
		longMessage(400),
		models.NewUserMessage("recent"),
	}

	outcome, record := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status != StatusCompacted {
		t.Fatalf("expected compaction, got %+v", outcome)
	}
	if record.Summary != "summary text" {
		t.Fatalf("expected record to carry the new summary, got %+v", record)
	}
	if record.CompactionCount != 1 {
		t.Fatalf("expected compaction count 1, got %d", record.CompactionCount)
	}
}

func TestController_AlreadyCompactedThisRequestSkips(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{summary: "s"}), 10, 0)
	history := []models.Message{longMessage(1000), longMessage(1000)}

	_, _ = c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)
	outcome, _ := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status != StatusSkipped || outcome.Reason != ReasonAlreadyCompacted {
		t.Fatalf("expected already-compacted skip on second call, got %+v", outcome)
	}
}

func TestController_ResetRequestStateAllowsRecompaction(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{summary: "s"}), 10, 0)
	history := []models.Message{longMessage(1000), longMessage(1000)}

	c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)
	c.ResetRequestState()
	outcome, _ := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status == StatusSkipped && outcome.Reason == ReasonAlreadyCompacted {
		t.Fatalf("expected reset to allow a fresh compaction attempt, got %+v", outcome)
	}
}

func TestController_SummarizationFailureReturnsFailedStatus(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{err: errors.New("boom")}), 10, 0)
	history := []models.Message{longMessage(1000), longMessage(1000)}

	outcome, record := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status != StatusFailed || outcome.Reason != ReasonSummarizationFailed {
		t.Fatalf("expected summarization failure, got %+v", outcome)
	}
	if record.CompactionCount != 0 {
		t.Fatalf("expected record untouched on failure, got %+v", record)
	}
}

func TestController_UnsupportedProviderClassifiesReason(t *testing.T) {
	provider := NewOpenAICompatibleProvider("not-a-real-provider", "key", "", "")
	c := NewController(NewSummarizer(provider), 10, 0)
	history := []models.Message{longMessage(1000), longMessage(1000)}

	outcome, record := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status != StatusFailed || outcome.Reason != ReasonUnsupportedProvider {
		t.Fatalf("expected unsupported-provider failure, got %+v", outcome)
	}
	if outcome.Detail != "not-a-real-provider" {
		t.Fatalf("expected detail to carry the provider name, got %q", outcome.Detail)
	}
	if record.CompactionCount != 0 {
		t.Fatalf("expected record untouched on failure, got %+v", record)
	}
}

func TestController_MissingAPIKeyClassifiesReason(t *testing.T) {
	provider := NewOpenAICompatibleProvider("openai-compatible", "", "", "")
	c := NewController(NewSummarizer(provider), 10, 0)
	history := []models.Message{longMessage(1000), longMessage(1000)}

	outcome, _ := c.CheckAndCompact(context.Background(), models.CompactionRecord{}, history, 100, false, true)

	if outcome.Status != StatusFailed || outcome.Reason != ReasonMissingAPIKey {
		t.Fatalf("expected missing-api-key failure, got %+v", outcome)
	}
}

func TestController_ForceCompactBypassesThreshold(t *testing.T) {
	c := NewController(NewSummarizer(fakeProvider{summary: "s"}), 20_000, 16_384)
	history := []models.Message{models.NewUserMessage("a"), models.NewUserMessage("b")}

	outcome, _ := c.ForceCompact(context.Background(), models.CompactionRecord{}, history, 1_000_000)

	if outcome.Status != StatusCompacted {
		t.Fatalf("expected forced compaction to bypass the threshold check, got %+v", outcome)
	}
}

func TestInjectSummaryMessage_PrependsOnce(t *testing.T) {
	record := models.CompactionRecord{Summary: "earlier context"}
	history := []models.Message{models.NewUserMessage("continue")}

	injected := InjectSummaryMessage(record, history)
	if len(injected) != 2 {
		t.Fatalf("expected summary message prepended, got %d messages", len(injected))
	}

	twice := InjectSummaryMessage(record, injected)
	if len(twice) != 2 {
		t.Fatalf("expected idempotent injection, got %d messages", len(twice))
	}
}

func TestInjectSummaryMessage_NoSummaryIsNoop(t *testing.T) {
	history := []models.Message{models.NewUserMessage("hi")}
	out := InjectSummaryMessage(models.CompactionRecord{}, history)
	if len(out) != 1 {
		t.Fatalf("expected no injection without a summary, got %d messages", len(out))
	}
}

func TestRetentionBoundary_ProtectsRecentTail(t *testing.T) {
	history := []models.Message{longMessage(4000), models.NewUserMessage("recent")}
	boundary := RetentionBoundary(history, 10)
	if boundary != 1 {
		t.Fatalf("expected boundary to protect only the recent tail, got %d", boundary)
	}
}

func TestForceRetentionBoundary_AlwaysKeepsLastMessage(t *testing.T) {
	history := []models.Message{models.NewUserMessage("a"), models.NewUserMessage("b"), models.NewUserMessage("c")}
	if got := ForceRetentionBoundary(history); got != 2 {
		t.Fatalf("expected boundary len-1, got %d", got)
	}
}

// toolCallAndReturn builds the two-message pair a turn's tool call/return
// produces, so boundary tests can assert a raw token-count split never
// lands between them.
func toolCallAndReturn(id string) []models.Message {
	return []models.Message{
		{Role: models.RoleAssistant, Parts: []models.Part{models.ToolCall(id, "some_tool", nil)}},
		models.NewToolReturnMessage(id, "result"),
	}
}

func TestRetentionBoundary_NeverSplitsToolCallFromItsReturn(t *testing.T) {
	history := []models.Message{longMessage(4000)}
	history = append(history, toolCallAndReturn("call-1")...)
	history = append(history, models.NewUserMessage("recent"))

	// keepRecentTokens is tuned so the raw token-count walk would otherwise
	// land the boundary between the TOOL_CALL and its TOOL_RETURN message
	// (index 2, right after the call at index 1).
	boundary := RetentionBoundary(history, EstimateTokens(history[3])+EstimateTokens(history[2])+1)

	if boundary == 2 {
		t.Fatalf("boundary split a TOOL_CALL from its TOOL_RETURN: %d", boundary)
	}
	if !prefixIsSelfContained(history[:boundary]) {
		t.Fatalf("expected adjusted boundary %d to leave a self-contained prefix", boundary)
	}
}

func TestForceRetentionBoundary_NeverSplitsToolCallFromItsReturn(t *testing.T) {
	history := append([]models.Message{models.NewUserMessage("earlier")}, toolCallAndReturn("call-1")...)

	// len(history)-1 == 2, which would otherwise split the pair added above.
	boundary := ForceRetentionBoundary(history)

	if boundary == 2 {
		t.Fatalf("boundary split a TOOL_CALL from its TOOL_RETURN: %d", boundary)
	}
	if !prefixIsSelfContained(history[:boundary]) {
		t.Fatalf("expected adjusted boundary %d to leave a self-contained prefix", boundary)
	}
}

func TestAdjustToTurnBoundary_NoValidBoundaryReturnsZero(t *testing.T) {
	history := toolCallAndReturn("call-1")
	if got := adjustToTurnBoundary(history, 1); got != 0 {
		t.Fatalf("expected no valid boundary within a single call/return pair, got %d", got)
	}
}
