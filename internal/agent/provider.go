package agent

import (
	"context"

	"github.com/tunacode/agentcore/pkg/models"
)

// TurnRequest is the input to a model provider's streaming call, per
// spec.md §6.1: system prompt, history, and tool schemas.
type TurnRequest struct {
	Model        string
	SystemPrompt string
	History      []models.Message
	Tools        []models.ToolDef
}

// ModelProvider is the external contract of §6.1: the core consumes an
// event stream and never interprets the model's wire protocol. A concrete
// adapter (internal/agent/providers) opens the streaming call and
// translates its deltas into the tagged models.AgentEvent union on the
// returned channel, closing it at agent_end or on error.
type ModelProvider interface {
	StreamTurn(ctx context.Context, req TurnRequest) (<-chan models.AgentEvent, error)

	// Name identifies the provider for logging, tracing attributes, and
	// metrics labels.
	Name() string
}

// ContextOverflowPatterns are the substrings spec.md §6.1 requires a
// provider to surface on context-overflow, matched case-insensitively.
var ContextOverflowPatterns = []string{"context_length_exceeded", "maximum context length"}
