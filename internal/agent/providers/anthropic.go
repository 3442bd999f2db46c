// Package providers adapts a concrete LLM vendor API to the core's
// provider-agnostic event stream contract (spec.md §6.1): the core never
// interprets the wire protocol, only the tagged models.AgentEvent union a
// provider produces. AnthropicProvider is the sole adapter kept from the
// teacher's six-provider internal/agent/providers package — spec.md §1 is
// explicit that the model HTTP client is an external collaborator whose
// "only its event stream contract is specified"; keeping every teacher
// backend would contradict that. See DESIGN.md for the pruning rationale.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tunacode/agentcore/internal/agent"
	"github.com/tunacode/agentcore/internal/agent/toolconv"
	"github.com/tunacode/agentcore/internal/backoff"
	"github.com/tunacode/agentcore/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API (required).
	APIKey string
	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string
	// MaxRetries bounds transient-failure retries before opening a stream.
	// Default: 3.
	MaxRetries int
	// RetryDelay is the base exponential-backoff delay. Default: 1s.
	RetryDelay time.Duration
	// DefaultModel is used when a TurnRequest leaves Model empty.
	DefaultModel string
	// MaxTokens bounds a single turn's generated tokens. Default: 4096.
	MaxTokens int
}

// AnthropicProvider implements agent.ModelProvider over Anthropic's Claude
// API. One StreamTurn call corresponds to exactly one model turn: it opens
// a streaming Messages call, translates Anthropic's SSE events into the
// tagged models.AgentEvent union, and closes the channel at the turn's
// natural end (message_stop), per spec.md §6.1's producer obligations.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider builds a provider from config, applying spec.md-
// independent sane defaults the way the teacher's NewAnthropicProvider did.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Name identifies the provider for logging and metrics.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// StreamTurn opens one streaming Messages call and translates it into the
// core's event channel, implementing agent.ModelProvider.
func (p *AnthropicProvider) StreamTurn(ctx context.Context, req agent.TurnRequest) (<-chan models.AgentEvent, error) {
	messages, err := convertHistory(req.History)
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic: convert history: %w", err)
	}
	tools, err := toolconv.ToAnthropicTools(req.Tools)
	if err != nil {
		return nil, fmt.Errorf("providers: anthropic: convert tools: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.resolveModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	events := make(chan models.AgentEvent)
	emitter := agent.NewEventEmitter("", agent.NewChanSink(events))
	go func() {
		defer close(events)

		stream, err := p.openStream(ctx, params)
		if err != nil {
			emitter.StreamError(ctx, models.EventMessageEnd, p.wrapError(err).Error(), p.isOverflow(err), err)
			return
		}
		p.drainStream(ctx, stream, emitter)
	}()
	return events, nil
}

// isOverflow reports whether err's message matches spec.md §6.1's
// context-overflow patterns.
func (p *AnthropicProvider) isOverflow(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range agent.ContextOverflowPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// openStream retries transient failures (rate limits, 5xx, timeouts) with
// exponential backoff before giving up, grounded on the teacher's
// Complete() retry loop but wired onto internal/backoff's policy/sleep
// helpers instead of a hand-rolled math.Pow computation.
func (p *AnthropicProvider) openStream(ctx context.Context, params anthropic.MessageNewParams) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	policy := backoff.BackoffPolicy{
		InitialMs: float64(p.retryDelay.Milliseconds()),
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		stream := p.client.Messages.NewStreaming(ctx, params)
		// NewStreaming defers the connection until the first Next() call, so
		// probe it once here to decide whether to retry.
		if stream.Next() {
			return &rewoundStream{Stream: stream, first: true}, nil
		}
		lastErr = stream.Err()
		if lastErr == nil {
			return &rewoundStream{Stream: stream, first: false}, nil
		}
		if !p.isRetryable(lastErr) {
			return nil, p.wrapError(lastErr)
		}
		if attempt >= p.maxRetries {
			break
		}
		if err := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(policy, attempt+1)); err != nil {
			return nil, err
		}
	}
	return nil, p.wrapError(fmt.Errorf("max retries exceeded: %w", lastErr))
}

// rewoundStream re-exposes the first event already consumed by openStream's
// retry probe to drainStream, since ssestream.Stream's Next/Current pair
// cannot be "ungotten".
type rewoundStream struct {
	*ssestream.Stream[anthropic.MessageStreamEventUnion]
	first bool
}

func (r *rewoundStream) Next() bool {
	if r.first {
		r.first = false
		return true
	}
	return r.Stream.Next()
}

// drainStream consumes Anthropic's SSE events and emits the corresponding
// models.AgentEvent union members through emitter, accumulating the turn's
// final message and usage per spec.md §4.2's message_end/turn_end contract.
func (p *AnthropicProvider) drainStream(ctx context.Context, stream *rewoundStream, emitter *agent.EventEmitter) {
	emitter.MessageStart(ctx, models.RoleAssistant, "")

	var parts []models.Part
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	inToolUse := false

	var inputTokens, outputTokens int64

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = ms.Message.Usage.InputTokens
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolID, currentToolName = toolUse.ID, toolUse.Name
				currentToolInput.Reset()
				inToolUse = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					emitter.MessageUpdate(ctx, models.DeltaText, delta.Text)
					parts = appendTextDelta(parts, delta.Text)
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					emitter.MessageUpdate(ctx, models.DeltaThinking, delta.Thinking)
					parts = appendThoughtDelta(parts, delta.Thinking)
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if inToolUse {
				args := json.RawMessage(currentToolInput.String())
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				parts = append(parts, models.ToolCall(currentToolID, currentToolName, args))
				emitter.MessageUpdate(ctx, models.DeltaToolCall, currentToolName)
				inToolUse = false
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = md.Usage.OutputTokens
			}

		case "message_stop":
			message := models.Message{Role: models.RoleAssistant, Parts: parts, Timestamp: time.Now()}
			usage := &models.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens}
			emitter.MessageEnd(ctx, message, usage)
			emitter.TurnEnd(ctx, message, nil, usage)
			return
		}
	}

	if err := stream.Err(); err != nil {
		emitter.StreamError(ctx, models.EventMessageEnd, p.wrapError(err).Error(), p.isOverflow(err), err)
	}
}

func appendTextDelta(parts []models.Part, text string) []models.Part {
	if n := len(parts); n > 0 && parts[n-1].Type == models.PartText {
		parts[n-1].Content += text
		return parts
	}
	return append(parts, models.Text(text))
}

func appendThoughtDelta(parts []models.Part, text string) []models.Part {
	if n := len(parts); n > 0 && parts[n-1].Type == models.PartThought {
		parts[n-1].Content += text
		return parts
	}
	return append(parts, models.Thought(text))
}

func (p *AnthropicProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return IsRetryable(p.wrapError(err))
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("anthropic", p.defaultModel, err).WithStatus(apiErr.StatusCode)
		if apiErr.RequestID != "" {
			providerErr = providerErr.WithRequestID(apiErr.RequestID)
		}
		return providerErr
	}
	return NewProviderError("anthropic", p.defaultModel, err)
}

// convertHistory translates canonical messages into Anthropic's wire shape.
// SYSTEM messages are skipped: spec.md §3 guarantees they never appear in
// history reaching a provider (the sanitizer strips them, and the system
// prompt is injected via params.System instead), but the adapter is
// defensive against a caller that bypasses the sanitizer.
func convertHistory(history []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.TextContent())))
		case models.RoleAssistant:
			blocks, err := assistantBlocks(msg)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			blocks, err := toolResultBlocks(msg)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func assistantBlocks(msg models.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch part.Type {
		case models.PartText:
			if part.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Content))
			}
		case models.PartToolCall:
			var input map[string]any
			if len(part.Args) > 0 {
				if err := json.Unmarshal(part.Args, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call args for %s: %w", part.ToolCallID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolName))
		}
	}
	return blocks, nil
}

func toolResultBlocks(msg models.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		if part.Type != models.PartToolReturn {
			continue
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolCallID, part.Content, false))
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("tool message %v has no TOOL_RETURN part", msg)
	}
	return blocks, nil
}
