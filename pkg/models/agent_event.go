package models

import "time"

// AgentEventType tags the nine event kinds the Event Stream Interpreter
// consumes and re-emits, per spec.md §4.2. agent_start/turn_start/
// message_start/message_update/message_end/turn_end/agent_end originate
// from the model stream producer; tool_execution_start/tool_execution_end
// are synthesized by the Tool Dispatcher itself.
type AgentEventType string

const (
	EventAgentStart       AgentEventType = "agent_start"
	EventTurnStart        AgentEventType = "turn_start"
	EventMessageStart     AgentEventType = "message_start"
	EventMessageUpdate    AgentEventType = "message_update"
	EventMessageEnd       AgentEventType = "message_end"
	EventToolExecStart    AgentEventType = "tool_execution_start"
	EventToolExecEnd      AgentEventType = "tool_execution_end"
	EventTurnEnd          AgentEventType = "turn_end"
	EventAgentEnd         AgentEventType = "agent_end"
)

// DeltaKind tags the content carried by a message_update event.
type DeltaKind string

const (
	DeltaText     DeltaKind = "text"
	DeltaThinking DeltaKind = "thinking"
	DeltaToolCall DeltaKind = "tool_call"
)

// AgentEvent is the tagged event union of spec.md §4.2. Exactly one payload
// field is populated for a given Type; Sequence is a monotonic per-run
// counter used to deduplicate usage between message_end and turn_end
// (spec.md §9's "usage deduplication" design note, resolved in DESIGN.md by
// tagging with this sequence rather than relying on object identity).
type AgentEvent struct {
	Type     AgentEventType `json:"type"`
	Time     time.Time      `json:"time"`
	Sequence uint64         `json:"seq"`
	RunID    string         `json:"run_id,omitempty"`

	MessageStart  *MessageStartPayload  `json:"message_start,omitempty"`
	MessageUpdate *MessageUpdatePayload `json:"message_update,omitempty"`
	MessageEnd    *MessageEndPayload    `json:"message_end,omitempty"`
	ToolExec      *ToolExecPayload      `json:"tool_exec,omitempty"`
	TurnEnd       *TurnEndPayload       `json:"turn_end,omitempty"`
	Error         *StreamErrorPayload   `json:"error,omitempty"`
}

// MessageStartPayload accompanies message_start.
type MessageStartPayload struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
}

// MessageUpdatePayload accompanies message_update: a partial content delta.
type MessageUpdatePayload struct {
	Kind    DeltaKind `json:"kind"`
	Content string    `json:"content"`
}

// MessageEndPayload accompanies message_end: the finalized message and any
// usage attached by the producer.
type MessageEndPayload struct {
	Message Message `json:"message"`
	Usage   *Usage  `json:"usage,omitempty"`
}

// ToolExecPayload accompanies tool_execution_start/tool_execution_end,
// synthesized by the Tool Dispatcher rather than the model stream.
type ToolExecPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Args       []byte `json:"args,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Result     string `json:"result,omitempty"`
}

// TurnEndPayload accompanies turn_end: the complete assistant message for
// the turn plus any tool results folded in, and usage (subject to the same
// dedup rule as message_end).
type TurnEndPayload struct {
	AssistantMessage Message  `json:"assistant_message"`
	ToolReturns      []Message `json:"tool_returns,omitempty"`
	Usage            *Usage   `json:"usage,omitempty"`
}

// StreamErrorPayload standardizes a terminal stream error, including the
// provider's context-overflow signal (spec.md §6.1).
type StreamErrorPayload struct {
	Message         string `json:"message"`
	ContextOverflow bool   `json:"context_overflow,omitempty"`
	Err             error  `json:"-"`
}
