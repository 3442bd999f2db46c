package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tunacode/agentcore/pkg/models"
)

// EventEmitter generates and dispatches the nine-variant models.AgentEvent
// stream of spec.md §4.2 with proper monotonic sequencing. The Event Stream
// Interpreter consumes the model provider's own agent_start/turn_start/
// message_*/turn_end/agent_end events verbatim (re-stamping only Sequence
// and RunID); the Tool Dispatcher uses this same emitter to synthesize
// tool_execution_start/tool_execution_end, since spec.md §4.2 states those
// two variants originate from the dispatcher, not the model.
type EventEmitter struct {
	runID    string
	sequence uint64

	sink EventSink
}

// NewEventEmitter creates a new event emitter for an agent run with the given sink.
// If sink is nil, a NopSink is used.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink}
}

// nextSeq returns the next sequence number (atomic, monotonic). Sequence
// tags every event regardless of kind and is the mechanism spec.md §9's
// "usage deduplication" design note resolves to: a monotonic counter rather
// than relying on value/object identity to tell a message_end's usage apart
// from the turn_end's usage for the same turn.
func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *EventEmitter) base(eventType models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Type:     eventType,
		Time:     time.Now(),
		Sequence: e.nextSeq(),
		RunID:    e.runID,
	}
}

func (e *EventEmitter) emit(ctx context.Context, event models.AgentEvent) models.AgentEvent {
	if e.sink != nil {
		e.sink.Emit(ctx, event)
	}
	return event
}

// AgentStart emits agent_start: the stream has opened.
func (e *EventEmitter) AgentStart(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.EventAgentStart))
}

// AgentEnd emits agent_end: the stream has closed, exactly once.
func (e *EventEmitter) AgentEnd(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.EventAgentEnd))
}

// TurnStart emits turn_start: the model is beginning a new turn.
func (e *EventEmitter) TurnStart(ctx context.Context) models.AgentEvent {
	return e.emit(ctx, e.base(models.EventTurnStart))
}

// TurnEnd emits turn_end: the turn has closed, carrying the complete
// assistant message, any folded-in tool returns, and usage (subject to the
// Sequence-based dedup rule against that turn's message_end).
func (e *EventEmitter) TurnEnd(ctx context.Context, assistant models.Message, toolReturns []models.Message, usage *models.Usage) models.AgentEvent {
	event := e.base(models.EventTurnEnd)
	event.TurnEnd = &models.TurnEndPayload{AssistantMessage: assistant, ToolReturns: toolReturns, Usage: usage}
	return e.emit(ctx, event)
}

// MessageStart emits message_start: a new message begins.
func (e *EventEmitter) MessageStart(ctx context.Context, role models.Role, id string) models.AgentEvent {
	event := e.base(models.EventMessageStart)
	event.MessageStart = &models.MessageStartPayload{Role: role, ID: id}
	return e.emit(ctx, event)
}

// MessageUpdate emits message_update: a partial content delta.
func (e *EventEmitter) MessageUpdate(ctx context.Context, kind models.DeltaKind, content string) models.AgentEvent {
	event := e.base(models.EventMessageUpdate)
	event.MessageUpdate = &models.MessageUpdatePayload{Kind: kind, Content: content}
	return e.emit(ctx, event)
}

// MessageEnd emits message_end: the finalized message, plus any usage the
// producer attached to it.
func (e *EventEmitter) MessageEnd(ctx context.Context, msg models.Message, usage *models.Usage) models.AgentEvent {
	event := e.base(models.EventMessageEnd)
	event.MessageEnd = &models.MessageEndPayload{Message: msg, Usage: usage}
	return e.emit(ctx, event)
}

// ToolExecutionStart emits tool_execution_start, synthesized by the Tool
// Dispatcher (not the model) when a registered call transitions to RUNNING.
func (e *EventEmitter) ToolExecutionStart(ctx context.Context, callID, name string, args []byte) models.AgentEvent {
	event := e.base(models.EventToolExecStart)
	event.ToolExec = &models.ToolExecPayload{ToolCallID: callID, ToolName: name, Args: args}
	return e.emit(ctx, event)
}

// ToolExecutionEnd emits tool_execution_end, synthesized by the Tool
// Dispatcher when a call reaches a terminal status.
func (e *EventEmitter) ToolExecutionEnd(ctx context.Context, callID, name string, isError bool, result string) models.AgentEvent {
	event := e.base(models.EventToolExecEnd)
	event.ToolExec = &models.ToolExecPayload{ToolCallID: callID, ToolName: name, IsError: isError, Result: result}
	return e.emit(ctx, event)
}

// StreamError emits a terminal stream error (model_stream_error or a
// provider-surfaced context-overflow signal, spec.md §6.1). It carries no
// dedicated AgentEventType of its own; callers inspect the Error field on
// whichever event it accompanies, matching the "error field on the final
// message" contract of spec.md §6.1.
func (e *EventEmitter) StreamError(ctx context.Context, eventType models.AgentEventType, message string, contextOverflow bool, err error) models.AgentEvent {
	event := e.base(eventType)
	event.Error = &models.StreamErrorPayload{Message: message, ContextOverflow: contextOverflow, Err: err}
	return e.emit(ctx, event)
}
