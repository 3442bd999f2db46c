// Event Stream Interpreter (spec.md §4.2): consumes the model provider's
// tagged event stream, reconstitutes the complete assistant message for a
// turn, forwards deltas to the UI sink/callbacks, and detects context
// overflow and truncation.
//
// Grounded on the teacher's internal/agent/event_emitter.go and
// event_sink.go idioms (tagged event forwarding), generalized to consume
// rather than produce events.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tunacode/agentcore/pkg/models"
)

// TurnOutcome is what one model turn yields to the Request Orchestrator.
type TurnOutcome struct {
	AssistantMessage models.Message
	Usage            *models.Usage
	Truncated        bool
	ContextOverflow  bool
}

// InterpretTurn drains a provider's event channel for one model turn. It
// forwards message_start/message_update/message_end events to sink
// verbatim (the streaming content the UI needs) but consumes turn_end and
// agent_end internally: the Request Orchestrator re-publishes its own
// enriched turn_end (with tool returns folded in) once the Tool Dispatcher
// has run, per spec.md §4.2's "turn_end | complete assistant message + tool
// results" contract.
//
// Usage is accumulated only from turn_end (falling back to the last
// message_end if the provider never emits turn_end), avoiding the
// double-count spec.md §9 flags: the same usage value commonly appears on
// both events. seen de-duplicates by event sequence number in case of
// redelivery, per DESIGN.md's resolution of that open question.
func InterpretTurn(ctx context.Context, events <-chan models.AgentEvent, sink EventSink, cbs CallbackSet, seen map[uint64]bool) (TurnOutcome, error) {
	var outcome TurnOutcome
	var sawMessageEnd bool

	for {
		select {
		case <-ctx.Done():
			return outcome, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				outcome.Truncated = computeTruncated(outcome.AssistantMessage)
				return outcome, nil
			}
			if seen != nil {
				if seen[ev.Sequence] {
					continue
				}
				seen[ev.Sequence] = true
			}

			if ev.Error != nil {
				overflow := ev.Error.ContextOverflow || matchesOverflowPattern(ev.Error.Message)
				outcome.ContextOverflow = overflow
				return outcome, fmt.Errorf("model stream error: %s", ev.Error.Message)
			}

			switch ev.Type {
			case models.EventAgentStart, models.EventTurnStart, models.EventMessageStart:
				emitTo(ctx, sink, ev)

			case models.EventMessageUpdate:
				emitTo(ctx, sink, ev)
				if ev.MessageUpdate != nil && cbs.OnStreamDelta != nil {
					cbs.OnStreamDelta(ev.MessageUpdate.Content)
				}

			case models.EventMessageEnd:
				emitTo(ctx, sink, ev)
				if ev.MessageEnd != nil {
					sawMessageEnd = true
					outcome.AssistantMessage = ev.MessageEnd.Message
					if ev.MessageEnd.Usage != nil {
						outcome.Usage = addUsage(outcome.Usage, ev.MessageEnd.Usage)
					}
				}

			case models.EventTurnEnd:
				if ev.TurnEnd != nil {
					outcome.AssistantMessage = ev.TurnEnd.AssistantMessage
					if ev.TurnEnd.Usage != nil && sawMessageEnd {
						// Usage already accounted for at message_end; the
						// provider commonly repeats the same totals here.
					} else if ev.TurnEnd.Usage != nil {
						outcome.Usage = addUsage(outcome.Usage, ev.TurnEnd.Usage)
					}
				}
				outcome.Truncated = computeTruncated(outcome.AssistantMessage)
				return outcome, nil

			case models.EventAgentEnd:
				outcome.Truncated = computeTruncated(outcome.AssistantMessage)
				return outcome, nil
			}
		}
	}
}

func emitTo(ctx context.Context, sink EventSink, ev models.AgentEvent) {
	if sink != nil {
		sink.Emit(ctx, ev)
	}
}

func computeTruncated(msg models.Message) bool {
	if msg.HasToolCalls() {
		return false
	}
	return DetectTruncation(msg.TextContent())
}

func addUsage(acc *models.Usage, delta *models.Usage) *models.Usage {
	if acc == nil {
		sum := *delta
		return &sum
	}
	sum := acc.Add(*delta)
	return &sum
}

func matchesOverflowPattern(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range ContextOverflowPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
