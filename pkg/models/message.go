// Package models defines the canonical conversation data model shared by the
// orchestrator, tool dispatcher, compaction controller, and sanitizer.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// PartType tags the variant carried by a Part.
type PartType string

const (
	PartText         PartType = "text"
	PartThought      PartType = "thought"
	PartSystemPrompt PartType = "system_prompt"
	PartToolCall     PartType = "tool_call"
	PartToolReturn   PartType = "tool_return"
)

// Part is a single tagged unit of message content. Exactly one variant's
// fields are meaningful for a given Type; Part is immutable once appended to
// a Message, per the ownership rules of the conversation history.
type Part struct {
	Type PartType

	// Content carries TEXT, THOUGHT, and SYSTEM_PROMPT payloads.
	Content string

	// ToolCallID is set on TOOL_CALL and TOOL_RETURN parts. For TOOL_RETURN
	// it is promoted to the owning Message's top-level tool_call_id field on
	// the wire (spec.md §6.3) rather than carried on the content block.
	ToolCallID string

	// ToolName and Args are set on TOOL_CALL parts.
	ToolName string
	Args     json.RawMessage
}

// Text constructs a TEXT part.
func Text(content string) Part { return Part{Type: PartText, Content: content} }

// Thought constructs a THOUGHT part (ASSISTANT-only by convention).
func Thought(content string) Part { return Part{Type: PartThought, Content: content} }

// SystemPrompt constructs a SYSTEM_PROMPT part (SYSTEM-only by convention).
func SystemPrompt(content string) Part { return Part{Type: PartSystemPrompt, Content: content} }

// ToolCall constructs a TOOL_CALL part (ASSISTANT-only by convention).
func ToolCall(id, name string, args json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, Args: args}
}

// ToolReturn constructs a TOOL_RETURN part (TOOL-only by convention).
func ToolReturn(id, content string) Part {
	return Part{Type: PartToolReturn, ToolCallID: id, Content: content}
}

// IsText reports whether the part carries meaningful text content for the
// purposes of "empty message" detection by the sanitizer.
func (p Part) IsMeaningful() bool {
	switch p.Type {
	case PartText, PartThought:
		return p.Content != ""
	case PartToolCall:
		return true
	default:
		return false
	}
}

type wirePart struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MarshalJSON renders the part in the persistence shape of spec.md §6.3:
// a discriminated "type" field plus variant-specific keys. TOOL_RETURN
// shares TEXT's "type":"text" content-block shape; its tool_call_id lives on
// the owning Message, not the part (see Message.MarshalJSON).
func (p Part) MarshalJSON() ([]byte, error) {
	w := wirePart{}
	switch p.Type {
	case PartText, PartSystemPrompt, PartToolReturn:
		w.Type = "text"
		w.Text = p.Content
	case PartThought:
		w.Type = "thinking"
		w.Thinking = p.Content
	case PartToolCall:
		w.Type = "tool_call"
		w.ID = p.ToolCallID
		w.Name = p.ToolName
		w.Arguments = p.Args
	default:
		return nil, fmt.Errorf("models: unknown part type %q", p.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reverses MarshalJSON, yielding a PartText for any
// "type":"text" content block. Message.UnmarshalJSON retags the result to
// PartSystemPrompt or PartToolReturn based on the owning role, since that
// distinction isn't recoverable from the content block alone.
func (p *Part) UnmarshalJSON(data []byte) error {
	var w wirePart
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	switch w.Type {
	case "text":
		*p = Text(w.Text)
	case "thinking":
		*p = Thought(w.Thinking)
	case "tool_call":
		*p = ToolCall(w.ID, w.Name, w.Arguments)
	default:
		return fmt.Errorf("models: unknown part wire type %q", w.Type)
	}
	return nil
}

// Message is one entry in the canonical conversation history.
type Message struct {
	Role  Role
	Parts []Part

	// ToolCallID is set on TOOL messages only; it serializes as the
	// message-level tool_call_id field spec.md §6.3 documents for
	// tool_result messages, mirroring the sole TOOL_RETURN part's ID.
	ToolCallID string

	// Usage carries the per-call token/cost accounting for an ASSISTANT
	// message's turn, serialized as the message-level "usage" object
	// spec.md §6.3 documents. Nil when not yet known (e.g. before the
	// turn completes) or not applicable to the role.
	Usage *Usage

	Timestamp time.Time
}

// wireMessage is the persisted shape of a Message, matching spec.md §6.3
// literally: "role" is "user"/"assistant"/"system"/"tool_result" (never the
// internal "tool"), tool_call_id and usage are top-level fields rather than
// nested in content blocks.
type wireMessage struct {
	Role       string    `json:"role"`
	Content    []Part    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// wireRole maps the internal Role to its spec.md §6.3 wire string.
func wireRole(r Role) string {
	if r == RoleTool {
		return "tool_result"
	}
	return string(r)
}

// parseWireRole reverses wireRole.
func parseWireRole(s string) (Role, error) {
	if s == "tool_result" {
		return RoleTool, nil
	}
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	default:
		return "", fmt.Errorf("models: unknown message wire role %q", s)
	}
}

// MarshalJSON renders the message in the persistence shape of spec.md §6.3.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: wireRole(m.Role), Timestamp: m.Timestamp}
	if m.Role == RoleTool {
		if len(m.Parts) != 1 || m.Parts[0].Type != PartToolReturn {
			return nil, fmt.Errorf("models: tool_result message must contain exactly one TOOL_RETURN part")
		}
		w.ToolCallID = m.Parts[0].ToolCallID
		w.Content = []Part{{Type: PartText, Content: m.Parts[0].Content}}
	} else {
		w.Content = m.Parts
	}
	if m.Role == RoleAssistant {
		w.Usage = m.Usage
	}
	return json.Marshal(w)
}

// UnmarshalJSON reverses MarshalJSON, retagging the sole content block of a
// tool_result message to PartToolReturn (carrying the promoted
// tool_call_id) and a system message's content blocks to PartSystemPrompt.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	role, err := parseWireRole(w.Role)
	if err != nil {
		return err
	}
	m.Role = role
	m.Timestamp = w.Timestamp
	m.Usage = w.Usage
	m.ToolCallID = w.ToolCallID

	switch role {
	case RoleTool:
		if len(w.Content) != 1 || w.Content[0].Type != PartText {
			return fmt.Errorf("models: tool_result message must have exactly one text content block")
		}
		m.Parts = []Part{ToolReturn(w.ToolCallID, w.Content[0].Content)}
	case RoleSystem:
		parts := make([]Part, len(w.Content))
		for i, p := range w.Content {
			if p.Type == PartText {
				p = SystemPrompt(p.Content)
			}
			parts[i] = p
		}
		m.Parts = parts
	default:
		m.Parts = w.Content
	}
	return nil
}

// NewUserMessage builds a single-TEXT-part user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Parts: []Part{Text(content)}, Timestamp: time.Now()}
}

// NewSystemPromptMessage builds a single-SYSTEM_PROMPT-part system message.
// Per spec.md §3, SYSTEM messages are never sent as part of history; this
// constructor exists for the sanitizer and call-site injection path only.
func NewSystemPromptMessage(content string) Message {
	return Message{Role: RoleSystem, Parts: []Part{SystemPrompt(content)}, Timestamp: time.Now()}
}

// NewToolReturnMessage builds the single TOOL_RETURN part a TOOL message must
// carry, per spec.md §3's invariant that "A TOOL message contains exactly one
// TOOL_RETURN part."
func NewToolReturnMessage(toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Parts:      []Part{ToolReturn(toolCallID, content)},
		ToolCallID: toolCallID,
		Timestamp:  time.Now(),
	}
}

// TextContent concatenates all TEXT parts of the message, the contract
// §4.2 requires the Event Stream Interpreter to extract on message_end.
func (m Message) TextContent() string {
	var sb []byte
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb = append(sb, p.Content...)
		}
	}
	return string(sb)
}

// ToolCalls returns the TOOL_CALL parts of the message in order.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// HasToolCalls reports whether the assistant message contains any TOOL_CALL
// parts; used by the orchestrator to decide whether a turn has tool calls.
func (m Message) HasToolCalls() bool {
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			return true
		}
	}
	return false
}

// IsMeaningful reports whether the message carries any TEXT, THOUGHT, or
// TOOL_CALL part, the definition the sanitizer uses to drop empty assistant
// messages (spec.md §4.5, operation 2).
func (m Message) IsMeaningful() bool {
	for _, p := range m.Parts {
		if p.IsMeaningful() {
			return true
		}
	}
	return false
}

// IsCompactionSummary reports whether this message is the synthetic summary
// preamble produced by the Compaction Controller (spec.md §4.4, §6.3's
// sentinel key "compaction_summary").
func (m Message) IsCompactionSummary() bool {
	return m.Role == RoleUser && len(m.Parts) == 1 && m.Parts[0].Type == PartText &&
		hasCompactionSentinel(m.Parts[0].Content)
}

// CompactionSummaryHeader is the sentinel marker prefixing a synthetic
// summary message's text, ported literally from
// original_source/core/compaction/controller.py's COMPACTION_SUMMARY_HEADER.
const CompactionSummaryHeader = "[Compaction summary]"

func hasCompactionSentinel(content string) bool {
	return len(content) >= len(CompactionSummaryHeader) && content[:len(CompactionSummaryHeader)] == CompactionSummaryHeader
}
