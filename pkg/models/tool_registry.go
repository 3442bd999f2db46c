package models

import (
	"encoding/json"
	"time"
)

// ToolCallStatus is the lifecycle state of a registered tool call, per
// spec.md §3's tool call registry.
type ToolCallStatus string

const (
	ToolCallRegistered ToolCallStatus = "REGISTERED"
	ToolCallRunning    ToolCallStatus = "RUNNING"
	ToolCallCompleted  ToolCallStatus = "COMPLETED"
	ToolCallFailed     ToolCallStatus = "FAILED"
	ToolCallCancelled  ToolCallStatus = "CANCELLED"
)

// ToolCallRecord is the ephemeral per-request registry entry for one tool
// call, dropped when the request finishes.
type ToolCallRecord struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Status     ToolCallStatus
	Result     string
	Err        error
	StartedAt  time.Time
	EndedAt    time.Time
}

// ToolDef describes a tool's calling contract for the dispatcher and the
// model provider, per spec.md §6.2.
type ToolDef struct {
	Name             string
	Description      string
	ParametersSchema json.RawMessage
	IsMutating       bool
}

// ToolCallRequest is one extracted call awaiting dispatch, produced by
// either structured TOOL_CALL part extraction or the fallback text parser
// (spec.md §4.3).
type ToolCallRequest struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
	Synthetic  bool // true if produced by the fallback text parser
}
