// Package observability provides diagnostic event types and emission.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticRequestState represents the lifecycle state of a request
// driven by the Request Orchestrator.
type DiagnosticRequestState string

const (
	RequestStateRunning   DiagnosticRequestState = "running"
	RequestStateCompacting DiagnosticRequestState = "compacting"
	RequestStateDone      DiagnosticRequestState = "done"
)

// DiagnosticEventType identifies the type of diagnostic event.
type DiagnosticEventType string

const (
	EventTypeModelUsage          DiagnosticEventType = "model.usage"
	EventTypeToolDispatch        DiagnosticEventType = "tool.dispatch"
	EventTypeCompaction          DiagnosticEventType = "compaction"
	EventTypeRequestState        DiagnosticEventType = "request.state"
	EventTypeRequestStuck        DiagnosticEventType = "request.stuck"
	EventTypeRunAttempt          DiagnosticEventType = "run.attempt"
	EventTypeDiagnosticHeartbeat DiagnosticEventType = "diagnostic.heartbeat"
)

// DiagnosticEvent is the base event structure.
type DiagnosticEvent struct {
	Type DiagnosticEventType `json:"type"`
	Seq  int64               `json:"seq"`
	Ts   int64               `json:"ts"`
}

// ModelUsageEvent tracks token usage for a model request.
type ModelUsageEvent struct {
	DiagnosticEvent
	SessionKey string          `json:"session_key,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Usage      UsageDetails    `json:"usage"`
	Context    *ContextDetails `json:"context,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// UsageDetails contains token usage breakdown.
type UsageDetails struct {
	Input        int64 `json:"input,omitempty"`
	Output       int64 `json:"output,omitempty"`
	CacheRead    int64 `json:"cache_read,omitempty"`
	CacheWrite   int64 `json:"cache_write,omitempty"`
	PromptTokens int64 `json:"prompt_tokens,omitempty"`
	Total        int64 `json:"total,omitempty"`
}

// ContextDetails contains context window information.
type ContextDetails struct {
	Limit int64 `json:"limit,omitempty"`
	Used  int64 `json:"used,omitempty"`
}

// ToolDispatchEvent tracks a tool dispatcher pass across one turn.
type ToolDispatchEvent struct {
	DiagnosticEvent
	RequestID  string `json:"request_id,omitempty"`
	ToolName   string `json:"tool_name"`
	Phase      string `json:"phase"` // "read" or "write"
	DurationMs int64  `json:"duration_ms,omitempty"`
	Outcome    string `json:"outcome"` // "success", "error", "timeout"
	Error      string `json:"error,omitempty"`
}

// CompactionEvent tracks a compaction controller pass.
type CompactionEvent struct {
	DiagnosticEvent
	SessionKey      string `json:"session_key,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	Status          string `json:"status"` // "compacted", "skipped", "failed"
	Reason          string `json:"reason,omitempty"`
	EstimatedTokens int64  `json:"estimated_tokens,omitempty"`
	DurationMs      int64  `json:"duration_ms,omitempty"`
}

// RequestStateEvent tracks request lifecycle state transitions.
type RequestStateEvent struct {
	DiagnosticEvent
	SessionKey string                 `json:"session_key,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	PrevState  DiagnosticRequestState `json:"prev_state,omitempty"`
	State      DiagnosticRequestState `json:"state"`
	Reason     string                 `json:"reason,omitempty"`
	Iteration  int                    `json:"iteration,omitempty"`
}

// RequestStuckEvent tracks requests that exceeded their expected duration
// without reaching a terminal outcome.
type RequestStuckEvent struct {
	DiagnosticEvent
	SessionKey string                 `json:"session_key,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	State      DiagnosticRequestState `json:"state"`
	AgeMs      int64                  `json:"age_ms"`
	Iteration  int                    `json:"iteration,omitempty"`
}

// RunAttemptEvent tracks retried tool or model calls.
type RunAttemptEvent struct {
	DiagnosticEvent
	RequestID string `json:"request_id,omitempty"`
	Component string `json:"component"` // "model" or "tool"
	Name      string `json:"name,omitempty"`
	Attempt   int    `json:"attempt"`
}

// DiagnosticHeartbeatEvent periodically summarizes orchestrator activity.
type DiagnosticHeartbeatEvent struct {
	DiagnosticEvent
	Requests RequestStats `json:"requests"`
	Active   int          `json:"active"`
}

// RequestStats contains aggregate request counters for a heartbeat.
type RequestStats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Errored   int64 `json:"errored"`
}

// DiagnosticEventPayload is a union type for all diagnostic events.
type DiagnosticEventPayload interface {
	EventType() DiagnosticEventType
	Sequence() int64
	Timestamp() int64
}

func (e *DiagnosticEvent) EventType() DiagnosticEventType { return e.Type }
func (e *DiagnosticEvent) Sequence() int64                { return e.Seq }
func (e *DiagnosticEvent) Timestamp() int64               { return e.Ts }

// DiagnosticListener receives diagnostic events.
type DiagnosticListener func(event DiagnosticEventPayload)

// DiagnosticEmitter manages diagnostic event emission.
type DiagnosticEmitter struct {
	mu        sync.RWMutex
	seq       int64
	enabled   bool
	listeners []DiagnosticListener
}

var globalEmitter = &DiagnosticEmitter{}

// SetDiagnosticsEnabled enables or disables diagnostic events.
func SetDiagnosticsEnabled(enabled bool) {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.enabled = enabled
}

// IsDiagnosticsEnabled returns whether diagnostics are enabled.
func IsDiagnosticsEnabled() bool {
	globalEmitter.mu.RLock()
	defer globalEmitter.mu.RUnlock()
	return globalEmitter.enabled
}

// OnDiagnosticEvent registers a listener for diagnostic events.
func OnDiagnosticEvent(listener DiagnosticListener) func() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.listeners = append(globalEmitter.listeners, listener)

	return func() {
		globalEmitter.mu.Lock()
		defer globalEmitter.mu.Unlock()
		for i, l := range globalEmitter.listeners {
			if &l == &listener {
				globalEmitter.listeners = append(globalEmitter.listeners[:i], globalEmitter.listeners[i+1:]...)
				break
			}
		}
	}
}

func nextSeq() int64 {
	return atomic.AddInt64(&globalEmitter.seq, 1)
}

func emit(event DiagnosticEventPayload) {
	globalEmitter.mu.RLock()
	if !globalEmitter.enabled {
		globalEmitter.mu.RUnlock()
		return
	}
	listeners := make([]DiagnosticListener, len(globalEmitter.listeners))
	copy(listeners, globalEmitter.listeners)
	globalEmitter.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					_ = recovered
				}
			}() // Ignore listener panics
			listener(event)
		}()
	}
}

// EmitModelUsage emits a model usage event.
func EmitModelUsage(e *ModelUsageEvent) {
	e.Type = EventTypeModelUsage
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitToolDispatch emits a tool dispatch event.
func EmitToolDispatch(e *ToolDispatchEvent) {
	e.Type = EventTypeToolDispatch
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitCompaction emits a compaction event.
func EmitCompaction(e *CompactionEvent) {
	e.Type = EventTypeCompaction
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRequestState emits a request state transition event.
func EmitRequestState(e *RequestStateEvent) {
	e.Type = EventTypeRequestState
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRequestStuck emits a request stuck event.
func EmitRequestStuck(e *RequestStuckEvent) {
	e.Type = EventTypeRequestStuck
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunAttempt emits a run attempt event.
func EmitRunAttempt(e *RunAttemptEvent) {
	e.Type = EventTypeRunAttempt
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitDiagnosticHeartbeat emits a diagnostic heartbeat event.
func EmitDiagnosticHeartbeat(e *DiagnosticHeartbeatEvent) {
	e.Type = EventTypeDiagnosticHeartbeat
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// ResetDiagnosticsForTest resets diagnostic state for testing.
func ResetDiagnosticsForTest() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	atomic.StoreInt64(&globalEmitter.seq, 0)
	globalEmitter.listeners = nil
}
