// Package agent implements the agent orchestration core of spec.md: the
// Request Orchestrator, Event Stream Interpreter, and Tool Dispatcher. This
// file is the Tool Dispatcher (spec.md §4.3): it extracts tool calls from a
// turn, classifies them read-only vs. mutating, runs them with the correct
// concurrency discipline, and emits TOOL_RETURN messages.
//
// Grounded on the teacher's internal/agent/tool_exec.go
// (ExecuteConcurrently/ExecuteSequentially dual pattern, generalized here
// into the read-phase/write-phase two-step dispatch spec.md requires) and
// internal/agent/tool_registry.go's glob-free name lookup. Call extraction
// is supplemented from original_source/core/agents/parallel_executor.py and
// agent_components/orchestrator/tool_dispatch.go/extractors.py
// (structured-first, text-fallback order).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/tunacode/agentcore/internal/observability"
	"github.com/tunacode/agentcore/internal/retry"
	"github.com/tunacode/agentcore/pkg/models"
)

// maxToolAttempts bounds retries of a single tool call that fails with a
// transient error (timeout, network, rate limit), per the Retryable/Attempts
// fields models.ToolCallRecord and ToolError carry.
const maxToolAttempts = 2

// DefaultToolTimeout is the per-tool wall-clock budget, per spec.md §5.
const DefaultToolTimeout = 30 * time.Second

// DefaultMaxConcurrentReads is the bounded worker pool width for read-only
// tool calls within a single turn, per spec.md §4.3.
const DefaultMaxConcurrentReads = 8

// CallbackSet is the non-blocking hook record the Request Orchestrator
// threads through a request, per spec.md §4.1. A nil field is a no-op;
// implementations must not block the control plane for long.
type CallbackSet struct {
	OnToolStart        func(name string)
	OnToolResult       func(name string, status models.ToolCallStatus, args json.RawMessage, result string, duration time.Duration)
	OnStreamDelta      func(text string)
	OnNotice           func(text string)
	OnCompactionStatus func(active bool)
}

func (c CallbackSet) toolStart(name string) {
	if c.OnToolStart != nil {
		c.OnToolStart(name)
	}
}

func (c CallbackSet) toolResult(name string, status models.ToolCallStatus, args json.RawMessage, result string, d time.Duration) {
	if c.OnToolResult != nil {
		c.OnToolResult(name, status, args, result, d)
	}
}

func (c CallbackSet) notice(text string) {
	if c.OnNotice != nil {
		c.OnNotice(text)
	}
}

// ToolDispatcherConfig controls the Dispatcher's concurrency policy, per
// spec.md §4.3 and §5.
type ToolDispatcherConfig struct {
	// MaxConcurrentReads bounds the read-phase worker pool width. Default: 8.
	MaxConcurrentReads int
	// ToolTimeout bounds a single tool call. Default: 30s.
	ToolTimeout time.Duration
}

func (c ToolDispatcherConfig) withDefaults() ToolDispatcherConfig {
	if c.MaxConcurrentReads <= 0 {
		c.MaxConcurrentReads = DefaultMaxConcurrentReads
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}

// ToolDispatcher extracts, classifies, and runs the tool calls of one turn.
type ToolDispatcher struct {
	registry *ToolRegistry
	config   ToolDispatcherConfig
	emitter  *EventEmitter
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewToolDispatcher builds a Dispatcher over the given tool registry.
func NewToolDispatcher(registry *ToolRegistry, config ToolDispatcherConfig, emitter *EventEmitter) *ToolDispatcher {
	return &ToolDispatcher{registry: registry, config: config.withDefaults(), emitter: emitter}
}

// WithMetrics attaches a metrics sink the Dispatcher records phase latency
// and per-tool outcome counts to; nil disables recording.
func (d *ToolDispatcher) WithMetrics(metrics *observability.Metrics) *ToolDispatcher {
	d.metrics = metrics
	return d
}

// WithTracer attaches a tracer the Dispatcher spans each tool execution
// with; nil disables tracing.
func (d *ToolDispatcher) WithTracer(tracer *observability.Tracer) *ToolDispatcher {
	d.tracer = tracer
	return d
}

// DispatchResult is the outcome of dispatching one turn's tool calls: the
// TOOL_RETURN messages to append to history (in the order spec.md §4.3/§5
// fix: read phase first in emitted order, then write phase in emitted
// order) and the request's tool call registry entries for this turn.
type DispatchResult struct {
	ToolReturns []models.Message
	Records     map[string]*models.ToolCallRecord
	AnyFailed   bool
}

// Dispatch runs every tool call extracted from an assistant turn with the
// concurrency discipline of spec.md §4.3: all read-only calls run first, in
// parallel, bounded by MaxConcurrentReads; then all mutating calls run
// serially, in the order the model emitted them. Returns are appended in
// emitted-call order within each phase, regardless of completion order
// (spec.md §5's "canonical order: emitted call order" resolution, per
// DESIGN.md's Open Question decision).
func (d *ToolDispatcher) Dispatch(ctx context.Context, calls []models.ToolCallRequest, cbs CallbackSet) DispatchResult {
	records := make(map[string]*models.ToolCallRecord, len(calls))
	now := time.Now()
	for _, c := range calls {
		records[c.ToolCallID] = &models.ToolCallRecord{
			ToolCallID: c.ToolCallID,
			ToolName:   c.ToolName,
			Args:       c.Args,
			Status:     models.ToolCallRegistered,
			StartedAt:  now,
		}
	}

	var reads, writes []models.ToolCallRequest
	for _, c := range calls {
		if d.isMutating(c.ToolName) {
			writes = append(writes, c)
		} else {
			reads = append(reads, c)
		}
	}

	result := DispatchResult{Records: records}

	readReturns := d.timedPhase("read", func() []models.Message { return d.runConcurrently(ctx, reads, records, cbs) })
	result.ToolReturns = append(result.ToolReturns, readReturns...)

	writeReturns := d.timedPhase("write", func() []models.Message { return d.runSequentially(ctx, writes, records, cbs) })
	result.ToolReturns = append(result.ToolReturns, writeReturns...)

	for _, rec := range records {
		if rec.Status == models.ToolCallFailed || rec.Status == models.ToolCallCancelled {
			result.AnyFailed = true
		}
	}
	return result
}

// timedPhase wraps a read or write dispatch phase with a histogram
// observation when metrics are attached; a phase with no calls still
// records a (near-zero) observation, which is fine for rate queries.
func (d *ToolDispatcher) timedPhase(phase string, fn func() []models.Message) []models.Message {
	if d.metrics == nil {
		return fn()
	}
	timer := d.metrics.ToolDispatchDurationTimer(phase)
	defer timer.ObserveDuration()
	return fn()
}

func (d *ToolDispatcher) isMutating(name string) bool {
	if tool, ok := d.registry.Get(name); ok {
		return tool.IsMutating()
	}
	return false
}

// runConcurrently executes reads with a bounded worker pool, joins, then
// delivers TOOL_RETURN messages and on_tool_result callbacks strictly in
// emitted-call order (spec.md §5: "callbacks fire in emitted order for UI
// determinism" even though the underlying execution completes out of
// order).
func (d *ToolDispatcher) runConcurrently(ctx context.Context, calls []models.ToolCallRequest, records map[string]*models.ToolCallRecord, cbs CallbackSet) []models.Message {
	if len(calls) == 0 {
		return nil
	}
	outcomes := make([]toolOutcome, len(calls))
	sem := make(chan struct{}, d.config.MaxConcurrentReads)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c models.ToolCallRequest) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = d.cancelledOutcome(c)
				return
			}
			outcomes[idx] = d.runOne(ctx, c, records[c.ToolCallID])
		}(i, call)
	}
	wg.Wait()

	return d.deliverInOrder(outcomes, cbs)
}

// runSequentially executes writes one at a time, in emitted order, so that
// ordering with respect to durable state is preserved.
func (d *ToolDispatcher) runSequentially(ctx context.Context, calls []models.ToolCallRequest, records map[string]*models.ToolCallRecord, cbs CallbackSet) []models.Message {
	if len(calls) == 0 {
		return nil
	}
	outcomes := make([]toolOutcome, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			outcomes[i] = d.cancelledOutcome(call)
			continue
		}
		outcomes[i] = d.runOne(ctx, call, records[call.ToolCallID])
	}
	return d.deliverInOrder(outcomes, cbs)
}

type toolOutcome struct {
	call    models.ToolCallRequest
	result  string
	isError bool
	status  models.ToolCallStatus
	elapsed time.Duration
}

func (d *ToolDispatcher) cancelledOutcome(c models.ToolCallRequest) toolOutcome {
	return toolOutcome{
		call:    c,
		result:  "tool call cancelled before execution",
		isError: true,
		status:  models.ToolCallCancelled,
	}
}

// runOne is the per-call protocol of spec.md §4.3: register → emit start →
// RUNNING → execute with timeout/cancellation → terminal status → emit end.
func (d *ToolDispatcher) runOne(ctx context.Context, call models.ToolCallRequest, rec *models.ToolCallRecord) toolOutcome {
	name := NormalizeToolName(call.ToolName)

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.TraceToolExecution(ctx, name)
		defer span.End()
		defer func() {
			if rec.Status == models.ToolCallFailed {
				d.tracer.RecordError(span, fmt.Errorf("%s", rec.Result))
			}
		}()
	}

	if IsSuspiciousToolName(name) {
		rec.Status = models.ToolCallFailed
		rec.Result = fmt.Sprintf("malformed tool call: suspicious tool name %q", call.ToolName)
		rec.EndedAt = time.Now()
		return toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallFailed}
	}

	tool, ok := d.registry.Get(name)
	if !ok {
		rec.Status = models.ToolCallFailed
		rec.Result = fmt.Sprintf("%s: tool %q not found", ToolErrorNotFound, name)
		rec.EndedAt = time.Now()
		return toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallFailed}
	}

	if err := d.registry.Validate(name, call.Args); err != nil {
		rec.Status = models.ToolCallFailed
		rec.Result = fmt.Sprintf("%s: invalid arguments: %v", ToolErrorInvalidInput, err)
		rec.EndedAt = time.Now()
		return toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallFailed}
	}

	rec.Status = models.ToolCallRunning
	if d.emitter != nil {
		d.emitter.ToolExecutionStart(ctx, call.ToolCallID, name, call.Args)
	}

	toolCtx, cancel := context.WithTimeout(ctx, d.config.ToolTimeout)
	defer cancel()

	start := time.Now()
	resultCh := make(chan struct {
		s        string
		err      error
		attempts int
	}, 1)
	go func() {
		s, result := retry.DoWithValue(toolCtx, retry.Config{
			MaxAttempts:  maxToolAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Factor:       2,
			Jitter:       true,
		}, func() (string, error) {
			s, err := tool.Execute(toolCtx, call.Args)
			if err != nil && !classifyToolError(err).IsRetryable() {
				return s, retry.Permanent(err)
			}
			return s, err
		})
		err := result.Err
		var permanent *retry.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		select {
		case resultCh <- struct {
			s        string
			err      error
			attempts int
		}{s, err, result.Attempts}:
		default:
		}
	}()

	var outcome toolOutcome
	select {
	case <-toolCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			rec.Status = models.ToolCallCancelled
			rec.Result = "tool call cancelled"
			outcome = toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallCancelled, elapsed: elapsed}
		} else {
			rec.Status = models.ToolCallFailed
			rec.Result = fmt.Sprintf("%s: tool %q timed out after %v", ToolErrorTimeout, name, d.config.ToolTimeout)
			outcome = toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallFailed, elapsed: elapsed}
		}
	case res := <-resultCh:
		elapsed := time.Since(start)
		if res.err != nil {
			toolErr := NewToolError(name, res.err).WithAttempts(res.attempts)
			rec.Status = models.ToolCallFailed
			rec.Result = toolErr.Error()
			outcome = toolOutcome{call: call, result: rec.Result, isError: true, status: models.ToolCallFailed, elapsed: elapsed}
		} else {
			rec.Status = models.ToolCallCompleted
			rec.Result = res.s
			outcome = toolOutcome{call: call, result: res.s, isError: false, status: models.ToolCallCompleted, elapsed: elapsed}
		}
	}
	rec.EndedAt = time.Now()

	if d.emitter != nil {
		d.emitter.ToolExecutionEnd(ctx, call.ToolCallID, name, outcome.isError, outcome.result)
	}

	status := "success"
	if outcome.isError {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordToolExecution(name, status)
	}
	if observability.IsDiagnosticsEnabled() {
		observability.EmitToolDispatch(&observability.ToolDispatchEvent{
			ToolName:   name,
			Outcome:    status,
			DurationMs: outcome.elapsed.Milliseconds(),
		})
	}
	return outcome
}

func (d *ToolDispatcher) deliverInOrder(outcomes []toolOutcome, cbs CallbackSet) []models.Message {
	msgs := make([]models.Message, 0, len(outcomes))
	for _, o := range outcomes {
		cbs.toolStart(o.call.ToolName)
		cbs.toolResult(o.call.ToolName, o.status, o.call.Args, o.result, o.elapsed)
		msgs = append(msgs, models.NewToolReturnMessage(o.call.ToolCallID, o.result))
	}
	return msgs
}

// toolCallIndicators is the heuristic substring set spec.md §4.3's fallback
// text parser checks for before attempting to parse free-text tool calls.
var toolCallIndicators = []string{"<tool_call", "```tool_call", "\"tool_call\""}

// toolCallBlockRE matches a <tool_call>...</tool_call> free-text block, the
// wire shape original_source/core/agents/agent_components/orchestrator/
// extractors.py parses when a model emits tool calls as plain text instead
// of a structured provider field.
var toolCallBlockRE = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)

type freeTextToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractToolCalls extracts tool calls from an assistant message, preferring
// structured TOOL_CALL parts and falling back to free-text parsing only
// when no structured calls are present, per spec.md §4.3.
func ExtractToolCalls(msg models.Message) []models.ToolCallRequest {
	var calls []models.ToolCallRequest
	for _, p := range msg.Parts {
		if p.Type != models.PartToolCall {
			continue
		}
		calls = append(calls, models.ToolCallRequest{
			ToolCallID: p.ToolCallID,
			ToolName:   p.ToolName,
			Args:       p.Args,
		})
	}
	if len(calls) > 0 {
		return calls
	}
	return extractToolCallsFromText(msg.TextContent())
}

func extractToolCallsFromText(text string) []models.ToolCallRequest {
	if !hasToolCallIndicator(text) {
		return nil
	}
	matches := toolCallBlockRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var calls []models.ToolCallRequest
	for _, m := range matches {
		var parsed freeTextToolCall
		if err := json.Unmarshal([]byte(m[1]), &parsed); err != nil {
			continue
		}
		if strings.TrimSpace(parsed.Name) == "" {
			continue
		}
		args := parsed.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, models.ToolCallRequest{
			ToolCallID: uuid.NewString(),
			ToolName:   parsed.Name,
			Args:       args,
			Synthetic:  true,
		})
	}
	return calls
}

func hasToolCallIndicator(text string) bool {
	for _, ind := range toolCallIndicators {
		if strings.Contains(text, ind) {
			return true
		}
	}
	return false
}

// ReinsertSyntheticCalls appends synthesized TOOL_CALL parts back onto the
// assistant message they were parsed from, per spec.md §4.3: "Each
// synthesized call is re-inserted into the message record as if it had been
// structured."
func ReinsertSyntheticCalls(msg models.Message, calls []models.ToolCallRequest) models.Message {
	for _, c := range calls {
		if !c.Synthetic {
			continue
		}
		msg.Parts = append(msg.Parts, models.ToolCall(c.ToolCallID, c.ToolName, c.Args))
	}
	return msg
}
