// Request Orchestrator (spec.md §4.1): Runtime.ProcessRequest drives one
// user request to completion, owning the iteration/timeout budgets,
// cancellation, and context-overflow/empty-response retry policies.
//
// Grounded on the teacher's internal/agent/loop.go (AgenticLoop.Run's
// Init → Stream → ExecuteTools → Continue → Complete phase state machine)
// and internal/agent/runtime.go (Runtime.Process's context-carried session
// handling). max_iterations defaults to 15 per spec.md, overriding the
// teacher's default of 10 — see DESIGN.md.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunacode/agentcore/internal/compaction"
	"github.com/tunacode/agentcore/internal/observability"
	"github.com/tunacode/agentcore/internal/sanitize"
	"github.com/tunacode/agentcore/internal/sessions"
	"github.com/tunacode/agentcore/pkg/models"

	"go.opentelemetry.io/otel/trace"
)

// emptyResponseFatalThreshold resolves spec.md §9's open question in favor
// of "two consecutive empty/truncated turns" before EMPTY_RESPONSE is fatal.
const emptyResponseFatalThreshold = 2

// RuntimeConfig carries the Orchestrator's tunables, loaded from
// config.AgentConfig/config.LLMConfig by the caller.
type RuntimeConfig struct {
	MaxIterations        int
	GlobalRequestTimeout time.Duration
	MaxContextTokens     int
	SystemPrompt         string
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 15
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 200000
	}
	return c
}

// ProcessRequestInput is process_request's input record, per spec.md §4.1.
type ProcessRequestInput struct {
	SessionKey  string
	UserMessage string
	Model       string
	Callbacks   CallbackSet
}

// Runtime is the Request Orchestrator.
type Runtime struct {
	store      sessions.Store
	registry   *ToolRegistry
	dispatchCfg ToolDispatcherConfig
	provider   ModelProvider
	compaction *compaction.Controller
	cfg        RuntimeConfig
	sink       EventSink
	logger     *observability.Logger
	tracer     *observability.Tracer
	metrics    *observability.Metrics

	invalidatedMu sync.Mutex
	invalidated   map[string]struct{}
}

// NewRuntime builds a Request Orchestrator. logger, tracer, and metrics may
// be nil; sink may be nil (events are then dropped, per NopSink).
func NewRuntime(store sessions.Store, registry *ToolRegistry, dispatchCfg ToolDispatcherConfig, provider ModelProvider, controller *compaction.Controller, cfg RuntimeConfig, sink EventSink, logger *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Runtime {
	return &Runtime{
		store:       store,
		registry:    registry,
		dispatchCfg: dispatchCfg,
		provider:    provider,
		compaction:  controller,
		cfg:         cfg.withDefaults(),
		sink:        sink,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
	}
}

// ProcessRequest drives the model to a terminal state for one user message,
// implementing the driver loop of spec.md §4.1.
func (r *Runtime) ProcessRequest(ctx context.Context, req ProcessRequestInput) (result *models.Message, retErr error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, ErrEmptyUserMessage
	}

	requestID := uuid.NewString()
	ctx = observability.AddRequestID(ctx, requestID)
	ctx = observability.AddRunID(ctx, requestID)

	if r.cfg.GlobalRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.GlobalRequestTimeout)
		defer cancel()
	}

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.TraceMessageProcessing(ctx, "cli", "inbound", req.SessionKey)
		defer span.End()
	}

	emitter := NewEventEmitter(requestID, r.sink)
	dispatcher := NewToolDispatcher(r.registry, r.dispatchCfg, emitter).WithMetrics(r.metrics).WithTracer(r.tracer)

	emitter.AgentStart(ctx)
	defer emitter.AgentEnd(ctx)

	if observability.IsDiagnosticsEnabled() {
		observability.EmitRequestState(&observability.RequestStateEvent{
			SessionKey: req.SessionKey,
			RequestID:  requestID,
			State:      observability.RequestStateRunning,
		})
	}
	defer func() {
		outcome := requestOutcome(retErr)
		if r.metrics != nil {
			r.metrics.RecordRequestOutcome(outcome)
		}
		if observability.IsDiagnosticsEnabled() {
			observability.EmitRequestState(&observability.RequestStateEvent{
				SessionKey: req.SessionKey,
				RequestID:  requestID,
				PrevState:  observability.RequestStateRunning,
				State:      observability.RequestStateDone,
				Reason:     outcome,
			})
		}
	}()

	session, err := r.store.GetOrCreate(ctx, req.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("agent: load session: %w", err)
	}

	r.compaction.ResetRequestState()

	sanitized := sanitize.History(session.History)
	if err := validateInvariants(sanitized); err != nil {
		return nil, &SanitizerError{Message: err.Error()}
	}
	session.History = sanitized
	session.History = append(session.History, models.NewUserMessage(req.UserMessage))

	r.maybeCompact(ctx, session, req.Callbacks, false)

	iteration := 0
	consecutiveEmpty := 0
	overflowRetried := false
	var lastAssistant models.Message

	for {
		if err := ctx.Err(); err != nil {
			lastAssistant = tagInterrupted(lastAssistant)
			session.History = appendIfMeaningful(session.History, lastAssistant)
			r.persist(ctx, session)
			if errors.Is(err, context.DeadlineExceeded) {
				return &lastAssistant, ErrGlobalTimeout
			}
			r.invalidateModelCache(req.Model)
			return &lastAssistant, ErrUserAbort
		}

		if iteration >= r.cfg.MaxIterations {
			lastAssistant = tagMaxIterationsExceeded(lastAssistant)
			session.History = appendIfMeaningful(session.History, lastAssistant)
			r.persist(ctx, session)
			return &lastAssistant, ErrMaxIterations
		}

		if r.metrics != nil {
			r.metrics.RecordIteration()
		}
		emitter.TurnStart(ctx)

		modelHistory := compaction.InjectSummaryMessage(session.Compact, session.History)
		turnReq := TurnRequest{
			Model:        req.Model,
			SystemPrompt: r.cfg.SystemPrompt,
			History:      modelHistory,
			Tools:        r.registry.Defs(),
		}

		llmCtx := ctx
		var llmSpan trace.Span
		if r.tracer != nil {
			llmCtx, llmSpan = r.tracer.TraceLLMRequest(ctx, r.provider.Name(), turnReq.Model)
		}

		turnStart := time.Now()
		events, err := r.provider.StreamTurn(llmCtx, turnReq)
		if err != nil {
			r.invalidateModelCache(req.Model)
			r.logError(ctx, "model stream open failed", err)
			if r.metrics != nil {
				r.metrics.RecordLLMRequest(r.provider.Name(), turnReq.Model, "error", time.Since(turnStart).Seconds(), 0, 0)
			}
			if llmSpan != nil {
				r.tracer.RecordError(llmSpan, err)
				llmSpan.End()
			}
			return &lastAssistant, fmt.Errorf("agent: model stream: %w", err)
		}

		seen := make(map[uint64]bool)
		outcome, err := InterpretTurn(llmCtx, events, r.sink, req.Callbacks, seen)
		if llmSpan != nil {
			if err != nil {
				r.tracer.RecordError(llmSpan, err)
			}
			llmSpan.End()
		}
		if r.metrics != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			var prompt, completion int64
			if outcome.Usage != nil {
				prompt, completion = outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens
			}
			r.metrics.RecordLLMRequest(r.provider.Name(), turnReq.Model, status, time.Since(turnStart).Seconds(), prompt, completion)
			if outcome.Usage != nil && outcome.Usage.Cost > 0 {
				r.metrics.RecordLLMCost(r.provider.Name(), turnReq.Model, outcome.Usage.Cost)
			}
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				if outcome.AssistantMessage.IsMeaningful() {
					lastAssistant = outcome.AssistantMessage
				}
				lastAssistant = tagInterrupted(lastAssistant)
				session.History = appendIfMeaningful(session.History, lastAssistant)
				r.persist(ctx, session)
				if errors.Is(err, context.DeadlineExceeded) {
					return &lastAssistant, ErrGlobalTimeout
				}
				r.invalidateModelCache(req.Model)
				return &lastAssistant, ErrUserAbort
			}
			if outcome.ContextOverflow && !overflowRetried {
				overflowRetried = true
				req.Callbacks.notice("Context overflow detected; compacting and retrying...")
				r.maybeCompact(ctx, session, req.Callbacks, true)
				continue
			}
			if outcome.ContextOverflow {
				return &lastAssistant, &ContextOverflowError{
					Model:           req.Model,
					EstimatedTokens: compaction.EstimateMessagesTokens(session.History),
					MaxTokens:       r.cfg.MaxContextTokens,
				}
			}
			r.invalidateModelCache(req.Model)
			r.logError(ctx, "model stream error", err)
			return &lastAssistant, err
		}

		outcome.AssistantMessage.Usage = outcome.Usage
		lastAssistant = outcome.AssistantMessage
		session.History = append(session.History, outcome.AssistantMessage)
		if outcome.Usage != nil {
			session.Usage = session.Usage.Add(*outcome.Usage)
		}

		if outcome.AssistantMessage.HasToolCalls() {
			calls := ExtractToolCalls(outcome.AssistantMessage)
			if hasSynthetic(calls) {
				reinserted := ReinsertSyntheticCalls(outcome.AssistantMessage, calls)
				session.History[len(session.History)-1] = reinserted
				lastAssistant = reinserted
			}

			result := dispatcher.Dispatch(ctx, calls, req.Callbacks)
			session.History = append(session.History, result.ToolReturns...)
			emitter.TurnEnd(ctx, lastAssistant, result.ToolReturns, outcome.Usage)
			iteration++
			consecutiveEmpty = 0
			continue
		}

		isEmptyTurn := outcome.Truncated || !outcome.AssistantMessage.IsMeaningful()
		emitter.TurnEnd(ctx, lastAssistant, nil, outcome.Usage)
		iteration++

		if !isEmptyTurn {
			r.persist(ctx, session)
			return &lastAssistant, nil
		}

		if r.metrics != nil {
			r.metrics.RecordEmptyResponse()
		}
		consecutiveEmpty++
		if consecutiveEmpty >= emptyResponseFatalThreshold {
			r.persist(ctx, session)
			return &lastAssistant, ErrEmptyResponse
		}

		notice := "The previous response produced no content. Continue the task, or explain what is blocking progress."
		req.Callbacks.notice(notice)
		// Injected as ordinary USER-role history so the model sees it on
		// the next turn; it is not a message the human actually sent.
		session.History = append(session.History, models.NewUserMessage(notice))
	}
}

// maybeCompact runs the threshold-triggered (or forced) compaction pass and
// folds the outcome into the session, surfacing a notice for any
// interesting skip/failure reason (spec.md §4.4).
func (r *Runtime) maybeCompact(ctx context.Context, session *models.Session, cbs CallbackSet, forced bool) {
	announce := func(active bool) {
		if cbs.OnCompactionStatus != nil {
			cbs.OnCompactionStatus(active)
		}
	}
	announce(true)
	defer announce(false)

	start := time.Now()
	var outcome compaction.Outcome
	var record models.CompactionRecord
	if forced {
		outcome, record = r.compaction.ForceCompact(ctx, session.Compact, session.History, r.cfg.MaxContextTokens)
	} else {
		outcome, record = r.compaction.CheckAndCompact(ctx, session.Compact, session.History, r.cfg.MaxContextTokens, false, true)
	}

	status := string(outcome.Status)
	if r.metrics != nil {
		r.metrics.RecordCompaction(status)
	}
	if observability.IsDiagnosticsEnabled() {
		observability.EmitCompaction(&observability.CompactionEvent{
			Status:          status,
			EstimatedTokens: int64(compaction.EstimateMessagesTokens(session.History)),
			DurationMs:      time.Since(start).Milliseconds(),
		})
	}

	if notice := outcome.Notice(); notice != "" {
		cbs.notice(notice)
	}
	if outcome.Status != compaction.StatusCompacted {
		return
	}
	session.History = outcome.Messages
	session.Compact = record
}

// requestOutcome maps a ProcessRequest error to a terminal outcome label for
// metrics and diagnostics, matching the sentinel errors this package defines.
func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, ErrMaxIterations):
		return "max_iterations"
	case errors.Is(err, ErrGlobalTimeout):
		return "global_timeout"
	case errors.Is(err, ErrUserAbort):
		return "user_abort"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	default:
		var overflow *ContextOverflowError
		if errors.As(err, &overflow) {
			return "context_overflow"
		}
		return "error"
	}
}

func (r *Runtime) persist(ctx context.Context, session *models.Session) {
	if err := r.store.Save(ctx, session); err != nil {
		r.logError(ctx, "session save failed", err)
	}
}

func (r *Runtime) logError(ctx context.Context, msg string, err error) {
	if r.logger != nil {
		r.logger.Error(ctx, msg, "error", err)
	}
	if r.metrics != nil {
		r.metrics.RecordError("agent", msg)
	}
}

func (r *Runtime) invalidateModelCache(model string) {
	if model == "" {
		return
	}
	r.invalidatedMu.Lock()
	defer r.invalidatedMu.Unlock()
	if r.invalidated == nil {
		r.invalidated = make(map[string]struct{})
	}
	r.invalidated[model] = struct{}{}
}

// ModelCacheInvalidated reports whether a model's per-model agent state was
// dropped by a prior USER_ABORT or MODEL_STREAM_ERROR (spec.md §9's
// "per-model agent state... dropped on cache invalidation").
func (r *Runtime) ModelCacheInvalidated(model string) bool {
	r.invalidatedMu.Lock()
	defer r.invalidatedMu.Unlock()
	_, ok := r.invalidated[model]
	return ok
}

func tagInterrupted(msg models.Message) models.Message {
	return tagStopReason(msg, "[INTERRUPTED]")
}

func tagMaxIterationsExceeded(msg models.Message) models.Message {
	return tagStopReason(msg, "[MAX_ITERATIONS_EXCEEDED]")
}

func tagStopReason(msg models.Message, tag string) models.Message {
	if msg.Role == "" {
		msg.Role = models.RoleAssistant
	}
	msg.Parts = append(msg.Parts, models.Text(" "+tag))
	return msg
}

func appendIfMeaningful(history []models.Message, msg models.Message) []models.Message {
	if !msg.IsMeaningful() {
		return history
	}
	if len(history) > 0 && messagesEqual(history[len(history)-1], msg) {
		return history
	}
	return append(history, msg)
}

func messagesEqual(a, b models.Message) bool {
	if a.Role != b.Role || len(a.Parts) != len(b.Parts) {
		return false
	}
	for i := range a.Parts {
		pa, pb := a.Parts[i], b.Parts[i]
		if pa.Type != pb.Type || pa.Content != pb.Content || pa.ToolCallID != pb.ToolCallID || pa.ToolName != pb.ToolName {
			return false
		}
		if string(pa.Args) != string(pb.Args) {
			return false
		}
	}
	return true
}

func hasSynthetic(calls []models.ToolCallRequest) bool {
	for _, c := range calls {
		if c.Synthetic {
			return true
		}
	}
	return false
}

// validateInvariants checks the spec.md §8 testable property that
// call_ids(history) == return_ids(history) after sanitization; a violation
// means the sanitizer (or its input) is broken, which is fatal per SANITIZER_UNSUPPORTED.
func validateInvariants(history []models.Message) error {
	calls := map[string]bool{}
	returns := map[string]bool{}
	for _, msg := range history {
		for _, p := range msg.Parts {
			switch p.Type {
			case models.PartToolCall:
				calls[p.ToolCallID] = true
			case models.PartToolReturn:
				returns[p.ToolCallID] = true
			}
		}
	}
	for id := range calls {
		if !returns[id] {
			return fmt.Errorf("dangling tool call %q survived sanitization", id)
		}
	}
	return nil
}
