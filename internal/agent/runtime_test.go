package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tunacode/agentcore/internal/compaction"
	"github.com/tunacode/agentcore/internal/sessions"
	"github.com/tunacode/agentcore/pkg/models"
)

// memStore is a minimal in-memory sessions.Store, grounded on the teacher's
// internal/sessions.MemoryStore, stripped to what the orchestrator tests need.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*models.Session)}
}

func (s *memStore) GetOrCreate(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	sess := &models.Session{ID: key, Key: key}
	s.sessions[key] = sess
	return sess, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return sess, nil
}

func (s *memStore) Save(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Key] = session
	return nil
}

// scriptedProvider replays one models.AgentEvent channel per StreamTurn call,
// in order; a nil entry means "open a channel that immediately errors".
type scriptedProvider struct {
	mu     sync.Mutex
	turns  [][]models.AgentEvent
	errs   []error
	calls  int
}

func (p *scriptedProvider) StreamTurn(ctx context.Context, req TurnRequest) (<-chan models.AgentEvent, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}

	ch := make(chan models.AgentEvent, 16)
	go func() {
		defer close(ch)
		if idx >= len(p.turns) {
			return
		}
		for _, ev := range p.turns[idx] {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Name() string { return "scripted-test-provider" }

func assistantTextEvent(seq uint64, text string) models.AgentEvent {
	return models.AgentEvent{
		Type:     models.EventMessageEnd,
		Sequence: seq,
		MessageEnd: &models.MessageEndPayload{
			Message: models.Message{Role: models.RoleAssistant, Parts: []models.Part{models.Text(text)}},
			Usage:   &models.Usage{PromptTokens: 10, CompletionTokens: 5},
		},
	}
}

func assistantToolCallEvent(seq uint64, callID, toolName string, args json.RawMessage) models.AgentEvent {
	return models.AgentEvent{
		Type:     models.EventMessageEnd,
		Sequence: seq,
		MessageEnd: &models.MessageEndPayload{
			Message: models.Message{Role: models.RoleAssistant, Parts: []models.Part{models.ToolCall(callID, toolName, args)}},
			Usage:   &models.Usage{PromptTokens: 8, CompletionTokens: 2},
		},
	}
}

func overflowErrorEvent(seq uint64) models.AgentEvent {
	return models.AgentEvent{
		Type:     models.EventMessageEnd,
		Sequence: seq,
		Error:    &models.StreamErrorPayload{Message: "context_length_exceeded", ContextOverflow: true},
	}
}

// fakeSummaryProvider satisfies compaction.SummaryProvider for tests that
// force a compaction pass (context-overflow retry).
type fakeSummaryProvider struct{}

func (fakeSummaryProvider) Summarize(ctx context.Context, prompt string) (string, error) {
	return "summary of earlier conversation", nil
}

func testRuntime(store sessions.Store, registry *ToolRegistry, provider ModelProvider, cfg RuntimeConfig) *Runtime {
	controller := compaction.NewController(compaction.NewSummarizer(fakeSummaryProvider{}), 0, 0)
	return NewRuntime(store, registry, ToolDispatcherConfig{}, provider, controller, cfg, nil, nil, nil, nil)
}

func TestProcessRequest_HappyPathNoTools(t *testing.T) {
	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{assistantTextEvent(1, "Hello there.")},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, "Hello there.", msg.TextContent())
}

func TestProcessRequest_TwoTurnToolUse(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "read_file",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "file contents", nil
		},
	})
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{assistantToolCallEvent(1, "call-1", "read_file", json.RawMessage(`{"path":"a.txt"}`))},
		{assistantTextEvent(2, "Done reading.")},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "read a.txt", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, "Done reading.", msg.TextContent())
	require.Equal(t, 2, provider.calls)
}

func TestProcessRequest_MixedReadWriteToolsInOneTurn(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	registry := NewToolRegistry()
	registry.Register(&fnTool{name: "read_one", fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		record("read_one")
		return "r1", nil
	}})
	registry.Register(&fnTool{name: "write_one", mutating: true, fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		record("write_one")
		return "w1", nil
	}})

	toolTurn := []models.AgentEvent{
		{
			Type:     models.EventMessageEnd,
			Sequence: 1,
			MessageEnd: &models.MessageEndPayload{
				Message: models.Message{Role: models.RoleAssistant, Parts: []models.Part{
					models.ToolCall("c1", "read_one", json.RawMessage(`{}`)),
					models.ToolCall("c2", "write_one", json.RawMessage(`{}`)),
				}},
			},
		},
	}
	provider := &scriptedProvider{turns: [][]models.AgentEvent{toolTurn, {assistantTextEvent(2, "ok.")}}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	_, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "do both", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, []string{"read_one", "write_one"}, order)
}

func TestProcessRequest_CancelMidTurn(t *testing.T) {
	registry := NewToolRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	provider := &scriptedProvider{}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})
	cancel()

	msg, err := rt.ProcessRequest(ctx, ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.ErrorIs(t, err, ErrUserAbort)
	require.NotNil(t, msg)
}

type blockingProvider struct{}

func (blockingProvider) Name() string { return "blocking-test-provider" }

func (blockingProvider) StreamTurn(ctx context.Context, req TurnRequest) (<-chan models.AgentEvent, error) {
	ch := make(chan models.AgentEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestProcessRequest_GlobalTimeout(t *testing.T) {
	registry := NewToolRegistry()
	rt := testRuntime(newMemStore(), registry, blockingProvider{}, RuntimeConfig{GlobalRequestTimeout: 20 * time.Millisecond})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.ErrorIs(t, err, ErrGlobalTimeout)
	require.NotNil(t, msg)
}

func TestProcessRequest_ContextOverflowRetriesOnceThenFatal(t *testing.T) {
	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{overflowErrorEvent(1)},
		{overflowErrorEvent(2)},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	_, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	var overflowErr *ContextOverflowError
	require.ErrorAs(t, err, &overflowErr)
	require.Equal(t, 2, provider.calls)
}

func TestProcessRequest_ContextOverflowRecoversOnRetry(t *testing.T) {
	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{overflowErrorEvent(1)},
		{assistantTextEvent(2, "Recovered.")},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, "Recovered.", msg.TextContent())
}

func TestProcessRequest_EmptyResponseFatalAfterTwoConsecutive(t *testing.T) {
	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{assistantTextEvent(1, "")},
		{assistantTextEvent(2, "")},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	_, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.ErrorIs(t, err, ErrEmptyResponse)
	require.Equal(t, 2, provider.calls)
}

func TestProcessRequest_EmptyResponseRecoversOnSecondTurn(t *testing.T) {
	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{
		{assistantTextEvent(1, "")},
		{assistantTextEvent(2, "Back on track.")},
	}}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, "Back on track.", msg.TextContent())
}

func TestProcessRequest_MaxIterationsExceeded(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{name: "loop_tool", fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		return "again", nil
	}})
	var turns [][]models.AgentEvent
	for i := 0; i < 5; i++ {
		turns = append(turns, []models.AgentEvent{assistantToolCallEvent(uint64(i+1), "c", "loop_tool", json.RawMessage(`{}`))})
	}
	provider := &scriptedProvider{turns: turns}
	rt := testRuntime(newMemStore(), registry, provider, RuntimeConfig{MaxIterations: 3})

	_, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "loop forever", Model: "test-model"})
	require.ErrorIs(t, err, ErrMaxIterations)
	require.Equal(t, 3, provider.calls)
}

func TestProcessRequest_EmptyUserMessageRejected(t *testing.T) {
	rt := testRuntime(newMemStore(), NewToolRegistry(), &scriptedProvider{}, RuntimeConfig{})
	_, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "   ", Model: "test-model"})
	require.ErrorIs(t, err, ErrEmptyUserMessage)
}

// partialThenHangProvider emits one message_end carrying partial assistant
// text, then hangs (without closing the channel) until ctx is cancelled, so
// InterpretTurn's outcome.AssistantMessage is populated from that message_end
// before the global timeout fires mid-stream.
type partialThenHangProvider struct{}

func (partialThenHangProvider) Name() string { return "partial-then-hang-test-provider" }

func (partialThenHangProvider) StreamTurn(ctx context.Context, req TurnRequest) (<-chan models.AgentEvent, error) {
	ch := make(chan models.AgentEvent, 1)
	ch <- assistantTextEvent(1, "partial streamed text")
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestProcessRequest_CancelMidStreamPreservesPartialText(t *testing.T) {
	registry := NewToolRegistry()
	rt := testRuntime(newMemStore(), registry, partialThenHangProvider{}, RuntimeConfig{GlobalRequestTimeout: 20 * time.Millisecond})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "hi", Model: "test-model"})
	require.ErrorIs(t, err, ErrGlobalTimeout)
	require.NotNil(t, msg)
	require.Contains(t, msg.TextContent(), "partial streamed text")
}

func TestProcessRequest_DanglingToolCallSanitizedOnLoad(t *testing.T) {
	store := newMemStore()
	session := &models.Session{ID: "s1", Key: "s1", History: []models.Message{
		{Role: models.RoleUser, Parts: []models.Part{models.Text("earlier")}},
		{Role: models.RoleAssistant, Parts: []models.Part{models.ToolCall("orphan", "ghost_tool", json.RawMessage(`{}`))}},
	}}
	store.sessions["s1"] = session

	registry := NewToolRegistry()
	provider := &scriptedProvider{turns: [][]models.AgentEvent{{assistantTextEvent(1, "Fine now.")}}}
	rt := testRuntime(store, registry, provider, RuntimeConfig{})

	msg, err := rt.ProcessRequest(context.Background(), ProcessRequestInput{SessionKey: "s1", UserMessage: "continue", Model: "test-model"})
	require.NoError(t, err)
	require.Equal(t, "Fine now.", msg.TextContent())

	for _, m := range session.History {
		for _, p := range m.Parts {
			require.NotEqual(t, "orphan", p.ToolCallID)
		}
	}
}
