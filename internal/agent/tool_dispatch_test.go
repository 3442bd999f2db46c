package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tunacode/agentcore/internal/observability"
	"github.com/tunacode/agentcore/pkg/models"
)

type fnTool struct {
	name     string
	mutating bool
	schema   json.RawMessage
	fn       func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *fnTool) Name() string             { return f.name }
func (f *fnTool) Description() string      { return "test tool" }
func (f *fnTool) Schema() json.RawMessage  { return f.schema }
func (f *fnTool) IsMutating() bool         { return f.mutating }
func (f *fnTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

func call(id, name string) models.ToolCallRequest {
	return models.ToolCallRequest{ToolCallID: id, ToolName: name, Args: json.RawMessage(`{}`)}
}

func TestDispatch_ReadsRunConcurrentlyWithinBound(t *testing.T) {
	var concurrent, maxConcurrent int32
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "read_one",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			cur := atomic.AddInt32(&concurrent, 1)
			defer atomic.AddInt32(&concurrent, -1)
			for {
				old := atomic.LoadInt32(&maxConcurrent)
				if cur <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return "ok", nil
		},
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{MaxConcurrentReads: 2}, nil)

	calls := []models.ToolCallRequest{call("1", "read_one"), call("2", "read_one"), call("3", "read_one"), call("4", "read_one")}
	result := d.Dispatch(context.Background(), calls, CallbackSet{})

	require.Len(t, result.ToolReturns, 4)
	require.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(2))
	require.False(t, result.AnyFailed)
}

func TestDispatch_WritesRunSeriallyInEmittedOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name:     "write_one",
		mutating: true,
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			mu.Lock()
			order = append(order, "start")
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			return "done", nil
		},
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)

	calls := []models.ToolCallRequest{call("1", "write_one"), call("2", "write_one"), call("3", "write_one")}
	result := d.Dispatch(context.Background(), calls, CallbackSet{})

	require.Len(t, result.ToolReturns, 3)
	require.Equal(t, []string{"start", "start", "start"}, order)
	require.Equal(t, "1", result.ToolReturns[0].Parts[0].ToolCallID)
	require.Equal(t, "2", result.ToolReturns[1].Parts[0].ToolCallID)
	require.Equal(t, "3", result.ToolReturns[2].Parts[0].ToolCallID)
}

func TestDispatch_ReadsRunBeforeWritesRegardlessOfEmissionOrder(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{name: "reader", fn: func(ctx context.Context, args json.RawMessage) (string, error) { return "r", nil }})
	registry.Register(&fnTool{name: "writer", mutating: true, fn: func(ctx context.Context, args json.RawMessage) (string, error) { return "w", nil }})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)

	calls := []models.ToolCallRequest{call("w1", "writer"), call("r1", "reader")}
	result := d.Dispatch(context.Background(), calls, CallbackSet{})

	require.Len(t, result.ToolReturns, 2)
	require.Equal(t, "r1", result.ToolReturns[0].Parts[0].ToolCallID)
	require.Equal(t, "w1", result.ToolReturns[1].Parts[0].ToolCallID)
}

func TestDispatch_CallbacksFireInEmittedOrderNotCompletionOrder(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "variable_delay",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})
	// First call sleeps longest, so completion order would be reversed
	// without the deliver-in-order fix.
	delays := map[string]time.Duration{"1": 30 * time.Millisecond, "2": 10 * time.Millisecond, "3": 0}
	registry.Register(&fnTool{
		name: "delay",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})
	_ = delays

	var mu sync.Mutex
	var seen []string
	cbs := CallbackSet{OnToolResult: func(name string, status models.ToolCallStatus, args json.RawMessage, result string, d time.Duration) {
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
	}}

	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)
	calls := []models.ToolCallRequest{
		{ToolCallID: "1", ToolName: "variable_delay", Args: json.RawMessage(`{}`)},
		{ToolCallID: "2", ToolName: "variable_delay", Args: json.RawMessage(`{}`)},
	}
	d.Dispatch(context.Background(), calls, cbs)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"variable_delay", "variable_delay"}, seen)
}

func TestDispatch_ToolNotFoundFails(t *testing.T) {
	registry := NewToolRegistry()
	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)

	result := d.Dispatch(context.Background(), []models.ToolCallRequest{call("1", "missing")}, CallbackSet{})

	require.True(t, result.AnyFailed)
	require.Equal(t, models.ToolCallFailed, result.Records["1"].Status)
}

func TestDispatch_SuspiciousToolNameNeverExecuted(t *testing.T) {
	var executed bool
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "<evil>",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			executed = true
			return "", nil
		},
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)

	result := d.Dispatch(context.Background(), []models.ToolCallRequest{call("1", "<evil>")}, CallbackSet{})

	require.False(t, executed)
	require.True(t, result.AnyFailed)
}

func TestDispatch_ToolTimeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "slow",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{ToolTimeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	result := d.Dispatch(context.Background(), []models.ToolCallRequest{call("1", "slow")}, CallbackSet{})
	elapsed := time.Since(start)

	require.True(t, result.AnyFailed)
	require.Equal(t, models.ToolCallFailed, result.Records["1"].Status)
	require.Less(t, elapsed, 2*time.Second)
}

func TestDispatch_ContextCancelledMarksCancelled(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "slow",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{ToolTimeout: 5 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := d.Dispatch(ctx, []models.ToolCallRequest{call("1", "slow")}, CallbackSet{})
	require.True(t, result.AnyFailed)
	require.Equal(t, models.ToolCallCancelled, result.Records["1"].Status)
}

func TestDispatch_SchemaValidationRejectsBadArgs(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name:   "strict",
		schema: json.RawMessage(`{"type":"object","required":["q"],"properties":{"q":{"type":"string"}}}`),
		fn:     func(ctx context.Context, args json.RawMessage) (string, error) { return "ok", nil },
	})
	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil)

	badCall := models.ToolCallRequest{ToolCallID: "1", ToolName: "strict", Args: json.RawMessage(`{}`)}
	result := d.Dispatch(context.Background(), []models.ToolCallRequest{badCall}, CallbackSet{})

	require.True(t, result.AnyFailed)
}

func TestExtractToolCalls_PrefersStructuredParts(t *testing.T) {
	msg := models.Message{Parts: []models.Part{
		models.Text("calling a tool"),
		models.ToolCall("abc", "search", json.RawMessage(`{"q":"x"}`)),
	}}

	calls := ExtractToolCalls(msg)
	require.Len(t, calls, 1)
	require.Equal(t, "abc", calls[0].ToolCallID)
	require.Equal(t, "search", calls[0].ToolName)
	require.False(t, calls[0].Synthetic)
}

func TestExtractToolCalls_FallsBackToFreeText(t *testing.T) {
	text := fmt.Sprintf("I'll look that up.\n<tool_call>\n%s\n</tool_call>\n",
		`{"name": "search", "arguments": {"q": "weather"}}`)
	msg := models.NewUserMessage(text)
	msg.Role = models.RoleAssistant

	calls := ExtractToolCalls(msg)
	require.Len(t, calls, 1)
	require.Equal(t, "search", calls[0].ToolName)
	require.True(t, calls[0].Synthetic)
	require.NotEmpty(t, calls[0].ToolCallID)
}

func TestExtractToolCalls_NoIndicatorReturnsNil(t *testing.T) {
	msg := models.NewUserMessage("just some plain text, nothing to call")
	calls := ExtractToolCalls(msg)
	require.Nil(t, calls)
}

func TestExtractToolCalls_MalformedFreeTextIgnored(t *testing.T) {
	msg := models.NewUserMessage("<tool_call>not json</tool_call>")
	calls := ExtractToolCalls(msg)
	require.Empty(t, calls)
}

func TestReinsertSyntheticCalls_AppendsOnlySynthetic(t *testing.T) {
	msg := models.NewUserMessage("hi")
	calls := []models.ToolCallRequest{
		{ToolCallID: "1", ToolName: "search", Args: json.RawMessage(`{}`), Synthetic: true},
		{ToolCallID: "2", ToolName: "ignored", Args: json.RawMessage(`{}`), Synthetic: false},
	}
	out := ReinsertSyntheticCalls(msg, calls)
	require.Len(t, out.Parts, 2)
	require.Equal(t, models.PartToolCall, out.Parts[1].Type)
	require.Equal(t, "search", out.Parts[1].ToolName)
}

func TestDispatch_WithTracerSpansEachToolCall(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&fnTool{
		name: "read_one",
		fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{ServiceName: "test"})
	defer func() { _ = shutdown(context.Background()) }()

	d := NewToolDispatcher(registry, ToolDispatcherConfig{}, nil).WithTracer(tracer)
	result := d.Dispatch(context.Background(), []models.ToolCallRequest{call("1", "read_one")}, CallbackSet{})

	require.Len(t, result.ToolReturns, 1)
	require.False(t, result.AnyFailed)
}
