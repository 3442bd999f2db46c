package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tunacode/agentcore/pkg/models"
)

func TestChanSink_Emit(t *testing.T) {
	ch := make(chan models.AgentEvent, 10)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), models.AgentEvent{Type: models.EventAgentStart, RunID: "test"})

	select {
	case received := <-ch:
		require.Equal(t, "test", received.RunID)
	default:
		t.Error("expected event in channel")
	}
}

func TestChanSink_FullChannel(t *testing.T) {
	ch := make(chan models.AgentEvent, 1)
	sink := NewChanSink(ch)
	sink.Emit(context.Background(), models.AgentEvent{RunID: "first"})

	done := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), models.AgentEvent{RunID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("ChanSink.Emit blocked on full channel")
	}
}

func TestChanSink_ContextCancelled(t *testing.T) {
	ch := make(chan models.AgentEvent, 1)
	sink := NewChanSink(ch)
	sink.Emit(context.Background(), models.AgentEvent{RunID: "first"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, models.AgentEvent{RunID: "cancelled"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("ChanSink.Emit blocked with cancelled context")
	}
}

func TestMultiSink_Emit(t *testing.T) {
	var order []string
	var mu sync.Mutex

	sink1 := NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		mu.Lock()
		order = append(order, "sink1")
		mu.Unlock()
	})
	sink2 := NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		mu.Lock()
		order = append(order, "sink2")
		mu.Unlock()
	})

	multi := NewMultiSink(sink1, sink2)
	multi.Emit(context.Background(), models.AgentEvent{})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"sink1", "sink2"}, order)
}

func TestMultiSink_FiltersNil(t *testing.T) {
	var called bool
	sink := NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		called = true
	})

	multi := NewMultiSink(nil, sink, nil)
	multi.Emit(context.Background(), models.AgentEvent{})
	require.True(t, called)
}

func TestCallbackSink_Emit(t *testing.T) {
	var received models.AgentEvent
	sink := NewCallbackSink(func(ctx context.Context, e models.AgentEvent) {
		received = e
	})

	sink.Emit(context.Background(), models.AgentEvent{Type: models.EventAgentStart, RunID: "callback-test"})
	require.Equal(t, "callback-test", received.RunID)
}

func TestCallbackSink_NilFunc(t *testing.T) {
	sink := NewCallbackSink(nil)
	sink.Emit(context.Background(), models.AgentEvent{})
}

func TestNopSink_Emit(t *testing.T) {
	sink := NopSink{}
	sink.Emit(context.Background(), models.AgentEvent{})
}

func TestBackpressureSink_DropsOnlyMessageUpdates(t *testing.T) {
	sink, out := NewBackpressureSink(BackpressureConfig{HighPriBuffer: 1, LowPriBuffer: 1})
	defer sink.Close()

	ctx := context.Background()
	sink.Emit(ctx, models.AgentEvent{Type: models.EventMessageUpdate})
	sink.Emit(ctx, models.AgentEvent{Type: models.EventMessageUpdate})
	sink.Emit(ctx, models.AgentEvent{Type: models.EventMessageUpdate})

	require.Greater(t, sink.DroppedCount(), uint64(0))

	// Drain without asserting exact count: low-pri lane is intentionally lossy.
	for i := 0; i < 2; i++ {
		select {
		case <-out:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestBackpressureSink_NeverDropsLifecycleEvents(t *testing.T) {
	sink, out := NewBackpressureSink(BackpressureConfig{HighPriBuffer: 4, LowPriBuffer: 4})
	defer sink.Close()

	ctx := context.Background()
	sink.Emit(ctx, models.AgentEvent{Type: models.EventTurnStart})
	sink.Emit(ctx, models.AgentEvent{Type: models.EventTurnEnd})

	got := map[models.AgentEventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-out:
			got[e.Type] = true
		case <-time.After(200 * time.Millisecond):
			t.Fatal("expected lifecycle event, got none")
		}
	}
	require.True(t, got[models.EventTurnStart])
	require.True(t, got[models.EventTurnEnd])
	require.Equal(t, uint64(0), sink.DroppedCount())
}
