package sessions

import (
	"context"
	"testing"

	"github.com/tunacode/agentcore/pkg/models"
)

func TestMemoryStore_GetOrCreateIsIdempotentByKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "agent:cli:local")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := store.GetOrCreate(ctx, "agent:cli:local")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same session id for same key, got %s vs %s", first.ID, second.ID)
	}
}

func TestMemoryStore_SaveAndGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "k")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	session.History = append(session.History, models.NewUserMessage("hello"))
	session.Usage = models.Usage{PromptTokens: 10}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(loaded.History) != 1 || loaded.History[0].TextContent() != "hello" {
		t.Fatalf("expected saved history to round-trip, got %+v", loaded.History)
	}
	if loaded.Usage.PromptTokens != 10 {
		t.Fatalf("expected usage to round-trip, got %+v", loaded.Usage)
	}
}

func TestMemoryStore_GetMutationIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, _ := store.GetOrCreate(ctx, "k")
	session.History = append(session.History, models.NewUserMessage("a"))
	store.Save(ctx, session)

	loaded, _ := store.Get(ctx, session.ID)
	loaded.History[0] = models.NewUserMessage("mutated")

	reloaded, _ := store.Get(ctx, session.ID)
	if reloaded.History[0].TextContent() != "a" {
		t.Fatalf("expected stored session to be isolated from caller mutation, got %q", reloaded.History[0].TextContent())
	}
}

func TestMemoryStore_GetUnknownID(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_WithMaxHistoryMessagesTrimsOldest(t *testing.T) {
	store := NewMemoryStore().WithMaxHistoryMessages(2)
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "k")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	session.History = []models.Message{
		models.NewUserMessage("first"),
		models.NewUserMessage("second"),
		models.NewUserMessage("third"),
	}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(loaded.History) != 2 {
		t.Fatalf("expected history trimmed to 2 messages, got %d", len(loaded.History))
	}
	if loaded.History[0].TextContent() != "second" || loaded.History[1].TextContent() != "third" {
		t.Fatalf("expected oldest message trimmed, got %+v", loaded.History)
	}
}
