package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunacode/agentcore/pkg/models"
)

// defaultMaxHistoryMessages bounds in-memory history growth; the Compaction
// Controller is expected to keep real sessions well under this before it is
// ever reached (spec.md §4.4), so this is a hard backstop, not the trigger.
// Overridable via WithMaxHistoryMessages from config.SessionConfig.
const defaultMaxHistoryMessages = 5000

// MemoryStore is an in-memory Store implementation, grounded on the
// teacher's internal/sessions/memory.go deep-clone discipline: every Get/Save
// copies in and out so callers can never mutate a stored session through a
// returned pointer.
type MemoryStore struct {
	mu                 sync.RWMutex
	sessions           map[string]*models.Session
	byKey              map[string]string
	maxHistoryMessages int
}

// NewMemoryStore creates a new in-memory session store with the default
// history backstop.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:           map[string]*models.Session{},
		byKey:              map[string]string{},
		maxHistoryMessages: defaultMaxHistoryMessages,
	}
}

// WithMaxHistoryMessages overrides the backstop (config.SessionConfig's
// MaxHistoryMessages); a non-positive value restores the default.
func (m *MemoryStore) WithMaxHistoryMessages(n int) *MemoryStore {
	if n <= 0 {
		n = defaultMaxHistoryMessages
	}
	m.mu.Lock()
	m.maxHistoryMessages = n
	m.mu.Unlock()
	return m
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, key string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		if session, ok := m.sessions[id]; ok {
			return cloneSession(session), nil
		}
	}

	now := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[session.ID] = session
	m.byKey[key] = session.ID
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneSession(session)
	clone.UpdatedAt = time.Now()
	if limit := m.maxHistoryMessages; limit > 0 && len(clone.History) > limit {
		clone.History = clone.History[len(clone.History)-limit:]
	}
	m.sessions[clone.ID] = clone
	if clone.Key != "" {
		m.byKey[clone.Key] = clone.ID
	}
	return nil
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	clone := *session
	clone.History = cloneMessages(session.History)
	return &clone
}

func cloneMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]models.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		out[i].Parts = append([]models.Part{}, msg.Parts...)
	}
	return out
}
