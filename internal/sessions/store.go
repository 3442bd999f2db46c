// Package sessions owns the durable conversation container: history,
// cumulative usage, and the current compaction record. Persistence to disk
// is out of scope (spec.md §1's Non-goals); Store exists so the Request
// Orchestrator depends on an interface rather than the in-memory
// implementation directly, matching the teacher's internal/sessions split
// between Store and MemoryStore.
package sessions

import (
	"context"
	"errors"

	"github.com/tunacode/agentcore/pkg/models"
)

// ErrNotFound is returned when a session key has no matching session.
var ErrNotFound = errors.New("session not found")

// Store is the interface the Request Orchestrator uses to load and persist
// session state between requests.
type Store interface {
	GetOrCreate(ctx context.Context, key string) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
}
