package models

import "time"

// Session is the durable owner of one conversation's history, compaction
// state, and cumulative usage, per spec.md §3's "Ownership and lifecycle"
// section. The tool call registry is deliberately absent here: it is
// request-scoped and ephemeral, never persisted with the session.
type Session struct {
	ID        string
	Key       string
	History   []Message
	Compact   CompactionRecord
	Usage     Usage
	CreatedAt time.Time
	UpdatedAt time.Time
}
