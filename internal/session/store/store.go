// Package store provides durable persistence of session context snapshots
// and A2A message history, keyed by session id.
package store

import (
	"context"
	"time"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
)

// DefaultHistoryCapacity bounds the per-session message archive.
const DefaultHistoryCapacity = 1000

// HistoryFilter narrows a history read.
type HistoryFilter struct {
	Agent string
	Type  a2a.MessageType
	Since time.Time
}

// Store is the persistence interface for session contexts and message
// history. Implementations back onto a document store, an in-memory map,
// or a local sqlite file.
type Store interface {
	// SaveContext overwrites the snapshot for the context's session id.
	// The write is atomic at the record level.
	SaveContext(ctx context.Context, sc *session.Context) error

	// LoadContext returns the latest snapshot, or a not_found error.
	LoadContext(ctx context.Context, sessionID string) (*session.Context, error)

	// DeleteContext removes a snapshot, returning not_found if absent.
	DeleteContext(ctx context.Context, sessionID string) error

	// ListContexts returns session ids newest first, with cursor paging.
	ListContexts(ctx context.Context, limit int, afterCursor string) (ids []string, nextCursor string, err error)

	// AppendHistory appends a message to the session's bounded archive,
	// evicting the oldest entry past capacity.
	AppendHistory(ctx context.Context, sessionID string, msg *a2a.Message) error

	// ReadHistory returns archived messages matching the filter, oldest
	// first, up to limit.
	ReadHistory(ctx context.Context, sessionID string, filter HistoryFilter, limit int) ([]*a2a.Message, error)

	// Close releases backing resources.
	Close() error
}

// matchesHistory reports whether a message passes a history filter.
func matchesHistory(msg *a2a.Message, filter HistoryFilter) bool {
	if filter.Agent != "" && msg.FromAgent != filter.Agent && msg.ToAgent != filter.Agent {
		return false
	}
	if filter.Type != "" && msg.MessageType != filter.Type {
		return false
	}
	if !filter.Since.IsZero() && msg.Time().Before(filter.Since) {
		return false
	}
	return true
}
