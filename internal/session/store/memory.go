package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
)

// MemoryStore provides in-memory session persistence.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[string]*storedContext
	history  map[string][]*a2a.Message
	histCap  int
}

type storedContext struct {
	snapshot  []byte
	updatedAt time.Time
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(historyCapacity int) *MemoryStore {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &MemoryStore{
		contexts: make(map[string]*storedContext),
		history:  make(map[string][]*a2a.Message),
		histCap:  historyCapacity,
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// SaveContext stores a serialised snapshot of the context.
func (s *MemoryStore) SaveContext(ctx context.Context, sc *session.Context) error {
	data, err := sc.Marshal()
	if err != nil {
		return apperrors.StoreUnavailable("serialising context", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sc.SessionID] = &storedContext{snapshot: data, updatedAt: sc.UpdatedAt}
	return nil
}

// LoadContext returns the latest snapshot for a session.
func (s *MemoryStore) LoadContext(ctx context.Context, sessionID string) (*session.Context, error) {
	s.mu.RLock()
	stored, ok := s.contexts[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	return session.Unmarshal(stored.snapshot, nil)
}

// DeleteContext removes a session snapshot.
func (s *MemoryStore) DeleteContext(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[sessionID]; !ok {
		return apperrors.NotFound("session", sessionID)
	}
	delete(s.contexts, sessionID)
	delete(s.history, sessionID)
	return nil
}

// ListContexts returns session ids newest first with cursor paging.
func (s *MemoryStore) ListContexts(ctx context.Context, limit int, afterCursor string) ([]string, string, error) {
	s.mu.RLock()
	type entry struct {
		id        string
		updatedAt time.Time
	}
	entries := make([]entry, 0, len(s.contexts))
	for id, stored := range s.contexts {
		entries = append(entries, entry{id: id, updatedAt: stored.updatedAt})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].updatedAt.Equal(entries[j].updatedAt) {
			return entries[i].updatedAt.After(entries[j].updatedAt)
		}
		return entries[i].id < entries[j].id
	})

	start := 0
	if afterCursor != "" {
		for i, e := range entries {
			if e.id == afterCursor {
				start = i + 1
				break
			}
		}
	}

	var ids []string
	for i := start; i < len(entries); i++ {
		ids = append(ids, entries[i].id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}

	nextCursor := ""
	if len(ids) > 0 && start+len(ids) < len(entries) {
		nextCursor = ids[len(ids)-1]
	}
	return ids, nextCursor, nil
}

// AppendHistory appends a message to the session's bounded ring.
func (s *MemoryStore) AppendHistory(ctx context.Context, sessionID string, msg *a2a.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.history[sessionID], msg)
	if len(ring) > s.histCap {
		ring = ring[len(ring)-s.histCap:]
	}
	s.history[sessionID] = ring
	return nil
}

// ReadHistory returns archived messages matching the filter, oldest first.
func (s *MemoryStore) ReadHistory(ctx context.Context, sessionID string, filter HistoryFilter, limit int) ([]*a2a.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*a2a.Message
	for _, msg := range s.history[sessionID] {
		if !matchesHistory(msg, filter) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
