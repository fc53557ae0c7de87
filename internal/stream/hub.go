// Package stream delivers time-ordered progress events from the workflow
// executor to a single subscribed client per session.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

// DefaultBufferCapacity is the per-session event buffer bound.
const DefaultBufferCapacity = 256

// Subscription is the single per-session client connection receiving the
// live event stream. The executor is the only producer; the delivery task
// is the only consumer.
type Subscription struct {
	sessionID  string
	events     chan *v1.Event
	cancelled  atomic.Bool
	closeOnce  sync.Once
	overflowed bool // producer-side only; true while the buffer is shedding
}

// SessionID returns the session this subscription serves.
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Events is the delivery channel, closed when the subscription closes.
func (s *Subscription) Events() <-chan *v1.Event {
	return s.events
}

// Cancelled reports whether the client requested cancellation. The
// executor polls this between agent steps.
func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}

// Cancel sets the session cancellation flag.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

// Hub manages event subscriptions and fan-in from executors.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	capacity int
	logger   *logger.Logger
	dropped  atomic.Int64
}

// NewHub creates a stream hub with the given per-session buffer capacity.
func NewHub(bufferCapacity int, log *logger.Logger) *Hub {
	if bufferCapacity <= 0 {
		bufferCapacity = DefaultBufferCapacity
	}
	return &Hub{
		subs:     make(map[string]*Subscription),
		capacity: bufferCapacity,
		logger:   log.Component("stream_hub"),
	}
}

// Open creates the subscription for a session. A second open for the same
// session fails with busy until the first closes.
func (h *Hub) Open(sessionID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subs[sessionID]; exists {
		return nil, apperrors.Newf(apperrors.KindBusy, "session '%s' already has a subscriber", sessionID)
	}

	sub := &Subscription{
		sessionID: sessionID,
		events:    make(chan *v1.Event, h.capacity),
	}
	h.subs[sessionID] = sub

	h.logger.Debug("subscription opened", zap.String("session_id", sessionID))
	return sub, nil
}

// Emit enqueues an event for the session's subscriber without blocking.
// On a full buffer the oldest events are shed to make room. The first
// overflow of a shedding episode also inserts a single buffer_overflow
// marker and so sheds two events; later overflows in the same episode
// shed one.
func (h *Hub) Emit(sessionID string, event *v1.Event) error {
	h.mu.RLock()
	sub, ok := h.subs[sessionID]
	h.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("subscription", sessionID)
	}

	select {
	case sub.events <- event:
		sub.overflowed = false
		return nil
	default:
	}

	// Buffer full: shed oldest entries, insert one overflow marker per
	// shedding episode, and always land the newest event.
	if !sub.overflowed {
		sub.overflowed = true
		h.shedOldest(sub)
		marker := &v1.Event{
			ID:        "evt_overflow",
			Agent:     "hub",
			Status:    v1.EventStatusError,
			Timestamp: time.Now().UTC(),
			Payload:   v1.EventPayload{Error: "buffer_overflow"},
		}
		select {
		case sub.events <- marker:
		default:
		}
	}

	h.shedOldest(sub)
	select {
	case sub.events <- event:
	default:
		h.dropped.Add(1)
	}

	h.logger.Warn("event buffer overflow",
		zap.String("session_id", sessionID),
		zap.Int64("dropped_total", h.dropped.Load()))
	return nil
}

// shedOldest discards the oldest buffered event if the buffer is full.
func (h *Hub) shedOldest(sub *Subscription) {
	if len(sub.events) < cap(sub.events) {
		return
	}
	select {
	case <-sub.events:
		h.dropped.Add(1)
	default:
	}
}

// Cancel turns a client-side cancel command into a workflow cancellation.
// Returns false when the session has no subscription.
func (h *Hub) Cancel(sessionID string) bool {
	h.mu.RLock()
	sub, ok := h.subs[sessionID]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	sub.Cancel()
	h.logger.Info("cancellation requested", zap.String("session_id", sessionID))
	return true
}

// Close tears down the session's subscription and closes its channel.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	sub, ok := h.subs[sessionID]
	if ok {
		delete(h.subs, sessionID)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Debug("subscription closed", zap.String("session_id", sessionID))
	}
}

// Dropped returns the total number of shed events.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ActiveSubscriptions returns the number of open subscriptions.
func (h *Hub) ActiveSubscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
