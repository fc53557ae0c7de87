package a2a

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// defaultHistoryCapacity bounds the bus-level message archive.
const defaultHistoryCapacity = 1000

// Archiver persists accepted messages outside the bus (the session
// store's message history). Archiving is best-effort.
type Archiver interface {
	Archive(ctx context.Context, msg *Message)
}

// Stats is a point-in-time snapshot of bus activity.
type Stats struct {
	TotalPublished int                    `json:"total"`
	Pending        int                    `json:"pending"`
	ByType         map[MessageType]int    `json:"by_type"`
	AgentActivity  map[string]AgentCounts `json:"agent_activity"`
	Dropped        int                    `json:"dropped"`
	Expired        int                    `json:"expired"`
}

// AgentCounts tracks per-agent send/receive volumes.
type AgentCounts struct {
	Sent     int `json:"sent"`
	Received int `json:"received"`
}

// HistoryFilter narrows a history query.
type HistoryFilter struct {
	Agent         string
	Type          MessageType
	CorrelationID string
	Since         time.Time
}

// Bus is the in-process typed message exchange. Each registered agent owns
// a bounded priority queue; publishing signs and validates, receiving
// enforces TTL; completed messages land in a bounded history ring.
type Bus struct {
	security SecurityService
	archiver Archiver
	logger   *logger.Logger

	mu        sync.RWMutex
	queues    map[string]*recipientQueue
	inflight  map[string]*Message
	history   []*Message
	capacity  int
	histCap   int
	skew      time.Duration
	published int
	expired   int
	byType    map[MessageType]int
	activity  map[string]*AgentCounts

	dropped atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueCapacity bounds each recipient queue.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// WithHistoryCapacity bounds the history ring.
func WithHistoryCapacity(n int) Option {
	return func(b *Bus) { b.histCap = n }
}

// WithClockSkewTolerance sets the TTL clock-skew tolerance.
func WithClockSkewTolerance(d time.Duration) Option {
	return func(b *Bus) { b.skew = d }
}

// WithArchiver mirrors accepted messages into an external archive.
func WithArchiver(a Archiver) Option {
	return func(b *Bus) { b.archiver = a }
}

// NewBus creates a message bus backed by the given security service.
func NewBus(security SecurityService, log *logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		security: security,
		logger:   log.Component("a2a_bus"),
		queues:   make(map[string]*recipientQueue),
		inflight: make(map[string]*Message),
		capacity: 1024,
		histCap:  defaultHistoryCapacity,
		skew:     5 * time.Second,
		byType:   make(map[MessageType]int),
		activity: make(map[string]*AgentCounts),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterAgent creates the recipient queue for an agent. Registration is
// idempotent.
func (b *Bus) RegisterAgent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = newRecipientQueue(b.capacity)
		b.logger.Debug("registered agent", zap.String("agent", name))
	}
}

// RegisteredAgents returns the names of all registered agents.
func (b *Bus) RegisteredAgents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	return names
}

// Publish signs, validates, and enqueues a message. Broadcasts fan out to
// every registered agent except the sender. Errors carry a kind from the
// taxonomy and are always recoverable to the caller.
func (b *Bus) Publish(ctx context.Context, msg *Message) error {
	if err := msg.CheckShape(); err != nil {
		b.auditReject(msg, string(apperrors.KindMalformed), err.Error())
		return err
	}

	// Correlation: when absent, inherit from the parent message if one is
	// referenced, otherwise mint a new id. Settled before signing so the
	// signature covers it.
	if msg.Trace.CorrelationID == "" {
		if parent := msg.Trace.ParentMessageID; parent != "" {
			if cid, ok := b.correlationOf(parent); ok {
				msg.Trace.CorrelationID = cid
			}
		}
		if msg.Trace.CorrelationID == "" {
			msg.Trace.CorrelationID = uuid.New().String()
		}
	}

	// Enrich the security envelope and sign the canonical form.
	if err := b.security.Enrich(ctx, msg); err != nil {
		b.auditReject(msg, string(apperrors.KindMalformed), err.Error())
		return apperrors.Wrap(err, "signing message")
	}

	// Freshness is deliberately not gated here: TTL is enforced at
	// receive time, so a stale-but-authentic message may still enqueue.
	report := b.security.Validate(ctx, msg)
	if !report.IdentityTrusted || !report.SignatureValid || !report.SendAuthorised {
		detail := ""
		if len(report.Issues) > 0 {
			detail = report.Issues[0]
		}
		if !report.SendAuthorised {
			b.auditReject(msg, string(apperrors.KindUnauthorised), detail)
			return apperrors.Newf(apperrors.KindUnauthorised,
				"'%s' may not send %s to '%s'", msg.FromAgent, msg.MessageType, msg.ToAgent)
		}
		b.auditReject(msg, string(apperrors.KindMalformed), detail)
		return apperrors.Newf(apperrors.KindMalformed, "message failed validation: %s", detail)
	}
	msg.Security.Verified = true

	if err := b.enqueue(msg); err != nil {
		return err
	}

	b.mu.Lock()
	b.published++
	b.byType[msg.MessageType]++
	b.counts(msg.FromAgent).Sent++
	b.mu.Unlock()

	if b.archiver != nil {
		b.archiver.Archive(ctx, msg)
	}

	b.logger.Debug("published message",
		zap.String("message_id", msg.MessageID),
		zap.String("type", string(msg.MessageType)),
		zap.String("from", msg.FromAgent),
		zap.String("to", msg.ToAgent),
		zap.String("priority", string(msg.Priority)))
	return nil
}

func (b *Bus) enqueue(msg *Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg.IsBroadcast() {
		for name, q := range b.queues {
			if name == msg.FromAgent {
				continue
			}
			if err := q.enqueue(msg); err != nil {
				b.dropped.Add(1)
				b.logger.Warn("broadcast recipient queue full, dropping",
					zap.String("message_id", msg.MessageID),
					zap.String("recipient", name))
			}
		}
		return nil
	}

	q, ok := b.queues[msg.ToAgent]
	if !ok {
		return apperrors.UnknownRecipient(msg.ToAgent)
	}
	if err := q.enqueue(msg); err != nil {
		b.dropped.Add(1)
		return apperrors.Newf(apperrors.KindBusy, "queue for '%s' is full", msg.ToAgent)
	}
	return nil
}

// Receive drains the non-expired messages addressed to an agent, sorted by
// priority then timestamp, optionally filtered by type, and marks them
// processing. Expired messages are dropped and audited. Each agent must
// have a single consumer.
func (b *Bus) Receive(ctx context.Context, agent string, types ...MessageType) ([]*Message, error) {
	b.mu.RLock()
	q, ok := b.queues[agent]
	b.mu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownRecipient(agent)
	}

	typeSet := make(map[MessageType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	now := time.Now()
	drained := q.drain(typeSet)
	delivered := make([]*Message, 0, len(drained))
	for _, msg := range drained {
		if msg.Expired(now, b.skew) {
			b.mu.Lock()
			b.expired++
			b.mu.Unlock()
			b.auditReject(msg, string(apperrors.KindExpired), "ttl lapsed before delivery")
			continue
		}
		msg.Status = StatusProcessing
		delivered = append(delivered, msg)

		b.mu.Lock()
		b.inflight[msg.MessageID] = msg
		b.counts(agent).Received++
		b.mu.Unlock()
	}
	return delivered, nil
}

// Acknowledge finalises an in-flight message as completed or failed and
// moves it into the history ring.
func (b *Bus) Acknowledge(messageID string, completed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.inflight[messageID]
	if !ok {
		return apperrors.NotFound("message", messageID)
	}
	delete(b.inflight, messageID)

	if completed {
		msg.Status = StatusCompleted
	} else {
		msg.Status = StatusFailed
	}

	b.history = append(b.history, msg)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	return nil
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pending := 0
	for _, q := range b.queues {
		pending += q.size()
	}

	byType := make(map[MessageType]int, len(b.byType))
	for k, v := range b.byType {
		byType[k] = v
	}
	activity := make(map[string]AgentCounts, len(b.activity))
	for k, v := range b.activity {
		activity[k] = *v
	}

	return Stats{
		TotalPublished: b.published,
		Pending:        pending,
		ByType:         byType,
		AgentActivity:  activity,
		Dropped:        int(b.dropped.Load()),
		Expired:        b.expired,
	}
}

// History returns archived messages matching the filter, oldest first.
func (b *Bus) History(filter HistoryFilter, limit int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Message
	for _, msg := range b.history {
		if filter.Agent != "" && msg.FromAgent != filter.Agent && msg.ToAgent != filter.Agent {
			continue
		}
		if filter.Type != "" && msg.MessageType != filter.Type {
			continue
		}
		if filter.CorrelationID != "" && msg.Trace.CorrelationID != filter.CorrelationID {
			continue
		}
		if !filter.Since.IsZero() && msg.Time().Before(filter.Since) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// correlationOf resolves the correlation id of a previously published
// message: in-flight deliveries first, then the history ring newest
// first, then the live recipient queues.
func (b *Bus) correlationOf(messageID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg, ok := b.inflight[messageID]; ok {
		return msg.Trace.CorrelationID, true
	}
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].MessageID == messageID {
			return b.history[i].Trace.CorrelationID, true
		}
	}
	for _, q := range b.queues {
		if msg, ok := q.find(messageID); ok {
			return msg.Trace.CorrelationID, true
		}
	}
	return "", false
}

// counts returns the mutable activity counters for an agent. Caller must
// hold the bus lock.
func (b *Bus) counts(agent string) *AgentCounts {
	c, ok := b.activity[agent]
	if !ok {
		c = &AgentCounts{}
		b.activity[agent] = c
	}
	return c
}

func (b *Bus) auditReject(msg *Message, reason, detail string) {
	b.security.Audit(AuditRecord{
		MessageID: msg.MessageID,
		FromAgent: msg.FromAgent,
		ToAgent:   msg.ToAgent,
		Reason:    reason,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}
