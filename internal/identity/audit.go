package identity

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// defaultAuditCapacity bounds the in-memory audit trail.
const defaultAuditCapacity = 4096

// AuditLog keeps a bounded in-memory trail of sanitised security records
// and mirrors each entry to the structured log. Payload data never enters
// the trail.
type AuditLog struct {
	mu       sync.RWMutex
	records  []a2a.AuditRecord
	capacity int
	logger   *logger.Logger
}

// NewAuditLog creates an audit log with the default capacity.
func NewAuditLog(log *logger.Logger) *AuditLog {
	return &AuditLog{
		capacity: defaultAuditCapacity,
		logger:   log.Component("audit"),
	}
}

// Record appends an audit entry, evicting the oldest past capacity.
func (a *AuditLog) Record(record a2a.AuditRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	a.records = append(a.records, record)
	if len(a.records) > a.capacity {
		a.records = a.records[len(a.records)-a.capacity:]
	}
	a.mu.Unlock()

	a.logger.Warn("security audit event",
		zap.String("message_id", record.MessageID),
		zap.String("from_agent", record.FromAgent),
		zap.String("to_agent", record.ToAgent),
		zap.String("reason", record.Reason),
		zap.String("detail", record.Detail))
}

// Records returns a copy of the audit trail, newest last.
func (a *AuditLog) Records() []a2a.AuditRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]a2a.AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}

// RecordsByReason returns audit entries matching the given reason.
func (a *AuditLog) RecordsByReason(reason string) []a2a.AuditRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []a2a.AuditRecord
	for _, r := range a.records {
		if r.Reason == reason {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of retained audit entries.
func (a *AuditLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
