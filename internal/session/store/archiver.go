package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/logger"
)

// BusArchiver mirrors accepted bus messages into the store's per-session
// history, keyed by the message's correlation id. Archiving is
// best-effort: store failures are logged and swallowed.
type BusArchiver struct {
	store  Store
	logger *logger.Logger
}

var _ a2a.Archiver = (*BusArchiver)(nil)

// NewBusArchiver creates an archiver over the given store.
func NewBusArchiver(s Store, log *logger.Logger) *BusArchiver {
	return &BusArchiver{
		store:  s,
		logger: log.Component("bus_archiver"),
	}
}

// Archive implements a2a.Archiver.
func (a *BusArchiver) Archive(ctx context.Context, msg *a2a.Message) {
	sessionID := msg.Trace.CorrelationID
	if sessionID == "" {
		return
	}
	if err := a.store.AppendHistory(ctx, sessionID, msg); err != nil {
		a.logger.Warn("failed to archive message",
			zap.String("message_id", msg.MessageID),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
