package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/config"
	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/session"
)

// NewStore creates the configured store backend, wrapped with the
// per-call operation timeout.
func NewStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	var (
		backend Store
		err     error
	)

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		backend = NewMemoryStore(cfg.Store.HistoryCapacityPerSession)
	case config.StoreBackendFile:
		backend, err = NewSQLiteStore(cfg.Store.Path, cfg.Store.HistoryCapacityPerSession)
	case config.StoreBackendDocument:
		backend, err = NewFirestoreStore(ctx, cfg.Store.ProjectID, cfg.Store.HistoryCapacityPerSession)
	default:
		return nil, apperrors.ConfigInvalid("unknown store backend '" + cfg.Store.Backend + "'")
	}
	if err != nil {
		return nil, err
	}

	log.Info("session store ready",
		zap.String("backend", cfg.Store.Backend),
		zap.Duration("operation_timeout", cfg.Store.OperationTimeoutDuration()))

	return WithTimeout(backend, cfg.Store.OperationTimeoutDuration()), nil
}

// timedStore bounds every store call with a timeout so a slow backend can
// never stall the workflow.
type timedStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout wraps a store so every call is bounded by the given timeout.
func WithTimeout(inner Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return inner
	}
	return &timedStore{inner: inner, timeout: timeout}
}

func (t *timedStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timedStore) SaveContext(ctx context.Context, sc *session.Context) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.SaveContext(ctx, sc)
}

func (t *timedStore) LoadContext(ctx context.Context, sessionID string) (*session.Context, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.LoadContext(ctx, sessionID)
}

func (t *timedStore) DeleteContext(ctx context.Context, sessionID string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.DeleteContext(ctx, sessionID)
}

func (t *timedStore) ListContexts(ctx context.Context, limit int, afterCursor string) ([]string, string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ListContexts(ctx, limit, afterCursor)
}

func (t *timedStore) AppendHistory(ctx context.Context, sessionID string, msg *a2a.Message) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.AppendHistory(ctx, sessionID, msg)
}

func (t *timedStore) ReadHistory(ctx context.Context, sessionID string, filter HistoryFilter, limit int) ([]*a2a.Message, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.inner.ReadHistory(ctx, sessionID, filter, limit)
}

func (t *timedStore) Close() error {
	return t.inner.Close()
}
