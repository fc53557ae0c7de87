package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
)

// SQLiteStore provides sqlite-backed session persistence in a local file.
type SQLiteStore struct {
	db      *sql.DB
	histCap int
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database file and initialises the
// schema.
func NewSQLiteStore(dbPath string, historyCapacity int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	s := &SQLiteStore{db: db, histCap: historyCapacity}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables if they don't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_context (
		session_id TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_history (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (session_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_agent_context_updated_at ON agent_context(updated_at);
	CREATE INDEX IF NOT EXISTS idx_message_history_seq ON message_history(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveContext upserts the snapshot for a session.
func (s *SQLiteStore) SaveContext(ctx context.Context, sc *session.Context) error {
	data, err := sc.Marshal()
	if err != nil {
		return apperrors.StoreUnavailable("serialising context", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_context (session_id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`, sc.SessionID, string(data), sc.UpdatedAt.UTC())
	if err != nil {
		return apperrors.StoreUnavailable("saving context", err)
	}
	return nil
}

// LoadContext returns the latest snapshot for a session.
func (s *SQLiteStore) LoadContext(ctx context.Context, sessionID string) (*session.Context, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM agent_context WHERE session_id = ?`, sessionID,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("loading context", err)
	}
	return session.Unmarshal([]byte(snapshot), nil)
}

// DeleteContext removes a session snapshot and its history.
func (s *SQLiteStore) DeleteContext(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_context WHERE session_id = ?`, sessionID)
	if err != nil {
		return apperrors.StoreUnavailable("deleting context", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.NotFound("session", sessionID)
	}
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM message_history WHERE session_id = ?`, sessionID)
	return nil
}

// ListContexts returns session ids newest first with cursor paging.
func (s *SQLiteStore) ListContexts(ctx context.Context, limit int, afterCursor string) ([]string, string, error) {
	query := `SELECT session_id FROM agent_context ORDER BY updated_at DESC, session_id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, "", apperrors.StoreUnavailable("listing contexts", err)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", apperrors.StoreUnavailable("scanning context row", err)
		}
		all = append(all, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperrors.StoreUnavailable("iterating context rows", err)
	}

	start := 0
	if afterCursor != "" {
		for i, id := range all {
			if id == afterCursor {
				start = i + 1
				break
			}
		}
	}

	var ids []string
	for i := start; i < len(all); i++ {
		ids = append(ids, all[i])
		if limit > 0 && len(ids) >= limit {
			break
		}
	}

	nextCursor := ""
	if len(ids) > 0 && start+len(ids) < len(all) {
		nextCursor = ids[len(ids)-1]
	}
	return ids, nextCursor, nil
}

// AppendHistory appends a message to the session archive, evicting the
// oldest entries past capacity.
func (s *SQLiteStore) AppendHistory(ctx context.Context, sessionID string, msg *a2a.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.StoreUnavailable("serialising message", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.StoreUnavailable("beginning history transaction", err)
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM message_history WHERE session_id = ?`, sessionID,
	).Scan(&nextSeq); err != nil {
		return apperrors.StoreUnavailable("sequencing history", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO message_history (session_id, message_id, seq, message)
		VALUES (?, ?, ?, ?)
	`, sessionID, msg.MessageID, nextSeq, string(data)); err != nil {
		return apperrors.StoreUnavailable("appending history", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM message_history
		WHERE session_id = ? AND seq <= (
			SELECT COALESCE(MAX(seq), 0) - ? FROM message_history WHERE session_id = ?
		)
	`, sessionID, s.histCap, sessionID); err != nil {
		return apperrors.StoreUnavailable("trimming history", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.StoreUnavailable("committing history", err)
	}
	return nil
}

// ReadHistory returns archived messages matching the filter, oldest first.
func (s *SQLiteStore) ReadHistory(ctx context.Context, sessionID string, filter HistoryFilter, limit int) ([]*a2a.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM message_history WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, apperrors.StoreUnavailable("reading history", err)
	}
	defer rows.Close()

	var out []*a2a.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, apperrors.StoreUnavailable("scanning history row", err)
		}
		var msg a2a.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if !matchesHistory(&msg, filter) {
			continue
		}
		out = append(out, &msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}
