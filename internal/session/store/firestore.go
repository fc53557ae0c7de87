package store

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
)

// Firestore collection names.
const (
	collectionContexts = "agent_context"
	collectionHistory  = "message_history"
	subcollMessages    = "messages"
)

// FirestoreStore provides document-store-backed session persistence.
type FirestoreStore struct {
	client  *firestore.Client
	histCap int
}

// contextDoc is the stored form of a context snapshot.
type contextDoc struct {
	Snapshot  string    `firestore:"snapshot"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// historyDoc is the stored form of an archived message.
type historyDoc struct {
	Message     string  `firestore:"message"`
	PublishedAt float64 `firestore:"published_at"`
}

// Ensure FirestoreStore implements Store interface
var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore connects to the project's document store.
func NewFirestoreStore(ctx context.Context, projectID string, historyCapacity int) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, apperrors.StoreUnavailable("connecting to document store", err)
	}
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &FirestoreStore{client: client, histCap: historyCapacity}, nil
}

// Close releases the client connection.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// SaveContext overwrites the snapshot document for a session.
func (s *FirestoreStore) SaveContext(ctx context.Context, sc *session.Context) error {
	data, err := sc.Marshal()
	if err != nil {
		return apperrors.StoreUnavailable("serialising context", err)
	}

	_, err = s.client.Collection(collectionContexts).Doc(sc.SessionID).Set(ctx, contextDoc{
		Snapshot:  string(data),
		UpdatedAt: sc.UpdatedAt.UTC(),
	})
	if err != nil {
		return apperrors.StoreUnavailable("saving context", err)
	}
	return nil
}

// LoadContext returns the latest snapshot for a session.
func (s *FirestoreStore) LoadContext(ctx context.Context, sessionID string) (*session.Context, error) {
	snap, err := s.client.Collection(collectionContexts).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, apperrors.NotFound("session", sessionID)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("loading context", err)
	}

	var doc contextDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, apperrors.StoreUnavailable("decoding context document", err)
	}
	return session.Unmarshal([]byte(doc.Snapshot), nil)
}

// DeleteContext removes a session snapshot and its history subcollection.
func (s *FirestoreStore) DeleteContext(ctx context.Context, sessionID string) error {
	ref := s.client.Collection(collectionContexts).Doc(sessionID)
	if _, err := ref.Get(ctx); status.Code(err) == codes.NotFound {
		return apperrors.NotFound("session", sessionID)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return apperrors.StoreUnavailable("deleting context", err)
	}

	// Best-effort cleanup of the archived messages.
	iter := s.client.Collection(collectionHistory).Doc(sessionID).Collection(subcollMessages).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			break
		}
		_, _ = snap.Ref.Delete(ctx)
	}
	return nil
}

// ListContexts returns session ids newest first with cursor paging.
func (s *FirestoreStore) ListContexts(ctx context.Context, limit int, afterCursor string) ([]string, string, error) {
	query := s.client.Collection(collectionContexts).OrderBy("updated_at", firestore.Desc)

	if afterCursor != "" {
		cursorSnap, err := s.client.Collection(collectionContexts).Doc(afterCursor).Get(ctx)
		if err == nil {
			query = query.StartAfter(cursorSnap.Data()["updated_at"])
		}
	}
	if limit > 0 {
		query = query.Limit(limit + 1)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, "", apperrors.StoreUnavailable("listing contexts", err)
		}
		ids = append(ids, snap.Ref.ID)
	}

	nextCursor := ""
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
		nextCursor = ids[len(ids)-1]
	}
	return ids, nextCursor, nil
}

// AppendHistory appends a message document and trims the archive past
// capacity.
func (s *FirestoreStore) AppendHistory(ctx context.Context, sessionID string, msg *a2a.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperrors.StoreUnavailable("serialising message", err)
	}

	coll := s.client.Collection(collectionHistory).Doc(sessionID).Collection(subcollMessages)
	if _, err := coll.Doc(msg.MessageID).Set(ctx, historyDoc{
		Message:     string(data),
		PublishedAt: msg.Timestamp,
	}); err != nil {
		return apperrors.StoreUnavailable("appending history", err)
	}

	// Trim oldest entries beyond capacity.
	iter := coll.OrderBy("published_at", firestore.Desc).Offset(s.histCap).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			break
		}
		_, _ = snap.Ref.Delete(ctx)
	}
	return nil
}

// ReadHistory returns archived messages matching the filter, oldest first.
func (s *FirestoreStore) ReadHistory(ctx context.Context, sessionID string, filter HistoryFilter, limit int) ([]*a2a.Message, error) {
	coll := s.client.Collection(collectionHistory).Doc(sessionID).Collection(subcollMessages)
	iter := coll.OrderBy("published_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*a2a.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.StoreUnavailable("reading history", err)
		}

		var doc historyDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		var msg a2a.Message
		if err := json.Unmarshal([]byte(doc.Message), &msg); err != nil {
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
	return out, nil
}
