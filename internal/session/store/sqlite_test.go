package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "navigator.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	st := setupSQLite(t)
	ctx := context.Background()

	sc := testContext("The mitochondrion is the powerhouse of the cell.")
	sc.SummaryText = "a summary"
	sc.KeyEntities = []string{"mitochondrion", "cell"}
	require.NoError(t, st.SaveContext(ctx, sc))

	loaded, err := st.LoadContext(ctx, sc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sc.SessionID, loaded.SessionID)
	assert.Equal(t, sc.SummaryText, loaded.SummaryText)
	assert.Equal(t, sc.KeyEntities, loaded.KeyEntities)
}

func TestSQLiteUpsert(t *testing.T) {
	st := setupSQLite(t)
	ctx := context.Background()

	sc := testContext("input")
	require.NoError(t, st.SaveContext(ctx, sc))
	sc.SummaryText = "rewritten"
	require.NoError(t, st.SaveContext(ctx, sc))

	loaded, err := st.LoadContext(ctx, sc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", loaded.SummaryText)
}

func TestSQLiteLoadNotFound(t *testing.T) {
	st := setupSQLite(t)
	_, err := st.LoadContext(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSQLiteDeleteRemovesHistory(t *testing.T) {
	st := setupSQLite(t)
	ctx := context.Background()

	sc := testContext("input")
	require.NoError(t, st.SaveContext(ctx, sc))
	require.NoError(t, st.AppendHistory(ctx, sc.SessionID, historyMessage(sc.SessionID)))

	require.NoError(t, st.DeleteContext(ctx, sc.SessionID))

	_, err := st.LoadContext(ctx, sc.SessionID)
	assert.True(t, apperrors.IsNotFound(err))

	messages, err := st.ReadHistory(ctx, sc.SessionID, HistoryFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSQLiteHistoryBound(t *testing.T) {
	st := setupSQLite(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendHistory(ctx, "session-1", historyMessage("session-1")))
	}

	messages, err := st.ReadHistory(ctx, "session-1", HistoryFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}

func TestSQLiteListWithCursor(t *testing.T) {
	st := setupSQLite(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sc := testContext("input")
		require.NoError(t, st.SaveContext(ctx, sc))
		ids = append(ids, sc.SessionID)
	}

	page, cursor, err := st.ListContexts(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 2)
	require.NotEmpty(t, cursor)

	rest, next, err := st.ListContexts(ctx, 2, cursor)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Empty(t, next)

	assert.ElementsMatch(t, ids, append(page, rest...))
}
