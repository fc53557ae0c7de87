package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

func setupHub(t *testing.T, capacity int) *Hub {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewHub(capacity, log)
}

func testEvent(id string) *v1.Event {
	return &v1.Event{
		ID:        id,
		Agent:     "summariser",
		Status:    v1.EventStatusProcessing,
		Timestamp: time.Now().UTC(),
	}
}

func TestSingleSubscriberInvariant(t *testing.T) {
	hub := setupHub(t, 8)

	_, err := hub.Open("session-1")
	require.NoError(t, err)

	_, err = hub.Open("session-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsBusy(err))

	// A different session opens independently.
	_, err = hub.Open("session-2")
	assert.NoError(t, err)

	// Closing frees the slot.
	hub.Close("session-1")
	_, err = hub.Open("session-1")
	assert.NoError(t, err)
}

func TestEmitDeliversInOrder(t *testing.T) {
	hub := setupHub(t, 8)
	sub, err := hub.Open("session-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Emit("session-1", testEvent(fmt.Sprintf("evt_%03d", i+1))))
	}
	hub.Close("session-1")

	var got []string
	for event := range sub.Events() {
		got = append(got, event.ID)
	}
	assert.Equal(t, []string{"evt_001", "evt_002", "evt_003"}, got)
}

func TestEmitWithoutSubscriber(t *testing.T) {
	hub := setupHub(t, 8)
	err := hub.Emit("nobody", testEvent("evt_001"))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOverflowDropsOldestAndInsertsMarker(t *testing.T) {
	hub := setupHub(t, 2)
	sub, err := hub.Open("session-1")
	require.NoError(t, err)

	require.NoError(t, hub.Emit("session-1", testEvent("evt_001")))
	require.NoError(t, hub.Emit("session-1", testEvent("evt_002")))
	require.NoError(t, hub.Emit("session-1", testEvent("evt_003")))
	hub.Close("session-1")

	var ids []string
	overflowMarkers := 0
	for event := range sub.Events() {
		ids = append(ids, event.ID)
		if event.Payload.Error == "buffer_overflow" {
			overflowMarkers++
		}
	}

	assert.Equal(t, 1, overflowMarkers, "exactly one buffer_overflow marker")
	assert.Contains(t, ids, "evt_003", "the newest event must survive the overflow")
	assert.NotContains(t, ids, "evt_001", "the oldest event is shed")
	assert.Greater(t, hub.Dropped(), int64(0))
}

func TestCancelSetsFlag(t *testing.T) {
	hub := setupHub(t, 8)
	sub, err := hub.Open("session-1")
	require.NoError(t, err)

	assert.False(t, sub.Cancelled())
	assert.True(t, hub.Cancel("session-1"))
	assert.True(t, sub.Cancelled())

	assert.False(t, hub.Cancel("unknown-session"))
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := setupHub(t, 8)
	_, err := hub.Open("session-1")
	require.NoError(t, err)

	hub.Close("session-1")
	hub.Close("session-1")
	assert.Equal(t, 0, hub.ActiveSubscriptions())
}
