package a2a

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := NewMessage(AgentSummariser, AgentOrchestrator, PriorityHigh, SummarizationCompleted{
		SummaryText: "a short summary",
		Insights:    map[string]any{"word_count": float64(12)},
	})
	msg.TTLSeconds = 30
	msg.Trace.CorrelationID = "session-1"

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.MessageType, decoded.MessageType)
	assert.Equal(t, msg.Timestamp, decoded.Timestamp)
	assert.Equal(t, msg.TTLSeconds, decoded.TTLSeconds)
	assert.Equal(t, msg.Trace.CorrelationID, decoded.Trace.CorrelationID)

	payload, ok := decoded.Data.(SummarizationCompleted)
	require.True(t, ok)
	assert.Equal(t, "a short summary", payload.SummaryText)
}

func TestUnmarshalRejectsUnknownPayloadKeys(t *testing.T) {
	msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	generic["data"] = map[string]any{"task_name": "t", "rogue_key": true}
	tampered, err := json.Marshal(generic)
	require.NoError(t, err)

	var decoded Message
	assert.Error(t, json.Unmarshal(tampered, &decoded))
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})

	first, err := msg.CanonicalBytes()
	require.NoError(t, err)
	second, err := msg.CanonicalBytes()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCanonicalBytesIgnoreSignature(t *testing.T) {
	msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})

	unsigned, err := msg.CanonicalBytes()
	require.NoError(t, err)

	msg.Security.Signature = "deadbeef"
	msg.Security.Verified = true
	signed, err := msg.CanonicalBytes()
	require.NoError(t, err)

	assert.Equal(t, unsigned, signed)
}

func TestCanonicalBytesStableAcrossRoundTrip(t *testing.T) {
	msg := NewMessage(AgentLinker, AgentOrchestrator, PriorityLow, RelationshipMapped{
		Entities:      []string{"cell", "mitochondrion"},
		Relationships: nil,
	})

	before, err := msg.CanonicalBytes()
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	after, err := decoded.CanonicalBytes()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	skew := 5 * time.Second

	t.Run("ttl zero never expires", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.Timestamp -= 3600
		msg.TTLSeconds = 0
		assert.False(t, msg.Expired(now, skew))
	})

	t.Run("lapsed ttl expires", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.Timestamp -= 10
		msg.TTLSeconds = 1
		assert.True(t, msg.Expired(now, skew))
	})

	t.Run("skew tolerance holds expiry back", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.Timestamp -= 12
		msg.TTLSeconds = 10
		assert.False(t, msg.Expired(now, skew))
	})
}

func TestCheckShape(t *testing.T) {
	t.Run("valid message passes", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		assert.NoError(t, msg.CheckShape())
	})

	t.Run("missing data fails", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.Data = nil
		assert.Error(t, msg.CheckShape())
	})

	t.Run("mismatched payload type fails", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.MessageType = TypeAgentStatus
		assert.Error(t, msg.CheckShape())
	})

	t.Run("negative ttl fails", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.TTLSeconds = -1
		assert.Error(t, msg.CheckShape())
	})

	t.Run("unknown priority fails", func(t *testing.T) {
		msg := NewMessage(AgentOrchestrator, AgentSummariser, PriorityMedium, TaskDelegation{TaskName: "t"})
		msg.Priority = "urgent"
		assert.Error(t, msg.CheckShape())
	})
}

func TestPriorityRanking(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
}
