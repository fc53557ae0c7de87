package a2a_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/config"
	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/identity"
)

type busFixture struct {
	bus   *a2a.Bus
	audit *identity.AuditLog
}

func setupBus(t *testing.T, opts ...a2a.Option) *busFixture {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: config.EnvDevelopment,
		Security: config.SecurityConfig{
			SigningKey:       "bus-test-key",
			PBKDF2Iterations: 100000,
		},
		Bus: config.BusConfig{
			QueueCapacity:      64,
			ClockSkewTolerance: 5,
		},
	}

	audit := identity.NewAuditLog(log)
	security := identity.NewSecurityService(cfg, identity.NewService(cfg.Environment, log), audit, log)

	bus := a2a.NewBus(security, log, append([]a2a.Option{
		a2a.WithQueueCapacity(cfg.Bus.QueueCapacity),
		a2a.WithClockSkewTolerance(cfg.Bus.ClockSkewToleranceDuration()),
	}, opts...)...)
	for _, name := range a2a.CanonicalSequence() {
		bus.RegisterAgent(name)
	}
	return &busFixture{bus: bus, audit: audit}
}

func TestPublishAndReceive(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityHigh, a2a.TaskDelegation{
		TaskName: "summariser_step",
	})
	require.NoError(t, f.bus.Publish(ctx, msg))

	// Delivered message is verified and marked processing.
	received, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.True(t, received[0].Security.Verified)
	assert.Equal(t, a2a.StatusProcessing, received[0].Status)
	assert.NotEmpty(t, received[0].Trace.CorrelationID)

	// Consumed once: a second receive returns nothing.
	again, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPriorityThenTimestampDelivery(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	low := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentLinker, a2a.PriorityLow, a2a.TaskDelegation{TaskName: "low"})
	critical := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentLinker, a2a.PriorityCritical, a2a.TaskDelegation{TaskName: "critical"})
	require.NoError(t, f.bus.Publish(ctx, low))
	require.NoError(t, f.bus.Publish(ctx, critical))

	received, err := f.bus.Receive(ctx, a2a.AgentLinker)
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, a2a.PriorityCritical, received[0].Priority)
	assert.Equal(t, a2a.PriorityLow, received[1].Priority)
}

func TestBroadcastExcludesSender(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.Broadcast, a2a.PriorityMedium, a2a.AgentStatus{
		Agent: a2a.AgentOrchestrator,
		State: "completed",
	})
	require.NoError(t, f.bus.Publish(ctx, msg))

	for _, name := range []string{a2a.AgentSummariser, a2a.AgentLinker, a2a.AgentVisualiser} {
		received, err := f.bus.Receive(ctx, name)
		require.NoError(t, err)
		assert.Len(t, received, 1, "agent %s should receive the broadcast", name)
	}

	own, err := f.bus.Receive(ctx, a2a.AgentOrchestrator)
	require.NoError(t, err)
	assert.Empty(t, own, "the sender must not receive its own broadcast")
}

func TestUnauthorisedSenderRejected(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentSummariser, a2a.AgentLinker, a2a.PriorityHigh, a2a.TaskDelegation{
		TaskName: "linker_step",
	})
	err := f.bus.Publish(ctx, msg)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnauthorised))

	// Nothing was enqueued for the recipient.
	received, err := f.bus.Receive(ctx, a2a.AgentLinker)
	require.NoError(t, err)
	assert.Empty(t, received)

	// Exactly one audit record with the unauthorised reason.
	records := f.audit.RecordsByReason(string(apperrors.KindUnauthorised))
	require.Len(t, records, 1)
	assert.Equal(t, msg.MessageID, records[0].MessageID)
}

func TestExpiredMessageDroppedAtReceive(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{
		TaskName: "summariser_step",
	})
	msg.Timestamp -= 10
	msg.TTLSeconds = 1

	// Publish accepts: validation is signature-centric, TTL is enforced at
	// receive time.
	require.NoError(t, f.bus.Publish(ctx, msg))

	received, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	assert.Empty(t, received)

	records := f.audit.RecordsByReason(string(apperrors.KindExpired))
	require.Len(t, records, 1)
	assert.Equal(t, msg.MessageID, records[0].MessageID)
	assert.Equal(t, 1, f.bus.Stats().Expired)
}

func TestTTLZeroNeverExpires(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{
		TaskName: "summariser_step",
	})
	msg.Timestamp -= 3600
	msg.TTLSeconds = 0
	require.NoError(t, f.bus.Publish(ctx, msg))

	received, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	assert.Len(t, received, 1)
}

func TestFullQueueReturnsBusy(t *testing.T) {
	f := setupBus(t, a2a.WithQueueCapacity(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "fill"})
		require.NoError(t, f.bus.Publish(ctx, msg))
	}

	overflow := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "overflow"})
	err := f.bus.Publish(ctx, overflow)
	require.Error(t, err)
	assert.True(t, apperrors.IsBusy(err))
	assert.Equal(t, 1, f.bus.Stats().Dropped)
}

func TestUnknownRecipient(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, "archivist", a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	err := f.bus.Publish(ctx, msg)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownRecipient))
}

func TestMalformedMessageRejected(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	msg.Priority = "urgent"

	err := f.bus.Publish(ctx, msg)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindMalformed))
	require.Len(t, f.audit.RecordsByReason(string(apperrors.KindMalformed)), 1)
}

func TestAcknowledgeMovesToHistory(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	require.NoError(t, f.bus.Publish(ctx, msg))

	received, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	require.Len(t, received, 1)

	require.NoError(t, f.bus.Acknowledge(received[0].MessageID, true))
	assert.Equal(t, a2a.StatusCompleted, received[0].Status)

	history := f.bus.History(a2a.HistoryFilter{Agent: a2a.AgentSummariser}, 0)
	require.Len(t, history, 1)
	assert.Equal(t, msg.MessageID, history[0].MessageID)

	// Acknowledging twice fails with not_found.
	err = f.bus.Acknowledge(received[0].MessageID, true)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCorrelationIDConstantAcrossRun(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	first := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	first.Trace.CorrelationID = "session-42"
	require.NoError(t, f.bus.Publish(ctx, first))

	second := a2a.NewMessage(a2a.AgentSummariser, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.SummarizationCompleted{SummaryText: "s"})
	second.Trace.CorrelationID = "session-42"
	second.Trace.ParentMessageID = first.MessageID
	require.NoError(t, f.bus.Publish(ctx, second))

	assert.Equal(t, "session-42", first.Trace.CorrelationID)
	assert.Equal(t, "session-42", second.Trace.CorrelationID)
}

func TestCorrelationInheritedFromParent(t *testing.T) {
	t.Run("parent still queued", func(t *testing.T) {
		f := setupBus(t)
		ctx := context.Background()

		parent := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
		require.NoError(t, f.bus.Publish(ctx, parent))
		require.NotEmpty(t, parent.Trace.CorrelationID)

		child := a2a.NewMessage(a2a.AgentSummariser, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.SummarizationCompleted{SummaryText: "s"})
		child.Trace.ParentMessageID = parent.MessageID
		require.Empty(t, child.Trace.CorrelationID)
		require.NoError(t, f.bus.Publish(ctx, child))

		assert.Equal(t, parent.Trace.CorrelationID, child.Trace.CorrelationID)
	})

	t.Run("parent acknowledged into history", func(t *testing.T) {
		f := setupBus(t)
		ctx := context.Background()

		parent := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
		require.NoError(t, f.bus.Publish(ctx, parent))

		received, err := f.bus.Receive(ctx, a2a.AgentSummariser)
		require.NoError(t, err)
		require.Len(t, received, 1)
		require.NoError(t, f.bus.Acknowledge(parent.MessageID, true))

		child := a2a.NewMessage(a2a.AgentSummariser, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.SummarizationCompleted{SummaryText: "s"})
		child.Trace.ParentMessageID = parent.MessageID
		require.NoError(t, f.bus.Publish(ctx, child))

		assert.Equal(t, parent.Trace.CorrelationID, child.Trace.CorrelationID)
	})

	t.Run("unknown parent mints a fresh id", func(t *testing.T) {
		f := setupBus(t)
		ctx := context.Background()

		child := a2a.NewMessage(a2a.AgentSummariser, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.SummarizationCompleted{SummaryText: "s"})
		child.Trace.ParentMessageID = "no-such-message"
		require.NoError(t, f.bus.Publish(ctx, child))

		assert.NotEmpty(t, child.Trace.CorrelationID)
	})
}

func TestStatsTracksActivity(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	msg := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	require.NoError(t, f.bus.Publish(ctx, msg))

	stats := f.bus.Stats()
	assert.Equal(t, 1, stats.TotalPublished)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.ByType[a2a.TypeTaskDelegation])
	assert.Equal(t, 1, stats.AgentActivity[a2a.AgentOrchestrator].Sent)

	_, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)

	stats = f.bus.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.AgentActivity[a2a.AgentSummariser].Received)
}

func TestReceiveTypeFilter(t *testing.T) {
	f := setupBus(t)
	ctx := context.Background()

	delegation := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.TaskDelegation{TaskName: "t"})
	status := a2a.NewMessage(a2a.AgentOrchestrator, a2a.AgentSummariser, a2a.PriorityMedium, a2a.AgentStatus{Agent: "orchestrator", State: "running"})
	require.NoError(t, f.bus.Publish(ctx, delegation))
	require.NoError(t, f.bus.Publish(ctx, status))

	received, err := f.bus.Receive(ctx, a2a.AgentSummariser, a2a.TypeTaskDelegation)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, a2a.TypeTaskDelegation, received[0].MessageType)

	rest, err := f.bus.Receive(ctx, a2a.AgentSummariser)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, a2a.TypeAgentStatus, rest[0].MessageType)
}

func TestReceiveUnknownAgent(t *testing.T) {
	f := setupBus(t)
	_, err := f.bus.Receive(context.Background(), "archivist")
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnknownRecipient))
}
