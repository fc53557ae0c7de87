package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/config"
	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/session"
	"github.com/agenticnav/navigator/internal/session/store"
	"github.com/agenticnav/navigator/internal/stream"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

// RunOptions tunes a single workflow run.
type RunOptions struct {
	// SessionID pins the session id, letting a caller open the stream
	// subscription before the run starts. Empty means generate one.
	SessionID string

	// ModelType overrides the configured model selection for this run.
	ModelType string

	// IncludePartialResults attaches the raw partial-result map to each
	// complete event.
	IncludePartialResults bool

	// MaxDuration overrides the configured workflow duration budget.
	MaxDuration time.Duration
}

// Executor drives the four agents in strict sequential order over a
// shared session context, persisting after each step, publishing A2A
// messages, and emitting progress events.
type Executor struct {
	bus    *a2a.Bus
	store  store.Store
	hub    *stream.Hub
	agents map[string]Agent
	logger *logger.Logger

	modelType   string
	maxDuration time.Duration
}

// NewExecutor wires the executor with its collaborators. The registry
// must contain a plug-in for every agent in the canonical sequence.
func NewExecutor(bus *a2a.Bus, st store.Store, hub *stream.Hub, agents map[string]Agent, cfg *config.Config, log *logger.Logger) *Executor {
	for _, name := range a2a.CanonicalSequence() {
		bus.RegisterAgent(name)
	}
	return &Executor{
		bus:         bus,
		store:       st,
		hub:         hub,
		agents:      agents,
		logger:      log.Component("executor"),
		modelType:   cfg.Workflow.ModelType,
		maxDuration: cfg.Workflow.MaxDurationTime(),
	}
}

// runState carries per-run bookkeeping across steps.
type runState struct {
	sc        *session.Context
	sub       *stream.Subscription
	opts      RunOptions
	modelType string
	startedAt time.Time
	eventSeq  int
	persisted bool
	log       *logger.Logger
}

// RunWorkflow executes the canonical agent sequence over the given input
// and returns the terminal context plus response metadata. It never
// returns an error: every failure lands in the context's error list and
// workflow status.
func (e *Executor) RunWorkflow(ctx context.Context, rawInput string, contentType v1.ContentType, opts RunOptions, sub *stream.Subscription) (*session.Context, v1.ResponseMetadata) {
	sc := session.NewContext(rawInput, contentType)
	if opts.SessionID != "" {
		sc.SessionID = opts.SessionID
	}

	modelType := opts.ModelType
	if modelType == "" {
		modelType = e.modelType
	}
	maxDuration := opts.MaxDuration
	if maxDuration == 0 {
		maxDuration = e.maxDuration
	}
	if maxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	state := &runState{
		sc:        sc,
		sub:       sub,
		opts:      opts,
		modelType: modelType,
		startedAt: time.Now(),
		persisted: true,
		log:       e.logger.WithSessionID(sc.SessionID),
	}

	state.log.Info("workflow started",
		zap.String("content_type", string(contentType)),
		zap.String("model_type", modelType),
		zap.Int("input_bytes", len(rawInput)))

	sequence := a2a.CanonicalSequence()
	for i, agentName := range sequence {
		if stop := e.checkInterrupted(ctx, state, i, agentName); stop {
			break
		}

		if sc.WorkflowStatus == session.StatusPending {
			sc.WorkflowStatus = session.StatusRunning
		}
		sc.CurrentAgent = agentName

		fatal := e.runStep(ctx, state, i, agentName)
		e.persist(ctx, state)
		if fatal {
			break
		}
	}

	e.finalise(ctx, state)
	return sc, v1.ResponseMetadata{
		SessionID:  sc.SessionID,
		Persisted:  state.persisted,
		DurationMS: time.Since(state.startedAt).Milliseconds(),
	}
}

// checkInterrupted observes cancellation and the duration budget at the
// inter-step boundary. Returns true when the run must terminate.
func (e *Executor) checkInterrupted(ctx context.Context, state *runState, step int, agentName string) bool {
	if state.sub != nil && state.sub.Cancelled() {
		state.log.Info("cancellation observed", zap.String("next_agent", agentName))
		state.sc.RecordError(agentName, apperrors.KindCancelled, "workflow cancelled by client")
		e.emit(state, agentName, v1.EventStatusError, step, v1.EventPayload{
			Error:        string(apperrors.KindCancelled),
			ErrorDetails: "workflow cancelled by client",
		})
		return true
	}
	if err := ctx.Err(); err != nil {
		kind := apperrors.KindResourceExhausted
		detail := "workflow exceeded its duration budget"
		if errors.Is(err, context.Canceled) {
			kind = apperrors.KindCancelled
			detail = "workflow context cancelled"
		}
		state.log.Warn("workflow interrupted", zap.String("kind", string(kind)))
		state.sc.RecordError(agentName, kind, detail)
		e.emit(state, agentName, v1.EventStatusError, step, v1.EventPayload{
			Error:        string(kind),
			ErrorDetails: detail,
		})
		return true
	}
	return false
}

// runStep executes one agent step. Returns true when the failure is fatal
// and the run must stop.
func (e *Executor) runStep(ctx context.Context, state *runState, step int, agentName string) bool {
	sc := state.sc
	stepLog := state.log.WithAgent(agentName)

	e.emit(state, agentName, v1.EventStatusQueued, step, v1.EventPayload{})

	// Delegate the step on the bus; the orchestrator's first step is a
	// permitted self-delegation.
	delegation := a2a.NewMessage(a2a.AgentOrchestrator, agentName, a2a.PriorityHigh, a2a.TaskDelegation{
		TaskName:    agentName + "_step",
		Objective:   fmt.Sprintf("run %s over session input", agentName),
		ContentType: string(sc.ContentType),
		ModelType:   state.modelType,
	})
	delegation.Trace.CorrelationID = sc.SessionID
	if err := e.bus.Publish(ctx, delegation); err != nil {
		stepLog.Warn("delegation publish failed", zap.Error(err))
	}

	// Consume the agent's inbox; the executor is the single consumer for
	// every agent it drives.
	inbox, err := e.bus.Receive(ctx, agentName)
	if err != nil {
		stepLog.Warn("inbox receive failed", zap.Error(err))
	}

	e.emit(state, agentName, v1.EventStatusProcessing, step, v1.EventPayload{})

	agent, ok := e.agents[agentName]
	if !ok {
		sc.RecordError(agentName, apperrors.KindAgentFault, "no plug-in registered")
		e.acknowledge(inbox, false)
		e.emit(state, agentName, v1.EventStatusError, step, v1.EventPayload{
			Error:        string(apperrors.KindAgentFault),
			ErrorDetails: "no plug-in registered for agent",
		})
		return false
	}

	partial, procErr := e.invoke(ctx, agent, sc, state)
	if procErr != nil {
		kind := apperrors.KindOf(procErr)
		switch {
		case errors.Is(procErr, context.Canceled) || kind == apperrors.KindCancelled:
			kind = apperrors.KindCancelled
		case errors.Is(procErr, context.DeadlineExceeded) || kind == apperrors.KindResourceExhausted:
			kind = apperrors.KindResourceExhausted
		default:
			kind = apperrors.KindAgentFault
		}

		stepLog.Error("agent step failed", zap.String("kind", string(kind)), zap.Error(procErr))
		sc.RecordError(agentName, kind, procErr.Error())
		e.acknowledge(inbox, false)
		e.emit(state, agentName, v1.EventStatusError, step, v1.EventPayload{
			Error:        string(kind),
			ErrorDetails: procErr.Error(),
		})
		return kind == apperrors.KindCancelled || kind == apperrors.KindResourceExhausted
	}

	mergePartial(sc, agentName, partial, stepLog)
	sc.UpdatedAt = time.Now().UTC()
	sc.CompletedAgents = append(sc.CompletedAgents, agentName)

	e.persist(ctx, state)
	e.publishCompletion(ctx, state, agentName, partial)
	e.acknowledge(inbox, true)
	e.emit(state, agentName, v1.EventStatusComplete, step, e.completionPayload(state, agentName, partial))

	stepLog.Info("agent step completed", zap.Int("step", step+1))
	return false
}

// invoke calls the plug-in with a read-only clone, converting panics into
// agent faults at this boundary.
func (e *Executor) invoke(ctx context.Context, agent Agent, sc *session.Context, state *runState) (partial *PartialResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			partial = nil
			err = apperrors.Newf(apperrors.KindAgentFault, "plug-in panic: %v", r)
		}
	}()

	opts := Options{
		ModelType:     state.modelType,
		CorrelationID: sc.SessionID,
	}
	if state.sub != nil {
		opts.Cancelled = state.sub.Cancelled
	}
	return agent.Process(ctx, sc.Clone(), opts)
}

// publishCompletion sends the agent's typed completion message.
func (e *Executor) publishCompletion(ctx context.Context, state *runState, agentName string, partial *PartialResult) {
	sc := state.sc

	var msg *a2a.Message
	switch agentName {
	case a2a.AgentOrchestrator:
		// The orchestrator hands its settled context downstream before
		// reporting its own state.
		knowledge := a2a.NewMessage(agentName, a2a.Broadcast, a2a.PriorityHigh, a2a.KnowledgeTransfer{
			Fields: map[string]any{
				"content_type":       string(sc.ContentType),
				"orchestrator_notes": sc.SummaryInsights["orchestrator_notes"],
			},
		})
		knowledge.Trace.CorrelationID = sc.SessionID
		if err := e.bus.Publish(ctx, knowledge); err != nil {
			state.log.Warn("knowledge transfer publish failed", zap.Error(err))
		}

		msg = a2a.NewMessage(agentName, a2a.Broadcast, a2a.PriorityMedium, a2a.AgentStatus{
			Agent: agentName,
			State: "completed",
		})
	case a2a.AgentSummariser:
		msg = a2a.NewMessage(agentName, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.SummarizationCompleted{
			SummaryText: sc.SummaryText,
			Insights:    partial.SummaryInsights,
		})
	case a2a.AgentLinker:
		msg = a2a.NewMessage(agentName, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.RelationshipMapped{
			Entities:      sc.KeyEntities,
			Relationships: sc.Relationships,
		})
	case a2a.AgentVisualiser:
		var nodes, edges int
		graphType := ""
		if sc.GraphJSON != nil {
			nodes, edges, graphType = len(sc.GraphJSON.Nodes), len(sc.GraphJSON.Edges), sc.GraphJSON.Type
		}
		msg = a2a.NewMessage(agentName, a2a.AgentOrchestrator, a2a.PriorityMedium, a2a.VisualizationReady{
			GraphType: graphType,
			NodeCount: nodes,
			EdgeCount: edges,
		})
	default:
		return
	}

	msg.Trace.CorrelationID = sc.SessionID
	if err := e.bus.Publish(ctx, msg); err != nil {
		state.log.Warn("completion publish failed",
			zap.String("agent", agentName),
			zap.Error(err))
	}
}

// completionPayload builds the complete-event payload for an agent.
func (e *Executor) completionPayload(state *runState, agentName string, partial *PartialResult) v1.EventPayload {
	sc := state.sc
	payload := v1.EventPayload{}

	switch agentName {
	case a2a.AgentSummariser:
		payload.Summary = sc.SummaryText
	case a2a.AgentLinker:
		payload.Entities = sc.KeyEntities
		payload.Relationships = make([]v1.Relationship, 0, len(sc.Relationships))
		for _, rel := range sc.Relationships {
			payload.Relationships = append(payload.Relationships, v1.Relationship{
				Source:     rel.Source,
				Target:     rel.Target,
				Type:       rel.Type,
				Label:      rel.Label,
				Confidence: string(rel.Confidence),
			})
		}
	case a2a.AgentVisualiser:
		if sc.GraphJSON != nil {
			nodes := make([]any, 0, len(sc.GraphJSON.Nodes))
			for _, n := range sc.GraphJSON.Nodes {
				nodes = append(nodes, map[string]any{"id": n.ID, "label": n.Label, "group": n.Group})
			}
			edges := make([]any, 0, len(sc.GraphJSON.Edges))
			for _, edge := range sc.GraphJSON.Edges {
				edges = append(edges, map[string]any{"source": edge.Source, "target": edge.Target, "label": edge.Label})
			}
			payload.Visualization = map[string]any{
				"type":  sc.GraphJSON.Type,
				"nodes": nodes,
				"edges": edges,
			}
		}
	}

	if state.opts.IncludePartialResults && partial != nil {
		results := make(map[string]any)
		if partial.SummaryText != "" {
			results["summary_text"] = partial.SummaryText
		}
		if partial.SummaryInsights != nil {
			results["summary_insights"] = partial.SummaryInsights
		}
		if partial.KeyEntities != nil {
			results["key_entities"] = partial.KeyEntities
		}
		if partial.Relationships != nil {
			results["relationships"] = partial.Relationships
		}
		if partial.EntityMetadata != nil {
			results["entity_metadata"] = partial.EntityMetadata
		}
		if partial.GraphJSON != nil {
			results["graph_json"] = partial.GraphJSON
		}
		payload.PartialResults = results
	}
	return payload
}

// acknowledge finalises consumed inbox messages.
func (e *Executor) acknowledge(inbox []*a2a.Message, completed bool) {
	for _, msg := range inbox {
		if err := e.bus.Acknowledge(msg.MessageID, completed); err != nil {
			e.logger.Debug("acknowledge failed",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
		}
	}
}

// persist saves the context snapshot. Store failures are non-fatal: the
// run continues and the response metadata reports persisted=false.
func (e *Executor) persist(ctx context.Context, state *runState) {
	// A cancelled run context must not block the final save.
	saveCtx := ctx
	if saveCtx.Err() != nil {
		saveCtx = context.Background()
	}
	if err := e.store.SaveContext(saveCtx, state.sc); err != nil {
		state.persisted = false
		state.log.Warn("context persistence failed", zap.Error(err))
	}
}

// finalise settles the terminal workflow status and persists it. The
// orchestrator's inbox is drained so completion reports do not linger as
// pending messages.
func (e *Executor) finalise(ctx context.Context, state *runState) {
	sc := state.sc
	sc.CurrentAgent = ""

	if inbox, err := e.bus.Receive(ctx, a2a.AgentOrchestrator); err == nil {
		e.acknowledge(inbox, true)
	}

	if len(sc.CompletedAgents) == len(a2a.CanonicalSequence()) && !sc.HasFatalError() {
		sc.WorkflowStatus = session.StatusCompleted
	} else {
		sc.WorkflowStatus = session.StatusFailed
	}
	sc.UpdatedAt = time.Now().UTC()

	e.persist(ctx, state)

	state.log.Info("workflow finished",
		zap.String("status", string(sc.WorkflowStatus)),
		zap.Strings("completed_agents", sc.CompletedAgents),
		zap.Int("errors", len(sc.Errors)),
		zap.Bool("persisted", state.persisted),
		zap.Duration("duration", time.Since(state.startedAt)))
}

// emit sends a progress event to the session subscriber.
func (e *Executor) emit(state *runState, agentName string, status v1.EventStatus, step int, payload v1.EventPayload) {
	state.eventSeq++
	event := &v1.Event{
		ID:        fmt.Sprintf("evt_%03d", state.eventSeq),
		Agent:     agentName,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata: v1.EventMetadata{
			ElapsedMS:     time.Since(state.startedAt).Milliseconds(),
			Step:          step + 1,
			TotalSteps:    len(a2a.CanonicalSequence()),
			AgentSequence: a2a.CanonicalSequence(),
		},
		Payload: payload,
	}

	if state.sub == nil {
		return
	}
	if err := e.hub.Emit(state.sc.SessionID, event); err != nil {
		state.log.Debug("event emit failed", zap.Error(err))
	}
}
