// Package workflow drives the agent pipeline over a shared session
// context: strict sequential execution, partial-result merging, per-step
// persistence, A2A publishing, and progress events.
package workflow

import (
	"context"

	"github.com/agenticnav/navigator/internal/session"
)

// Options is the per-invocation configuration handed to an agent plug-in.
type Options struct {
	// ModelType selects the inference backend: primary or accelerated.
	ModelType string

	// CorrelationID identifies the workflow run.
	CorrelationID string

	// Cancelled reports whether the session has been cancelled. Agents
	// running long external calls poll it.
	Cancelled func() bool
}

// PartialResult is an agent's typed delta to be merged into the session
// context. Only the fields owned by the producing agent are applied;
// anything else is ignored.
type PartialResult struct {
	SummaryText     string
	SummaryInsights map[string]any
	KeyEntities     []string
	Relationships   []session.EntityRelationship
	EntityMetadata  map[string]map[string]any
	GraphJSON       *session.Graph

	// Unknown carries unrecognised keys a plug-in returned; the executor
	// logs and discards them.
	Unknown map[string]any
}

// Agent is the capability interface every plug-in implements. The context
// argument is a read-only clone; agents never mutate shared state.
type Agent interface {
	// Name returns the canonical agent name.
	Name() string

	// Process consumes the read-only context and returns a partial result
	// or an error.
	Process(ctx context.Context, sc *session.Context, opts Options) (*PartialResult, error)
}
