// Package session defines the shared workflow state that accumulates agent
// outputs across a run.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

// WorkflowStatus represents the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
)

// Confidence grades an extracted relationship.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Graph types produced by the visualiser.
const (
	GraphTypeMindMap   = "MIND_MAP"
	GraphTypeFlowchart = "FLOWCHART"
)

// EntityRelationship is a directed, labelled edge between two entities.
type EntityRelationship struct {
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Type       string     `json:"type"`
	Label      string     `json:"label"`
	Confidence Confidence `json:"confidence"`
}

// GraphNode is a node of the rendered knowledge graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

// GraphEdge is an edge of the rendered knowledge graph.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Graph is the structured visualisation output.
type Graph struct {
	Type  string      `json:"type"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// WorkflowError records a failure observed during a run.
type WorkflowError struct {
	Agent     string         `json:"agent"`
	Kind      apperrors.Kind `json:"error_kind"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Context is the single mutable record accumulating a workflow's outputs
// and status. It is created and mutated only by the executor; agents
// receive a read-only copy and return partial results.
type Context struct {
	SessionID       string                    `json:"session_id"`
	RawInput        string                    `json:"raw_input"`
	ContentType     v1.ContentType            `json:"content_type"`
	SummaryText     string                    `json:"summary_text,omitempty"`
	SummaryInsights map[string]any            `json:"summary_insights,omitempty"`
	KeyEntities     []string                  `json:"key_entities,omitempty"`
	Relationships   []EntityRelationship      `json:"relationships,omitempty"`
	EntityMetadata  map[string]map[string]any `json:"entity_metadata,omitempty"`
	GraphJSON       *Graph                    `json:"graph_json,omitempty"`
	CompletedAgents []string                  `json:"completed_agents"`
	CurrentAgent    string                    `json:"current_agent,omitempty"`
	WorkflowStatus  WorkflowStatus            `json:"workflow_status"`
	Errors          []WorkflowError           `json:"errors"`
	StartedAt       time.Time                 `json:"started_at"`
	UpdatedAt       time.Time                 `json:"updated_at"`
}

// NewContext creates a pending context for the given input.
func NewContext(rawInput string, contentType v1.ContentType) *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID:       uuid.New().String(),
		RawInput:        rawInput,
		ContentType:     contentType,
		SummaryInsights: make(map[string]any),
		EntityMetadata:  make(map[string]map[string]any),
		CompletedAgents: []string{},
		WorkflowStatus:  StatusPending,
		Errors:          []WorkflowError{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy. Agents are handed clones so the executor's
// copy stays single-writer.
func (c *Context) Clone() *Context {
	clone := *c

	clone.SummaryInsights = cloneAnyMap(c.SummaryInsights)
	clone.KeyEntities = append([]string(nil), c.KeyEntities...)
	clone.Relationships = append([]EntityRelationship(nil), c.Relationships...)
	clone.CompletedAgents = append([]string(nil), c.CompletedAgents...)
	clone.Errors = append([]WorkflowError(nil), c.Errors...)

	if c.EntityMetadata != nil {
		clone.EntityMetadata = make(map[string]map[string]any, len(c.EntityMetadata))
		for k, attrs := range c.EntityMetadata {
			clone.EntityMetadata[k] = cloneAnyMap(attrs)
		}
	}
	if c.GraphJSON != nil {
		g := Graph{
			Type:  c.GraphJSON.Type,
			Nodes: append([]GraphNode(nil), c.GraphJSON.Nodes...),
			Edges: append([]GraphEdge(nil), c.GraphJSON.Edges...),
		}
		clone.GraphJSON = &g
	}
	return &clone
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RecordError appends a failure entry attributed to the given agent.
func (c *Context) RecordError(agent string, kind apperrors.Kind, message string) {
	c.Errors = append(c.Errors, WorkflowError{
		Agent:     agent,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// HasFatalError reports whether any recorded error is of a fatal kind.
func (c *Context) HasFatalError() bool {
	for _, e := range c.Errors {
		if e.Kind == apperrors.KindCancelled || e.Kind == apperrors.KindResourceExhausted {
			return true
		}
	}
	return false
}

// contextFields is the set of recognised serialised keys. Unknown keys in
// a stored snapshot are logged and ignored on load.
var contextFields = map[string]bool{
	"session_id":       true,
	"raw_input":        true,
	"content_type":     true,
	"summary_text":     true,
	"summary_insights": true,
	"key_entities":     true,
	"relationships":    true,
	"entity_metadata":  true,
	"graph_json":       true,
	"completed_agents": true,
	"current_agent":    true,
	"workflow_status":  true,
	"errors":           true,
	"started_at":       true,
	"updated_at":       true,
}

// requiredContextFields must be present for a snapshot to load.
var requiredContextFields = []string{"session_id", "raw_input", "content_type", "workflow_status", "started_at"}

// Marshal serialises the context to its canonical JSON form. Timestamps
// are RFC 3339 with explicit zone; enums serialise as their string names.
func (c *Context) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal strictly deserialises a snapshot. Unknown fields are logged
// and ignored; missing required fields fail the load as malformed.
func Unmarshal(data []byte, log *logger.Logger) (*Context, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Malformed(fmt.Sprintf("context snapshot is not valid JSON: %v", err))
	}

	for _, field := range requiredContextFields {
		if _, ok := raw[field]; !ok {
			return nil, apperrors.Malformed(fmt.Sprintf("context snapshot missing required field '%s'", field))
		}
	}
	for key := range raw {
		if !contextFields[key] {
			if log != nil {
				log.Warn("ignoring unknown context field", zap.String("field", key))
			}
			delete(raw, key)
		}
	}

	filtered, err := json.Marshal(raw)
	if err != nil {
		return nil, apperrors.Malformed(fmt.Sprintf("re-encoding context snapshot: %v", err))
	}

	var ctx Context
	if err := json.Unmarshal(filtered, &ctx); err != nil {
		return nil, apperrors.Malformed(fmt.Sprintf("decoding context snapshot: %v", err))
	}
	if ctx.SummaryInsights == nil {
		ctx.SummaryInsights = make(map[string]any)
	}
	if ctx.EntityMetadata == nil {
		ctx.EntityMetadata = make(map[string]map[string]any)
	}
	if ctx.CompletedAgents == nil {
		ctx.CompletedAgents = []string{}
	}
	if ctx.Errors == nil {
		ctx.Errors = []WorkflowError{}
	}
	return &ctx, nil
}
