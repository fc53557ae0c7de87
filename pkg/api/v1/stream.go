// Package v1 contains the externally visible types of the Navigator
// streaming protocol.
package v1

import "time"

// EventStatus represents the lifecycle state reported by a progress event.
type EventStatus string

const (
	EventStatusQueued     EventStatus = "queued"
	EventStatusProcessing EventStatus = "processing"
	EventStatusComplete   EventStatus = "complete"
	EventStatusError      EventStatus = "error"
)

// ContentType identifies the kind of input a workflow ingests.
type ContentType string

const (
	ContentTypeDocument ContentType = "document"
	ContentTypeCodebase ContentType = "codebase"
)

// NavigateRequest is the first frame a client sends on the stream.
type NavigateRequest struct {
	Document              string      `json:"document"`
	ContentType           ContentType `json:"content_type"`
	IncludeMetadata       bool        `json:"include_metadata,omitempty"`
	IncludePartialResults bool        `json:"include_partial_results,omitempty"`
}

// Control actions a client may send while a workflow is streaming.
const (
	ActionCancel = "cancel"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// ControlFrame is a client command sent after the initial request.
type ControlFrame struct {
	Action string `json:"action"`
}

// EventMetadata carries progress bookkeeping for an event.
type EventMetadata struct {
	ElapsedMS     int64    `json:"elapsed_ms"`
	Step          int      `json:"step"`
	TotalSteps    int      `json:"total_steps"`
	AgentSequence []string `json:"agent_sequence"`
}

// EventPayload carries the per-agent result fragment of an event.
type EventPayload struct {
	Summary        string         `json:"summary,omitempty"`
	Entities       []string       `json:"entities,omitempty"`
	Relationships  []Relationship `json:"relationships,omitempty"`
	Visualization  map[string]any `json:"visualization,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorDetails   string         `json:"error_details,omitempty"`
	PartialResults map[string]any `json:"partial_results,omitempty"`
}

// Relationship is the wire form of an entity relationship.
type Relationship struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Type       string `json:"type"`
	Label      string `json:"label"`
	Confidence string `json:"confidence"`
}

// Event is a single progress frame streamed to the client.
type Event struct {
	ID        string        `json:"id"`
	Agent     string        `json:"agent"`
	Status    EventStatus   `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Metadata  EventMetadata `json:"metadata"`
	Payload   EventPayload  `json:"payload"`
}

// ResponseMetadata summarises a finished workflow for the terminal frame.
type ResponseMetadata struct {
	SessionID  string `json:"session_id"`
	Persisted  bool   `json:"persisted"`
	DurationMS int64  `json:"duration_ms"`
}
