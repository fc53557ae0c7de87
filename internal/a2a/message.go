// Package a2a implements the typed agent-to-agent messaging layer: the
// message envelope, per-recipient priority queues, and the in-process bus.
package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/session"
)

// Canonical agent names. CanonicalSequence is the execution order the
// workflow executor drives.
const (
	AgentOrchestrator = "orchestrator"
	AgentSummariser   = "summariser"
	AgentLinker       = "linker"
	AgentVisualiser   = "visualiser"

	// Broadcast addresses a message to every registered agent except the sender.
	Broadcast = "*"
)

// CanonicalSequence returns the fixed agent execution order.
func CanonicalSequence() []string {
	return []string{AgentOrchestrator, AgentSummariser, AgentLinker, AgentVisualiser}
}

// MessageType tags the payload variant carried by a message.
type MessageType string

const (
	TypeTaskDelegation         MessageType = "TaskDelegation"
	TypeSummarizationCompleted MessageType = "SummarizationCompleted"
	TypeRelationshipMapped     MessageType = "RelationshipMapped"
	TypeVisualizationReady     MessageType = "VisualizationReady"
	TypeKnowledgeTransfer      MessageType = "KnowledgeTransfer"
	TypeAgentStatus            MessageType = "AgentStatus"
)

var knownTypes = map[MessageType]bool{
	TypeTaskDelegation:         true,
	TypeSummarizationCompleted: true,
	TypeRelationshipMapped:     true,
	TypeVisualizationReady:     true,
	TypeKnowledgeTransfer:      true,
	TypeAgentStatus:            true,
}

// Priority orders delivery on a recipient queue; higher drains first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the ordinal precedence of the priority; unknown values rank lowest.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether the priority is a recognised level.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Status tracks a message through its delivery lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Security carries the signing envelope of a message.
type Security struct {
	ServiceAccountID string `json:"service_account_id"`
	Signature        string `json:"signature"`
	Algorithm        string `json:"algorithm"`
	Verified         bool   `json:"verified"`
}

// Trace links a message to its workflow run and parent message. Parent
// references are ids, never embedded messages, so the trace forms a DAG.
type Trace struct {
	CorrelationID   string            `json:"correlation_id"`
	ParentMessageID string            `json:"parent_message_id,omitempty"`
	SpanID          string            `json:"span_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Payload is a typed message body. The concrete type is determined by the
// envelope's MessageType.
type Payload interface {
	payloadType() MessageType
}

// TaskDelegation asks an agent to run its step of the workflow.
type TaskDelegation struct {
	TaskName    string `json:"task_name"`
	Objective   string `json:"objective"`
	ContentType string `json:"content_type,omitempty"`
	ModelType   string `json:"model_type,omitempty"`
}

func (TaskDelegation) payloadType() MessageType { return TypeTaskDelegation }

// SummarizationCompleted reports the summariser's output.
type SummarizationCompleted struct {
	SummaryText string         `json:"summary_text"`
	Insights    map[string]any `json:"insights,omitempty"`
}

func (SummarizationCompleted) payloadType() MessageType { return TypeSummarizationCompleted }

// RelationshipMapped reports the linker's output.
type RelationshipMapped struct {
	Entities      []string                     `json:"entities"`
	Relationships []session.EntityRelationship `json:"relationships"`
}

func (RelationshipMapped) payloadType() MessageType { return TypeRelationshipMapped }

// VisualizationReady reports the visualiser's output shape.
type VisualizationReady struct {
	GraphType string `json:"graph_type"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

func (VisualizationReady) payloadType() MessageType { return TypeVisualizationReady }

// KnowledgeTransfer hands arbitrary context fields between agents.
type KnowledgeTransfer struct {
	Fields map[string]any `json:"fields"`
}

func (KnowledgeTransfer) payloadType() MessageType { return TypeKnowledgeTransfer }

// AgentStatus reports an agent's execution state.
type AgentStatus struct {
	Agent  string `json:"agent"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

func (AgentStatus) payloadType() MessageType { return TypeAgentStatus }

// Message is the envelope exchanged on the bus. The timestamp is
// wall-clock seconds with fractional part, kept in wire units so the
// canonical form round-trips exactly through JSON.
type Message struct {
	MessageID   string      `json:"message_id"`
	MessageType MessageType `json:"message_type"`
	FromAgent   string      `json:"from_agent"`
	ToAgent     string      `json:"to_agent"`
	Priority    Priority    `json:"priority"`
	Status      Status      `json:"status"`
	Timestamp   float64     `json:"timestamp"`
	TTLSeconds  int         `json:"ttl_seconds"`
	Security    Security    `json:"security"`
	Trace       Trace       `json:"trace"`
	Data        Payload     `json:"-"`
}

// NewMessage creates a pending message with a fresh id, span id, and the
// current timestamp. TTL defaults to 0 (no expiry).
func NewMessage(from, to string, priority Priority, data Payload) *Message {
	return &Message{
		MessageID:   uuid.New().String(),
		MessageType: data.payloadType(),
		FromAgent:   from,
		ToAgent:     to,
		Priority:    priority,
		Status:      StatusPending,
		Timestamp:   NowSeconds(),
		Trace: Trace{
			SpanID: uuid.New().String(),
		},
		Data: data,
	}
}

// NowSeconds returns the current wall clock in message timestamp units.
func NowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Time converts the message timestamp to a time.Time.
func (m *Message) Time() time.Time {
	sec := int64(m.Timestamp)
	nsec := int64((m.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// IsBroadcast reports whether the message is addressed to all agents.
func (m *Message) IsBroadcast() bool {
	return m.ToAgent == Broadcast
}

// Expired reports whether the message has outlived its TTL at the given
// instant, allowing for the configured clock-skew tolerance. TTL 0 never
// expires.
func (m *Message) Expired(now time.Time, skew time.Duration) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	expiry := m.Timestamp + float64(m.TTLSeconds)
	cutoff := float64(now.UnixNano())/float64(time.Second) - skew.Seconds()
	return expiry < cutoff
}

// CheckShape validates the envelope's structural fields.
func (m *Message) CheckShape() error {
	if m.MessageID == "" {
		return apperrors.Malformed("message_id is required")
	}
	if !knownTypes[m.MessageType] {
		return apperrors.Newf(apperrors.KindMalformed, "unknown message_type '%s'", m.MessageType)
	}
	if m.FromAgent == "" || m.ToAgent == "" {
		return apperrors.Malformed("from_agent and to_agent are required")
	}
	if !m.Priority.Valid() {
		return apperrors.Newf(apperrors.KindMalformed, "unknown priority '%s'", m.Priority)
	}
	if m.TTLSeconds < 0 {
		return apperrors.Malformed("ttl_seconds must be non-negative")
	}
	if m.Data == nil {
		return apperrors.Malformed("message data is required")
	}
	if m.Data.payloadType() != m.MessageType {
		return apperrors.Newf(apperrors.KindMalformed,
			"data payload does not match message_type '%s'", m.MessageType)
	}
	return nil
}

// messageWire is the JSON wire form; data is the raw payload object.
type messageWire struct {
	MessageID   string          `json:"message_id"`
	MessageType MessageType     `json:"message_type"`
	FromAgent   string          `json:"from_agent"`
	ToAgent     string          `json:"to_agent"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	Timestamp   float64         `json:"timestamp"`
	TTLSeconds  int             `json:"ttl_seconds"`
	Security    Security        `json:"security"`
	Trace       Trace           `json:"trace"`
	Data        json.RawMessage `json:"data"`
}

// MarshalJSON implements custom JSON marshaling.
func (m *Message) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&messageWire{
		MessageID:   m.MessageID,
		MessageType: m.MessageType,
		FromAgent:   m.FromAgent,
		ToAgent:     m.ToAgent,
		Priority:    m.Priority,
		Status:      m.Status,
		Timestamp:   m.Timestamp,
		TTLSeconds:  m.TTLSeconds,
		Security:    m.Security,
		Trace:       m.Trace,
		Data:        data,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling with type-directed
// payload decoding. Unknown payload keys are rejected.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	payload, err := decodePayload(wire.MessageType, wire.Data)
	if err != nil {
		return err
	}

	m.MessageID = wire.MessageID
	m.MessageType = wire.MessageType
	m.FromAgent = wire.FromAgent
	m.ToAgent = wire.ToAgent
	m.Priority = wire.Priority
	m.Status = wire.Status
	m.Timestamp = wire.Timestamp
	m.TTLSeconds = wire.TTLSeconds
	m.Security = wire.Security
	m.Trace = wire.Trace
	m.Data = payload
	return nil
}

// decodePayload decodes a raw payload into its tagged variant, rejecting
// unknown keys.
func decodePayload(msgType MessageType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, apperrors.Malformed("message data is required")
	}

	decode := func(dst any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return apperrors.Newf(apperrors.KindMalformed, "decoding %s payload: %v", msgType, err)
		}
		return nil
	}

	switch msgType {
	case TypeTaskDelegation:
		var p TaskDelegation
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeSummarizationCompleted:
		var p SummarizationCompleted
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeRelationshipMapped:
		var p RelationshipMapped
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeVisualizationReady:
		var p VisualizationReady
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeKnowledgeTransfer:
		var p KnowledgeTransfer
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeAgentStatus:
		var p AgentStatus
		if err := decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, apperrors.Newf(apperrors.KindMalformed, "unknown message_type '%s'", msgType)
	}
}

// CanonicalBytes returns the deterministic encoding used for signing: the
// wire form with the signature cleared, re-encoded with sorted keys and no
// insignificant whitespace.
func (m *Message) CanonicalBytes() ([]byte, error) {
	unsigned := *m
	unsigned.Security.Signature = ""
	unsigned.Security.Verified = false

	encoded, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	// Round-trip through an untyped map so keys serialise sorted.
	var generic map[string]any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, fmt.Errorf("canonicalising message: %w", err)
	}
	return json.Marshal(generic)
}
