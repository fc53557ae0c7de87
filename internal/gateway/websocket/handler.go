// Package websocket binds the streaming protocol to a WebSocket
// transport: one connection per workflow run, progress events out,
// control frames in.
package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/stream"
	"github.com/agenticnav/navigator/internal/workflow"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// Handler serves the /ws/navigate endpoint.
type Handler struct {
	executor *workflow.Executor
	hub      *stream.Hub
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a websocket handler over the executor and stream hub.
func NewHandler(executor *workflow.Executor, hub *stream.Hub, log *logger.Logger) *Handler {
	return &Handler{
		executor: executor,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.Component("ws_gateway"),
	}
}

// statusFrame acknowledges control frames and reports terminal state.
type statusFrame struct {
	Status   string               `json:"status"`
	Action   string               `json:"action,omitempty"`
	Metadata *v1.ResponseMetadata `json:"metadata,omitempty"`
}

// HandleNavigate upgrades the connection, reads the initial request
// frame, and streams workflow progress until completion or disconnect.
func (h *Handler) HandleNavigate(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)

	// The first frame is the navigate request.
	var req v1.NavigateRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.writeError(conn, "malformed", "first frame must be a navigate request")
		return
	}
	if req.Document == "" {
		h.writeError(conn, "malformed", "document must not be empty")
		return
	}
	switch req.ContentType {
	case v1.ContentTypeDocument, v1.ContentTypeCodebase:
	case "":
		req.ContentType = v1.ContentTypeDocument
	default:
		h.writeError(conn, "malformed", "content_type must be 'document' or 'codebase'")
		return
	}

	sessionID := uuid.New().String()
	sub, err := h.hub.Open(sessionID)
	if err != nil {
		h.writeError(conn, "busy", err.Error())
		return
	}
	defer h.hub.Close(sessionID)

	log := h.logger.WithSessionID(sessionID)
	log.Info("navigate stream opened", zap.String("content_type", string(req.ContentType)))

	// All writes go through the writer goroutine; the reader hands control
	// acknowledgements over instead of writing to the connection itself.
	acks := make(chan statusFrame, 4)

	// Reader: control frames and disconnect detection.
	go h.readControlFrames(conn, sessionID, sub, acks, log)

	// Writer: deliver events until the subscription closes.
	writerDone := make(chan struct{})
	go h.writeEvents(conn, sub, acks, writerDone, log)

	sc, meta := h.executor.RunWorkflow(c.Request.Context(), req.Document, req.ContentType, workflow.RunOptions{
		SessionID:             sessionID,
		IncludePartialResults: req.IncludePartialResults,
	}, sub)

	// Close the subscription so the writer drains and exits, then flush any
	// control acknowledgements and send the terminal status frame.
	h.hub.Close(sessionID)
	<-writerDone

	for {
		var pending bool
		select {
		case ack := <-acks:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(ack)
			pending = true
		default:
		}
		if !pending {
			break
		}
	}

	terminal := statusFrame{Status: string(sc.WorkflowStatus)}
	if req.IncludeMetadata {
		terminal.Metadata = &meta
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(terminal); err != nil {
		log.Debug("terminal frame write failed", zap.Error(err))
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))

	log.Info("navigate stream finished",
		zap.String("status", string(sc.WorkflowStatus)),
		zap.Bool("persisted", meta.Persisted))
}

// readControlFrames consumes client frames for the lifetime of the
// connection. A disconnect cancels the workflow.
func (h *Handler) readControlFrames(conn *websocket.Conn, sessionID string, sub *stream.Subscription, acks chan<- statusFrame, log *logger.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
				log.Debug("websocket read error", zap.Error(err))
			}
			// Disconnect: cancel the running workflow.
			sub.Cancel()
			return
		}

		var frame v1.ControlFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Debug("ignoring unparsable control frame")
			continue
		}

		switch frame.Action {
		case v1.ActionCancel:
			h.hub.Cancel(sessionID)
		case v1.ActionPause, v1.ActionResume:
			// Acknowledged but unsupported; state is unchanged.
			select {
			case acks <- statusFrame{Status: "acknowledged", Action: frame.Action}:
			default:
			}
		default:
			log.Debug("ignoring unknown control action", zap.String("action", frame.Action))
		}
	}
}

// writeEvents pumps subscription events and control acknowledgements to
// the peer with keepalive pings.
func (h *Handler) writeEvents(conn *websocket.Conn, sub *stream.Subscription, acks <-chan statusFrame, done chan<- struct{}, log *logger.Logger) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug("event write failed", zap.Error(err))
				return
			}
		case ack := <-acks:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ack); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeError(conn *websocket.Conn, kind, detail string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(&v1.Event{
		ID:        "evt_000",
		Agent:     "gateway",
		Status:    v1.EventStatusError,
		Timestamp: time.Now().UTC(),
		Payload:   v1.EventPayload{Error: kind, ErrorDetails: detail},
	})
}
