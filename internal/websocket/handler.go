package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/metrics"
	"coachrelay/pkg/protocol"
	"coachrelay/pkg/types"
)

// WelcomeMessage is sent as a plain text frame to a freshly attached mobile client.
const WelcomeMessage = "Connected. Waiting for session to start..."

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent WebSocket settings across different handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: The mobile page is served from a different origin
		// than the desktop app during development
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink accepts typed client events for asynchronous processing.
type EventSink interface {
	Submit(sessionID string, from types.Role, event protocol.Event) error
}

// HandlerConfig carries the connection timing knobs.
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultHandlerConfig returns a 30s heartbeat with a 60s read deadline.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   defaultBufferSize,
	}
}

// Handler upgrades /ws/{session_id}/{role} requests and pumps their frames
// into the relay or the event sink.
type Handler struct {
	relay   *Relay
	events  EventSink
	cfg     HandlerConfig
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewHandler creates a new WebSocket handler. events may be nil, in which case
// typed events are rejected.
func NewHandler(relay *Relay, events EventSink, cfg HandlerConfig, logger logrus.FieldLogger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.PingInterval <= 0 || cfg.ReadTimeout <= 0 {
		d := DefaultHandlerConfig()
		cfg.PingInterval, cfg.ReadTimeout = d.PingInterval, d.ReadTimeout
	}
	return &Handler{relay: relay, events: events, cfg: cfg, logger: logger, metrics: m}
}

// HandleWebSocket handles WebSocket connection requests
// ARCHITECTURAL DISCOVERY: The session check happens after the upgrade so the
// client receives a proper close frame (1008) instead of a bare HTTP error
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	role, err := types.ParseRole(chi.URLParam(r, "role"))
	if sessionID == "" || err != nil {
		http.Error(w, "Invalid role: must be 'desktop' or 'mobile'", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, h.cfg.BufferSize, h.cfg.WriteTimeout)
	log := h.logger.WithFields(logrus.Fields{"session_id": sessionID, "role": role})

	var greeting []byte
	if role == types.RoleMobile {
		greeting = []byte(WelcomeMessage)
	}
	if err := h.relay.AttachWithGreeting(sessionID, role, wsConn, greeting); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			log.Info("rejecting connection for unknown session")
			_ = wsConn.CloseWithReason(websocket.ClosePolicyViolation, "Session not found")
			return
		}
		log.WithError(err).Error("attach failed")
		_ = wsConn.CloseWithReason(websocket.CloseInternalServerErr, "attach failed")
		return
	}
	h.metrics.ConnectionOpened(string(role))

	go h.handleConnection(sessionID, role, wsConn, log)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles reading;
// the ping ticker runs beside it and stops with the connection context
func (h *Handler) handleConnection(sessionID string, role types.Role, conn *Connection, log logrus.FieldLogger) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Detach is compare-and-clear, so a reconnect that
		// already replaced this channel is left untouched
		h.relay.Detach(sessionID, role, conn)
		_ = conn.Close()
		h.metrics.ConnectionClosed(string(role))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		log.WithError(err).Warn("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// Read pump - handle incoming messages
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("websocket error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(sessionID, role, conn, data, log)
	}
}

// dispatch routes one inbound frame. Nothing here may abort the read loop.
func (h *Handler) dispatch(sessionID string, role types.Role, conn *Connection, data []byte, log logrus.FieldLogger) {
	in, err := protocol.Decode(data)
	if err != nil {
		log.WithError(err).Debug("rejected inbound event")
		_ = conn.WriteJSON(protocol.NewError(err))
		return
	}

	if in.Event == nil {
		h.relay.Relay(sessionID, role, in.Raw)
		return
	}

	if h.events == nil {
		_ = conn.WriteJSON(protocol.NewError(protocol.ErrUnknownEventType))
		return
	}
	if err := h.events.Submit(sessionID, role, *in.Event); err != nil {
		log.WithError(err).Warn("event not accepted")
		_ = conn.WriteJSON(protocol.NewError(err))
	}
}
