package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/notify"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/MeKo-Tech/checkscan/internal/utils"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 8 << 20
	sendBuffer   = 32
)

// Message types exchanged with clients.
const (
	MsgState             = "state"
	MsgCue               = "cue"
	MsgRecentInvalidated = "recent_checkins_invalidated"
	MsgError             = "error"
	MsgCameraConnect     = "camera.connect"
	MsgCameraDisconnect  = "camera.disconnect"
	MsgCameraDenied      = "camera.denied"
	MsgScanStart         = "scan.start"
	MsgScanStop          = "scan.stop"
)

const (
	errTypeInvalidRequest  = "invalid_request"
	errTypeCameraUnowned   = "camera_unowned"
	errTypeScanUnavailable = "scan_unavailable"
)

// WebSocketMessage is a message sent to clients.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WebSocketError is the payload of an error message.
type WebSocketError struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// ClientMessage is a control message received from a client. Camera frames
// arrive as binary messages instead.
type ClientMessage struct {
	Type    string `json:"type"`
	EventID string `json:"eventId,omitempty"`
}

// Hub tracks WebSocket clients and fans messages out to them. It implements
// notify.Notifier and checkin.Invalidator.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *slog.Logger
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes c and closes its send channel. It is safe to call twice.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client and refuses new ones.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; drop it rather than stall the session.
			h.logger.Warn("Dropping slow WebSocket client")
			websocketMessagesTotal.WithLabelValues("dropped").Inc()
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// BroadcastState pushes a session snapshot.
func (h *Hub) BroadcastState(st session.State) {
	h.broadcast(WebSocketMessage{Type: MsgState, Payload: st})
}

// Notify implements notify.Notifier.
func (h *Hub) Notify(c notify.Cue) {
	h.broadcast(WebSocketMessage{Type: MsgCue, Payload: c})
}

// InvalidateRecentCheckins implements checkin.Invalidator.
func (h *Hub) InvalidateRecentCheckins() {
	h.broadcast(WebSocketMessage{Type: MsgRecentInvalidated})
}

// enqueue sends msg to c alone.
func (h *Hub) enqueue(c *wsClient, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		websocketMessagesTotal.WithLabelValues("dropped").Inc()
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// cameraWebSocketHandler serves /scan/ws. Binary messages are camera frames
// from the connection that owns the camera; the server pushes state, cue and
// invalidation messages to every connection.
func (s *Server) cameraWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	c := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.register(c) {
		_ = conn.Close()
		return
	}

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	go c.writePump()
	s.hub.enqueue(c, WebSocketMessage{Type: MsgState, Payload: s.session.Snapshot()})
	s.readPump(c)
}

// readPump handles client messages until the connection closes.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.releaseCamera(c)
		s.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			s.handleFrame(c, data)
		case websocket.TextMessage:
			s.handleControl(c, data)
		}
	}
}

// writePump forwards queued messages and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			websocketMessagesTotal.WithLabelValues("sent").Inc()

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleControl(c *wsClient, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, errTypeInvalidRequest, "Failed to parse message: "+err.Error())
		return
	}

	switch msg.Type {
	case MsgCameraConnect:
		if !s.claimCamera(c) {
			s.sendError(c, errTypeCameraUnowned, "another client is already feeding the camera")
			return
		}
		s.device.Connect()
		s.logger.Info("Camera feed connected")
	case MsgCameraDisconnect:
		s.releaseCamera(c)
	case MsgCameraDenied:
		s.releaseCamera(c)
		s.device.Deny()
		s.logger.Warn("Camera permission denied by client")
	case MsgScanStart:
		if msg.EventID != "" {
			s.session.SetEventID(msg.EventID)
		}
		if err := s.session.Start(context.Background()); err != nil {
			s.sendError(c, errTypeScanUnavailable, err.Error())
		}
	case MsgScanStop:
		s.session.Stop()
	default:
		s.sendError(c, errTypeInvalidRequest, "Unsupported message type: "+msg.Type)
	}
}

func (s *Server) handleFrame(c *wsClient, data []byte) {
	if !s.ownsCamera(c) {
		cameraFramesTotal.WithLabelValues("invalid").Inc()
		s.sendError(c, errTypeCameraUnowned, "send camera.connect before streaming frames")
		return
	}
	img, _, err := utils.DecodeImage(bytes.NewReader(data))
	if err != nil {
		cameraFramesTotal.WithLabelValues("invalid").Inc()
		s.logger.Debug("Discarding undecodable frame", "error", err)
		return
	}
	if s.device.Push(img) {
		cameraFramesTotal.WithLabelValues("queued").Inc()
	} else {
		cameraFramesTotal.WithLabelValues("dropped").Inc()
	}
}

func (s *Server) claimCamera(c *wsClient) bool {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.feeder != nil && s.feeder != c {
		return false
	}
	s.feeder = c
	return true
}

func (s *Server) ownsCamera(c *wsClient) bool {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.feeder == c
}

// releaseCamera disconnects the device if c was feeding it. An active stream
// ends, which the session reports as a camera fault.
func (s *Server) releaseCamera(c *wsClient) {
	s.feedMu.Lock()
	owned := s.feeder == c
	if owned {
		s.feeder = nil
	}
	s.feedMu.Unlock()
	if owned {
		s.device.Disconnect()
		s.logger.Info("Camera feed disconnected")
	}
}

func (s *Server) sendError(c *wsClient, errorType, message string) {
	s.hub.enqueue(c, WebSocketMessage{
		Type:    MsgError,
		Payload: WebSocketError{ErrorType: errorType, Message: message},
	})
}
