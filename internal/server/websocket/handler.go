package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
)

// maxFrameSize bounds frames accepted from pages. Pages only send control
// frames, so anything large is a misbehaving client.
const maxFrameSize = 64 * 1024

// pingPeriod must stay below pongWait.
const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler is an http.Handler that upgrades connections to WebSocket,
// registers them with the Broadcaster and writes broadcast frames to them.
type Handler struct {
	bc       *Broadcaster
	logger   *slog.Logger
	upgrader gws.Upgrader

	// writeTimeout bounds each frame write.
	writeTimeout time.Duration

	// greeting returns the messages sent to a page right after it connects,
	// so it shows the current artwork without waiting for the next change.
	greeting func() []Message
}

// NewHandler creates a Handler backed by bc. writeTimeout <= 0 defaults to
// 10 seconds.
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{
		bc:           bc,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// WithGreeting sets the function producing the messages sent on connect.
func (h *Handler) WithGreeting(fn func() []Message) *Handler {
	h.greeting = fn
	return h
}

// ServeHTTP handles the upgrade and drives the connection lifecycle.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !gws.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	client := h.bc.Register(clientID)
	defer h.bc.Unregister(clientID)

	h.logger.Info("websocket: client connected",
		slog.String("client_id", clientID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	// Reader: discards page frames, answers pings and detects disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxFrameSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure) {
					h.logger.Debug("websocket: read failed", slog.String("client_id", clientID), slog.Any("error", err))
				}
				return
			}
		}
	}()

	if h.greeting != nil {
		for _, msg := range h.greeting() {
			if err := h.writeJSON(conn, msg); err != nil {
				h.logger.Warn("websocket: greeting failed", slog.String("client_id", clientID), slog.Any("error", err))
				return
			}
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("websocket: client disconnected", slog.String("client_id", clientID))
			return

		case msg, ok := <-client.Send():
			if !ok {
				_ = conn.WriteControl(gws.CloseMessage,
					gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down"),
					time.Now().Add(h.writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(gws.TextMessage, msg); err != nil {
				h.logger.Warn("websocket: write frame failed",
					slog.String("client_id", clientID), slog.Any("error", err))
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(gws.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.logger.Debug("websocket: ping failed", slog.String("client_id", clientID), slog.Any("error", err))
				return
			}
		}
	}
}

func (h *Handler) writeJSON(conn *gws.Conn, msg Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(msg)
}
