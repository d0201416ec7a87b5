package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/metrics"
	"github.com/labstack/echo/v4"
)

// readTimeout is the transport-level read deadline. The writer pump pings
// every 30 seconds, so three missed pongs end the session.
const readTimeout = 90 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // workers and dashboards connect from arbitrary origins
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	ctx := c.Request().Context()

	ok, reason := s.gate.Acquire(ip)
	if !ok {
		metrics.GateRejectionsTotal.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(ctx, "Connection rejected by gate", "reason", string(reason), "remote_ip", ip)
		if reason == LimitReasonGlobal {
			return c.String(503, "server at connection capacity")
		}
		return c.String(429, "connection limit exceeded")
	}
	defer s.gate.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	sessionID := uuid.NewString()
	clientType := c.QueryParam("client")

	if err := s.relay.Attach(conn, clientType); err != nil {
		slog.WarnContext(ctx, "Attach refused", "session_id", sessionID, "error", err)
		conn.Close()
		return nil
	}
	slog.InfoContext(ctx, "WebSocket session opened",
		"session_id", sessionID,
		"client_type", clientType,
		"remote_ip", ip,
		"open_connections", s.gate.GlobalCount(),
	)

	defer func() {
		s.relay.Detach(conn)
		slog.InfoContext(ctx, "WebSocket session closed", "session_id", sessionID)
	}()

	// Liveness at the transport layer: cap frame size, arm the read
	// deadline, refresh it on pong receipt and on every inbound frame.
	conn.SetReadLimit(s.config.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "WebSocket read ended", "session_id", sessionID, "error", err)
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.relay.Receive(conn, message)
	}

	return nil //nolint:nilerr // ReadMessage err is block-scoped; outer err is nil
}
