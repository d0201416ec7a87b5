package server

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/metrics"
	"github.com/labstack/echo/v4"
)

// handleDispatch forwards the raw request body verbatim to every connected
// worker, bypassing command correlation. Operators use it for fire-and-forget
// control messages issued outside any open observer socket.
func (s *Server) handleDispatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fmt.Errorf("failed to read dispatch body: %w", err)
	}

	if !s.relay.DispatchRaw(body) {
		metrics.DispatchRequestsTotal.WithLabelValues("no_workers").Inc()
		return c.String(503, "no-python-clients")
	}

	metrics.DispatchRequestsTotal.WithLabelValues("sent").Inc()
	slog.InfoContext(c.Request().Context(), "Raw dispatch delivered", "bytes", len(body))
	return c.String(200, "sent")
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(200, s.relay.Status())
}
