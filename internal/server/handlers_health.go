package server

import (
	"time"

	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/version"
	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness reports ready once the relay actor answers a status query.
// A stopped or wedged actor turns the instance unready without killing it.
func (s *Server) handleReadiness(c echo.Context) error {
	if err := s.relay.Ready(); err != nil {
		return c.JSON(503, map[string]any{
			"status":       "unhealthy",
			"failed_check": "relay",
			"error":        err.Error(),
		})
	}
	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
