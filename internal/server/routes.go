package server

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Control surface
	s.echo.POST("/dispatch", s.handleDispatch,
		middleware.BodyLimit(fmt.Sprintf("%d", s.config.MaxMessageBytes)))
	s.echo.GET("/status", s.handleStatus)

	// Session transport; everything else, wrong methods included, is a 404
	s.echo.GET("/ws", s.handleWebSocket)
}
