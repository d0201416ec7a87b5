package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/config"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/platform/correlation"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/relay"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	relay     *relay.Relay
	gate      *ConnectionLimits
	startTime time.Time
}

func NewServer(cfg *config.Config, r *relay.Relay) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(correlationMiddleware)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(unknownRouteMiddleware)

	srv := &Server{
		echo:   e,
		config: cfg,
		relay:  r,
		gate: NewConnectionLimits(
			cfg.MaxWSConnections,
			cfg.MaxConnectionsPerIP,
			cfg.ConnectionRatePerIP,
			cfg.ConnectionRateBurst,
		),
		startTime: time.Now(),
	}

	// Register routes
	srv.registerRoutes()

	return srv
}

// correlationMiddleware tags each request context with a fresh ID; the
// logging handler attaches it to every slog call made with that context.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// unknownRouteMiddleware collapses method mismatches into 404s. The surface
// publishes exact path+method pairs; anything else is an unknown request.
func unknownRouteMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == http.StatusMethodNotAllowed {
			return echo.ErrNotFound
		}
		return err
	}
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
