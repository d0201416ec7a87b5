package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/config"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/platform/logging"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/relay"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/server"
	"github.com/jonboulle/clockwork"
)

func runGracefulShutdown(srv *server.Server, directory *relay.Directory) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Stop accepting HTTP traffic first, then close the socket sessions.
		// Hijacked websocket connections are not tracked by the HTTP server,
		// so Shutdown returns without waiting on them.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		directory.StopAll()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	directory := relay.NewDirectory(clock, cfg.SendBufferSize, cfg.PendingCommandTTL)
	instance := directory.Get(cfg.RelayName)

	srv := server.NewServer(cfg, instance)

	done := runGracefulShutdown(srv, directory)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
