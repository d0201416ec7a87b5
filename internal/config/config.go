package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config carries every tunable of the relay process. All values come from
// the environment; everything has a safe default so the binary starts with
// no configuration at all.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// RelayName selects the named relay instance served at /ws.
	RelayName string `env:"RELAY_NAME" default:"scout"`

	// SendBufferSize is the per-connection outbound message buffer. A
	// connection whose buffer is full when a broadcast reaches it is
	// treated as dead and pruned.
	SendBufferSize int `env:"SEND_BUFFER_SIZE" default:"32"`

	// MaxMessageBytes caps inbound socket messages. Worker payloads carry
	// scraped HTML, so the default is deliberately roomy.
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES" default:"1048576"`

	// PendingCommandTTL evicts unresolved commands older than this age.
	// Zero disables the sweep.
	PendingCommandTTL time.Duration `env:"PENDING_COMMAND_TTL" default:"0"`

	// Connection gate limits. Zero disables the corresponding cap.
	MaxWSConnections    int64   `env:"MAX_WS_CONNECTIONS" default:"512"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"32"`
	ConnectionRatePerIP float64 `env:"CONNECTION_RATE_PER_IP" default:"10"`
	ConnectionRateBurst int     `env:"CONNECTION_RATE_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.SendBufferSize <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", cfg.SendBufferSize)
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", cfg.MaxMessageBytes)
	}
	if cfg.PendingCommandTTL < 0 {
		return fmt.Errorf("PENDING_COMMAND_TTL must not be negative, got %s", cfg.PendingCommandTTL)
	}
	return nil
}
