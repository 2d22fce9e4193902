// Package roomsim parses reference backend flags and starts the server.
package roomsim

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/tableroom/internal/platform/cmd"
	server "github.com/louisbranch/tableroom/internal/services/roomsim/app"
)

// Config holds roomsim command configuration.
type Config struct {
	HTTPAddr        string        `env:"ROOMSIM_HTTP_ADDR"        envDefault:":8090"`
	TokenSecret     string        `env:"ROOMSIM_TOKEN_SECRET"`
	Seed            bool          `env:"ROOMSIM_SEED"             envDefault:"true"`
	ShutdownTimeout time.Duration `env:"ROOMSIM_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "roomsim HTTP listen address")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "HS256 secret for bearer tokens; empty accepts anonymous callers")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "load the demo session and encounters")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for open requests and telemetry on exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the reference backend until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{ShutdownTimeout: cfg.ShutdownTimeout}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceRoomSim, options, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			TokenSecret:     cfg.TokenSecret,
			Seed:            cfg.Seed,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}); err != nil {
			return fmt.Errorf("serve roomsim: %w", err)
		}
		return nil
	})
}
