// Package rollhub parses hub command flags and composes the relay server.
package rollhub

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	entrypoint "github.com/louisbranch/grouproll/internal/platform/cmd"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/app"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact/sqlite"
)

// Config holds hub command configuration.
type Config struct {
	HTTPAddr  string `env:"GROUPROLL_HUB_HTTP_ADDR"  envDefault:":8090"`
	GRPCAddr  string `env:"GROUPROLL_HUB_GRPC_ADDR"  envDefault:":8091"`
	DBPath    string `env:"GROUPROLL_HUB_DB_PATH"    envDefault:"data/artifacts.db"`
	FrameRate int    `env:"GROUPROLL_HUB_FRAME_RATE" envDefault:"40"`
	LogLevel  string `env:"GROUPROLL_LOG_LEVEL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite artifact database path")
	fs.IntVar(&cfg.FrameRate, "frame-rate", cfg.FrameRate, "inbound frames per second allowed on one connection")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.FrameRate <= 0 {
		return Config{}, fmt.Errorf("frame rate must be positive, got %d", cfg.FrameRate)
	}
	return cfg, nil
}

// Run opens the artifact database and serves the hub until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceHub, entrypoint.RunOptions{LogLevel: cfg.LogLevel}, func(ctx context.Context) error {
		logger := platformlog.WithComponent(entrypoint.ServiceHub)
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DBPath, Logger: &logger})
		if err != nil {
			return fmt.Errorf("open artifact store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("close artifact store")
			}
		}()

		server, err := app.NewHubServer(app.HubConfig{
			HTTPAddr:  cfg.HTTPAddr,
			GRPCAddr:  cfg.GRPCAddr,
			Store:     store,
			FrameRate: cfg.FrameRate,
			Logger:    &logger,
		})
		if err != nil {
			return fmt.Errorf("init hub: %w", err)
		}
		if err := server.Serve(ctx); err != nil {
			return fmt.Errorf("serve hub: %w", err)
		}
		return nil
	})
}
