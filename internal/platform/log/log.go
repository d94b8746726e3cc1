// Package log configures the process-wide structured logger.
//
// Services never build their own zerolog instances; they derive component
// loggers from the base configured here so every entry carries the same
// service identity.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Canonical field names shared by roll orchestration components.
const (
	FieldComponent     = "component"
	FieldGroupRollID   = "group_roll_id"
	FieldActorID       = "actor_id"
	FieldParticipantID = "participant_id"
	FieldRequestID     = "request_id"
	FieldArtifactID    = "artifact_id"
	FieldRollType      = "roll_type"
	FieldRollKey       = "roll_key"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // optional level ("debug", "info", ...); falls back to GROUPROLL_LOG_LEVEL
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every entry
}

var (
	mu         sync.Mutex
	configured bool
	base       zerolog.Logger
)

// Configure initialises the base logger. Only the first call has effect.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return
	}
	configured = true

	level := zerolog.InfoLevel
	raw := strings.TrimSpace(cfg.Level)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("GROUPROLL_LOG_LEVEL"))
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "grouproll"
	}

	base = zerolog.New(writer).Level(level).With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	Configure(Config{})
	mu.Lock()
	defer mu.Unlock()
	return base
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}

// OrComponent returns *logger when set, otherwise a component logger derived
// from the base.
func OrComponent(logger *zerolog.Logger, component string) zerolog.Logger {
	if logger != nil {
		return *logger
	}
	return WithComponent(component)
}
