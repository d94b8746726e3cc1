// Package rollagent parses agent command flags and runs a coordinator or
// participant against the hub.
package rollagent

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/grouproll/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/grouproll/internal/platform/grpc"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/app"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/louisbranch/grouproll/internal/services/rolls/notice"
	"github.com/louisbranch/grouproll/internal/services/rolls/router"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport/redisbus"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport/wsrelay"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Agent roles.
const (
	RoleCoordinator = "coordinator"
	RoleParticipant = "participant"
)

// Config holds agent command configuration.
type Config struct {
	Role          string        `env:"GROUPROLL_AGENT_ROLE"      envDefault:"participant"`
	ParticipantID string        `env:"GROUPROLL_AGENT_ID"`
	HubURL        string        `env:"GROUPROLL_HUB_URL"         envDefault:"ws://localhost:8090/ws"`
	HubHealthAddr string        `env:"GROUPROLL_HUB_GRPC_ADDR"   envDefault:"localhost:8091"`
	HubWait       time.Duration `env:"GROUPROLL_HUB_WAIT"        envDefault:"30s"`
	RedisAddr     string        `env:"GROUPROLL_REDIS_ADDR"`
	DirectoryPath string        `env:"GROUPROLL_DIRECTORY_PATH"  envDefault:"data/roster.json"`
	SheetsPath    string        `env:"GROUPROLL_SHEETS_PATH"`
	Locale        string        `env:"GROUPROLL_LOCALE"          envDefault:"en-US"`
	LogLevel      string        `env:"GROUPROLL_LOG_LEVEL"`

	// Coordinator batch.
	Actors       []string
	RollType     domain.RollType
	RollKey      string
	DC           int
	Advantage    bool
	Disadvantage bool
	Bonus        string
	Delegate     bool
	Batch        bool
	Confirm      bool
	SkipDialog   bool
	Timeout      time.Duration
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	var actors, rollType string
	fs.StringVar(&cfg.Role, "role", cfg.Role, "agent role: coordinator or participant")
	fs.StringVar(&cfg.ParticipantID, "id", cfg.ParticipantID, "participant id of this agent")
	fs.StringVar(&cfg.HubURL, "hub-url", cfg.HubURL, "hub websocket URL")
	fs.StringVar(&cfg.HubHealthAddr, "hub-grpc-addr", cfg.HubHealthAddr, "hub gRPC health address to wait for (empty skips)")
	fs.DurationVar(&cfg.HubWait, "hub-wait", cfg.HubWait, "how long to wait for the hub to become healthy")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address; when set roll traffic uses Redis pub/sub")
	fs.StringVar(&cfg.DirectoryPath, "directory", cfg.DirectoryPath, "JSON roster of participants and actors")
	fs.StringVar(&cfg.SheetsPath, "sheets", cfg.SheetsPath, "JSON actor sheets (optional)")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "notice locale")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&actors, "actors", "", "comma-separated actor ids to roll (coordinator)")
	fs.StringVar(&rollType, "type", string(domain.RollSkill), "roll type (coordinator)")
	fs.StringVar(&cfg.RollKey, "key", "", "ability, skill, tool or attack key (coordinator)")
	fs.IntVar(&cfg.DC, "dc", 0, "difficulty class; zero means none (coordinator)")
	fs.BoolVar(&cfg.Advantage, "advantage", false, "roll with advantage (coordinator)")
	fs.BoolVar(&cfg.Disadvantage, "disadvantage", false, "roll with disadvantage (coordinator)")
	fs.StringVar(&cfg.Bonus, "bonus", "", "situational bonus formula (coordinator)")
	fs.BoolVar(&cfg.Delegate, "delegate", true, "delegate owned actors to their participants (coordinator)")
	fs.BoolVar(&cfg.Batch, "batch", true, "group multi-actor results into one artifact (coordinator)")
	fs.BoolVar(&cfg.Confirm, "confirm", false, "confirm the batch once before sending (coordinator)")
	fs.BoolVar(&cfg.SkipDialog, "skip-dialog", false, "ask participants to roll without their dialog (coordinator)")
	fs.DurationVar(&cfg.Timeout, "timeout", 2*time.Minute, "how long to wait for every result (coordinator)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	cfg.Role = strings.ToLower(strings.TrimSpace(cfg.Role))
	cfg.ParticipantID = strings.TrimSpace(cfg.ParticipantID)
	switch cfg.Role {
	case RoleCoordinator, RoleParticipant:
	default:
		return Config{}, fmt.Errorf("unknown role %q", cfg.Role)
	}
	if cfg.ParticipantID == "" {
		return Config{}, errors.New("participant id is required")
	}
	if cfg.Role != RoleCoordinator {
		return cfg, nil
	}
	if cfg.Timeout <= 0 {
		return Config{}, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	for _, actorID := range strings.Split(actors, ",") {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			cfg.Actors = append(cfg.Actors, actorID)
		}
	}
	if len(cfg.Actors) == 0 {
		return Config{}, errors.New("coordinator needs at least one actor")
	}
	parsed, err := domain.ParseRollType(rollType)
	if err != nil {
		return Config{}, err
	}
	cfg.RollType = parsed
	return cfg, nil
}

// Spec builds the coordinator's roll batch.
func (c Config) Spec() router.Spec {
	rollCfg := domain.RollConfig{
		Advantage:    c.Advantage,
		Disadvantage: c.Disadvantage,
		Bonus:        c.Bonus,
		RequestedBy:  c.ParticipantID,
	}
	if c.DC > 0 {
		rollCfg.DC = domain.IntPtr(c.DC)
	}
	return router.Spec{ActorIDs: c.Actors, RollType: c.RollType, RollKey: c.RollKey, Config: rollCfg}
}

// Policy builds the coordinator's dispatch policy.
func (c Config) Policy() router.Policy {
	return router.Policy{Delegate: c.Delegate, Batch: c.Batch, Confirm: c.Confirm, SkipDialog: c.SkipDialog}
}

// Run connects to the hub and runs the configured role until it is done or
// ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceAgent, entrypoint.RunOptions{LogLevel: cfg.LogLevel}, func(ctx context.Context) error {
		logger := platformlog.WithComponent(entrypoint.ServiceAgent).With().
			Str(platformlog.FieldParticipantID, cfg.ParticipantID).
			Str("role", cfg.Role).
			Logger()

		dir, err := directory.LoadFile(cfg.DirectoryPath)
		if err != nil {
			return fmt.Errorf("load directory: %w", err)
		}
		var sheets executor.SheetSource
		if cfg.SheetsPath != "" {
			loaded, err := executor.LoadSheetsFile(cfg.SheetsPath)
			if err != nil {
				return fmt.Errorf("load sheets: %w", err)
			}
			sheets = loaded
		}

		if cfg.HubHealthAddr != "" {
			if err := platformgrpc.WaitForPeer(ctx, nil, cfg.HubHealthAddr, cfg.HubWait, &logger); err != nil {
				return fmt.Errorf("wait for hub: %w", err)
			}
		}

		conn, err := connect(ctx, cfg, &logger)
		if err != nil {
			return err
		}
		defer conn.close()

		notifier := notice.NewLogNotifier(cfg.Locale, &logger)
		if cfg.Role == RoleCoordinator {
			return runCoordinator(ctx, cfg, conn, dir, sheets, notifier, &logger)
		}
		return runParticipant(ctx, cfg, conn, dir, sheets, notifier, &logger)
	})
}

// connection bundles the hub client, which always carries the artifact
// store, with the roll transport and presence source in use.
type connection struct {
	hub       *wsrelay.Client
	transport transport.Transport
	presence  directory.Presence
	slot      *app.HandlerSlot
	closers   []func()
}

func (c *connection) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func connect(ctx context.Context, cfg Config, logger *zerolog.Logger) (*connection, error) {
	slot := &app.HandlerSlot{}
	// roll traffic over redis leaves the hub connection with the store only
	var hubHandler transport.Handler = slot
	if cfg.RedisAddr != "" {
		hubHandler = nil
	}
	hub, err := wsrelay.Dial(ctx, wsrelay.ClientConfig{
		URL:           cfg.HubURL,
		ParticipantID: cfg.ParticipantID,
		Coordinator:   cfg.Role == RoleCoordinator,
		Handler:       hubHandler,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to hub: %w", err)
	}
	conn := &connection{hub: hub, transport: hub, presence: hub, slot: slot}
	conn.closers = append(conn.closers, func() {
		if err := hub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close hub connection")
		}
	})
	if cfg.RedisAddr == "" {
		return conn, nil
	}

	client, err := redisbus.NewClient(ctx, redisbus.Options{Addr: cfg.RedisAddr})
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	conn.closers = append(conn.closers, func() { _ = client.Close() })
	bus, err := redisbus.Start(ctx, redisbus.Config{
		Client:        client,
		ParticipantID: cfg.ParticipantID,
		Coordinator:   cfg.Role == RoleCoordinator,
		Handler:       slot,
		Logger:        logger,
	})
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("start redis bus: %w", err)
	}
	conn.closers = append(conn.closers, func() {
		if err := bus.Close(); err != nil {
			logger.Warn().Err(err).Msg("close redis bus")
		}
	})
	conn.transport = bus
	conn.presence = bus
	return conn, nil
}

func runCoordinator(ctx context.Context, cfg Config, conn *connection, dir *directory.Static, sheets executor.SheetSource, notifier notice.Notifier, logger *zerolog.Logger) error {
	coordinator, err := app.NewCoordinator(app.CoordinatorConfig{
		ParticipantID: cfg.ParticipantID,
		Directory:     directory.WithPresence(dir, conn.presence),
		Store:         conn.hub,
		Transport:     conn.transport,
		Sheets:        sheets,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	defer coordinator.Close()
	conn.slot.Set(coordinator.Handler())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return coordinator.Run(gctx, conn.hub.Watch(gctx))
	})
	g.Go(func() error {
		defer stop()
		result, err := coordinator.Dispatch(gctx, cfg.Spec(), cfg.Policy())
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		logger.Info().
			Str(platformlog.FieldGroupRollID, result.GroupRollID).
			Strs("sent", result.Sent).
			Strs("local", result.Local).
			Strs("failed", result.Failed).
			Int("skipped", len(result.Skipped)).
			Bool("cancelled", result.Cancelled).
			Msg("dispatch finished")
		if result.GroupRollID == "" {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(gctx, cfg.Timeout)
		defer cancel()
		payload, err := coordinator.Await(waitCtx, result.GroupRollID, 0)
		if err != nil {
			logger.Warn().
				Err(err).
				Str(platformlog.FieldGroupRollID, result.GroupRollID).
				Strs("pending", payload.Pending()).
				Msg("group roll incomplete")
			return nil
		}
		for _, actorID := range payload.ActorIDs {
			res := payload.Results[actorID]
			logger.Info().
				Str(platformlog.FieldActorID, actorID).
				Int("total", res.Total).
				Str("outcome", string(res.Outcome)).
				Msg("group roll result")
		}
		return nil
	})
	return g.Wait()
}

func runParticipant(ctx context.Context, cfg Config, conn *connection, dir *directory.Static, sheets executor.SheetSource, notifier notice.Notifier, logger *zerolog.Logger) error {
	participant, err := app.NewParticipant(app.ParticipantConfig{
		ParticipantID: cfg.ParticipantID,
		CoordinatorID: conn.hub.CoordinatorID(),
		Directory:     dir,
		Store:         conn.hub,
		Transport:     conn.transport,
		Sheets:        sheets,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build participant: %w", err)
	}
	defer participant.Close()
	conn.slot.Set(participant.Handler())

	logger.Info().Strs("actors", dir.ActorsOwnedBy(cfg.ParticipantID)).Msg("participant ready")
	select {
	case <-ctx.Done():
		return nil
	case <-conn.hub.Done():
		return errors.New("hub connection closed")
	}
}
