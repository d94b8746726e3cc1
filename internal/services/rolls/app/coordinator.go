package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/louisbranch/grouproll/internal/services/rolls/notice"
	"github.com/louisbranch/grouproll/internal/services/rolls/publish"
	"github.com/louisbranch/grouproll/internal/services/rolls/router"
	"github.com/louisbranch/grouproll/internal/services/rolls/tracker"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	ParticipantID string
	Directory     directory.Directory
	Store         artifact.Store
	Transport     transport.Transport
	Sheets        executor.SheetSource
	Confirmer     executor.Confirmer
	Notifier      notice.Notifier
	// Tracker carries timing overrides; its store, names and logger are
	// filled in from this config.
	Tracker tracker.Config
	Logger  *zerolog.Logger
}

// Coordinator is the process that dispatches roll batches. It owns the
// authoritative tracker, rolls locally for actors it cannot delegate, and
// records the results participants report back.
type Coordinator struct {
	id      string
	store   artifact.Store
	tracker *tracker.Tracker
	router  *router.Router
	logger  zerolog.Logger
}

// NewCoordinator wires the tracker, executor, publisher and router.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	switch {
	case cfg.ParticipantID == "":
		return nil, errors.New("coordinator participant id is required")
	case cfg.Directory == nil:
		return nil, errors.New("directory is required")
	case cfg.Store == nil:
		return nil, errors.New("artifact store is required")
	case cfg.Transport == nil:
		return nil, errors.New("transport is required")
	}
	names := Names(cfg.Directory)

	trackerCfg := cfg.Tracker
	trackerCfg.Store = cfg.Store
	trackerCfg.Names = names
	trackerCfg.Logger = cfg.Logger
	tr, err := tracker.New(trackerCfg)
	if err != nil {
		return nil, fmt.Errorf("build tracker: %w", err)
	}
	publisher, err := publish.New(publish.Config{
		Store:       cfg.Store,
		Interceptor: tr,
		Names:       names,
		Logger:      cfg.Logger,
	})
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("build publisher: %w", err)
	}
	roller := &publish.Roller{
		Executor: executor.New(executor.Config{
			Sheets:    cfg.Sheets,
			Confirmer: cfg.Confirmer,
			Notifier:  cfg.Notifier,
			Names:     names,
			Logger:    cfg.Logger,
		}),
		Publisher: publisher,
		States:    tr,
		Logger:    cfg.Logger,
	}
	rt, err := router.New(router.Config{
		Directory: cfg.Directory,
		Transport: transport.Guard(cfg.ParticipantID, cfg.ParticipantID, cfg.Transport, cfg.Logger),
		Local:     roller,
		Sessions:  tr,
		Confirmer: cfg.Confirmer,
		Notifier:  cfg.Notifier,
		Logger:    cfg.Logger,
	})
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("build router: %w", err)
	}
	return &Coordinator{
		id:      cfg.ParticipantID,
		store:   cfg.Store,
		tracker: tr,
		router:  rt,
		logger:  platformlog.OrComponent(cfg.Logger, "coordinator"),
	}, nil
}

// Tracker exposes the coordinator's tracker.
func (c *Coordinator) Tracker() *tracker.Tracker {
	return c.tracker
}

// Dispatch routes one roll batch.
func (c *Coordinator) Dispatch(ctx context.Context, spec router.Spec, policy router.Policy) (router.DispatchResult, error) {
	return c.router.Dispatch(ctx, spec, policy)
}

// Handler returns the transport handler the coordinator registers.
func (c *Coordinator) Handler() transport.Handler {
	return transport.HandlerFuncs{Result: c.HandleRollResult}
}

// HandleRollResult records a participant's completion report.
func (c *Coordinator) HandleRollResult(ctx context.Context, from string, report domain.ResultReport) error {
	progress, err := c.tracker.RecordResult(ctx, report.GroupRollID, report.ActorID, report.Total)
	logger := c.logger.With().
		Str(platformlog.FieldGroupRollID, report.GroupRollID).
		Str(platformlog.FieldActorID, report.ActorID).
		Str(platformlog.FieldParticipantID, from).
		Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("result report not recorded")
		return err
	}
	logger.Info().
		Int("reported", progress.Reported).
		Int("expected", progress.Expected).
		Bool("duplicate", progress.Duplicate).
		Msg("result report recorded")
	return nil
}

// Observe folds one artifact change into the tracker. Group artifacts are
// reconciled; individual artifacts of a group roll are intercepted.
func (c *Coordinator) Observe(ctx context.Context, change artifact.Change) {
	if change.Kind == artifact.ChangeDeleted {
		return
	}
	a := change.Artifact
	if a.Metadata.IsGroupRoll {
		if _, _, err := c.tracker.Reconcile(ctx, a); err != nil {
			c.logger.Debug().Err(err).Str(platformlog.FieldArtifactID, a.ID).Msg("group artifact not reconciled")
		}
		return
	}
	result, groupRollID, ok := publish.IndividualResultOf(a)
	if !ok {
		return
	}
	decision, err := c.tracker.InterceptIndividualResult(ctx, result, groupRollID)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str(platformlog.FieldArtifactID, a.ID).
			Str(platformlog.FieldGroupRollID, groupRollID).
			Msg("individual artifact not intercepted")
		return
	}
	if decision.Suppress && !decision.AlreadyHandled {
		c.logger.Info().
			Str(platformlog.FieldArtifactID, a.ID).
			Str(platformlog.FieldGroupRollID, groupRollID).
			Msg("individual artifact folded into group roll")
	}
}

// Run sweeps stale sessions and, when changes is non-nil, observes the
// artifact feed until ctx ends.
func (c *Coordinator) Run(ctx context.Context, changes <-chan artifact.Change) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.tracker.Run(gctx)
	})
	if changes != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case change, ok := <-changes:
					if !ok {
						return nil
					}
					c.Observe(gctx, change)
				}
			}
		})
	}
	return g.Wait()
}

// Await polls the group artifact until every actor has reported or ctx
// ends, returning the latest payload either way.
func (c *Coordinator) Await(ctx context.Context, groupRollID string, every time.Duration) (domain.GroupRollPayload, error) {
	if every <= 0 {
		every = 250 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var latest domain.GroupRollPayload
	for {
		a, ok, err := artifact.FindGroupRoll(ctx, c.store, groupRollID)
		if err != nil {
			return latest, fmt.Errorf("load group roll: %w", err)
		}
		if ok {
			payload, err := domain.DecodePayload(a.Metadata.Payload)
			if err != nil {
				return latest, err
			}
			latest = payload
			if payload.Complete() {
				return latest, nil
			}
		}
		select {
		case <-ctx.Done():
			return latest, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the tracker's timers.
func (c *Coordinator) Close() {
	c.tracker.Close()
}
