package app

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/louisbranch/grouproll/internal/services/rolls/notice"
	"github.com/louisbranch/grouproll/internal/services/rolls/publish"
	"github.com/louisbranch/grouproll/internal/services/rolls/tracker"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
)

// ErrNotOwner rejects requests for actors the participant does not own.
var ErrNotOwner = apperrors.New(apperrors.CodeNotOwner, "actor is not owned by this participant")

// ParticipantConfig configures a Participant.
type ParticipantConfig struct {
	ParticipantID string
	// CoordinatorID, when known, keeps a coordinator-participant from
	// reporting to itself.
	CoordinatorID string
	Directory     directory.Directory
	Store         artifact.Store
	// Transport carries result reports back to the coordinator.
	Transport transport.Transport
	Sheets    executor.SheetSource
	Confirmer executor.Confirmer
	Notifier  notice.Notifier
	Logger    *zerolog.Logger
}

// Participant answers delegated roll requests for the actors it owns. It
// records grouped results straight into the shared group artifact and
// reports them to the coordinator.
type Participant struct {
	id      string
	dir     directory.Directory
	tracker *tracker.Tracker
	roller  *publish.Roller
	logger  zerolog.Logger
}

// NewParticipant wires a participant's executor, tracker and publisher.
func NewParticipant(cfg ParticipantConfig) (*Participant, error) {
	switch {
	case cfg.ParticipantID == "":
		return nil, errors.New("participant id is required")
	case cfg.Directory == nil:
		return nil, errors.New("directory is required")
	case cfg.Store == nil:
		return nil, errors.New("artifact store is required")
	}
	names := Names(cfg.Directory)
	tr, err := tracker.New(tracker.Config{Store: cfg.Store, Names: names, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("build tracker: %w", err)
	}
	var reporter transport.Transport
	if cfg.Transport != nil {
		reporter = cfg.Transport
		if cfg.CoordinatorID != "" {
			reporter = transport.Guard(cfg.ParticipantID, cfg.CoordinatorID, cfg.Transport, cfg.Logger)
		}
	}
	publisher, err := publish.New(publish.Config{
		Store:       cfg.Store,
		Interceptor: tr,
		Reporter:    reporter,
		Names:       names,
		Logger:      cfg.Logger,
	})
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("build publisher: %w", err)
	}
	return &Participant{
		id:      cfg.ParticipantID,
		dir:     cfg.Directory,
		tracker: tr,
		roller: &publish.Roller{
			Executor: executor.New(executor.Config{
				Sheets:    cfg.Sheets,
				Confirmer: cfg.Confirmer,
				Notifier:  cfg.Notifier,
				Names:     names,
				Logger:    cfg.Logger,
			}),
			Publisher: publisher,
			Logger:    cfg.Logger,
		},
		logger: platformlog.OrComponent(cfg.Logger, "participant").With().Str(platformlog.FieldParticipantID, cfg.ParticipantID).Logger(),
	}, nil
}

// Handler returns the transport handler the participant registers.
func (p *Participant) Handler() transport.Handler {
	return transport.HandlerFuncs{Request: p.HandleRollRequest}
}

// HandleRollRequest rolls req when this participant owns its actor.
func (p *Participant) HandleRollRequest(ctx context.Context, from string, req domain.RollRequest) error {
	logger := p.logger.With().
		Str(platformlog.FieldRequestID, req.RequestID).
		Str(platformlog.FieldGroupRollID, req.GroupRollID).
		Str(platformlog.FieldActorID, req.ActorID).
		Str("from", from).
		Logger()

	owns, err := directory.Owns(ctx, p.dir, p.id, req.ActorID)
	if err != nil {
		logger.Warn().Err(err).Msg("roll request for unknown actor")
		return err
	}
	if !owns {
		logger.Warn().Msg("roll request for an actor owned elsewhere")
		return apperrors.WithMetadata(apperrors.CodeNotOwner, ErrNotOwner.Message,
			map[string]string{"actor_id": req.ActorID, "participant_id": p.id})
	}

	outcome, err := p.roller.Roll(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("roll request failed")
		return err
	}
	logger.Info().
		Str("status", outcome.Status.String()).
		Int("total", outcome.Total).
		Msg("roll request handled")
	return nil
}

// Close stops the participant tracker's timers.
func (p *Participant) Close() {
	p.tracker.Close()
}
