package publish

import (
	"context"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/rs/zerolog"
)

// Executor runs one roll.
type Executor interface {
	Execute(ctx context.Context, req domain.RollRequest) (executor.RollOutcome, error)
}

// StateMarker records actor lifecycle changes on a group roll.
type StateMarker interface {
	MarkState(groupRollID, actorID string, state domain.ActorState) error
}

// Roller executes a request and publishes its outcome, so a successful roll
// causes exactly one result record and a cancelled one causes none.
type Roller struct {
	Executor  Executor
	Publisher *Publisher
	// States is optional; the coordinator sets it to its tracker.
	States StateMarker
	Logger *zerolog.Logger
}

// Roll implements the router's local roller and the participant's request
// handling.
func (r *Roller) Roll(ctx context.Context, req domain.RollRequest) (executor.RollOutcome, error) {
	outcome, err := r.Executor.Execute(ctx, req)
	if err != nil {
		return outcome, err
	}
	if outcome.Status == executor.StatusCancelled {
		r.mark(req, domain.StateCancelled)
		return outcome, nil
	}
	if _, err := r.Publisher.Publish(ctx, req, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (r *Roller) mark(req domain.RollRequest, state domain.ActorState) {
	if r.States == nil || !req.Grouped() {
		return
	}
	if err := r.States.MarkState(req.GroupRollID, req.ActorID, state); err != nil {
		logger := platformlog.OrComponent(r.Logger, "publish")
		logger.Debug().
			Err(err).
			Str(platformlog.FieldGroupRollID, req.GroupRollID).
			Str(platformlog.FieldActorID, req.ActorID).
			Msg("actor state not recorded")
	}
}
