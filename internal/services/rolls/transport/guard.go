package transport

import (
	"context"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/rs/zerolog"
)

// Guard wraps next so messages addressed to self become local no-ops
// instead of round-tripping through the transport. Results reported by the
// coordinator itself are dropped the same way; the coordinator records its
// own rolls directly.
func Guard(self, coordinatorID string, next Transport, logger *zerolog.Logger) Transport {
	return &guard{
		self:          self,
		coordinatorID: coordinatorID,
		next:          next,
		logger:        platformlog.OrComponent(logger, "transport"),
	}
}

type guard struct {
	self          string
	coordinatorID string
	next          Transport
	logger        zerolog.Logger
}

func (g *guard) SendRollRequest(ctx context.Context, participantID string, req domain.RollRequest) error {
	if participantID == g.self {
		g.logger.Debug().
			Err(ErrSelfTarget).
			Str(platformlog.FieldParticipantID, participantID).
			Str(platformlog.FieldRequestID, req.RequestID).
			Msg("roll request to self skipped")
		return nil
	}
	return g.next.SendRollRequest(ctx, participantID, req)
}

func (g *guard) ReportRollResult(ctx context.Context, report domain.ResultReport) error {
	if g.self == g.coordinatorID {
		g.logger.Debug().
			Err(ErrSelfTarget).
			Str(platformlog.FieldGroupRollID, report.GroupRollID).
			Str(platformlog.FieldActorID, report.ActorID).
			Msg("result report to self skipped")
		return nil
	}
	return g.next.ReportRollResult(ctx, report)
}
