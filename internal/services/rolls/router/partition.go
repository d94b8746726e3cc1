package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
)

// Policy controls routing and batching for one dispatch.
type Policy struct {
	// Delegate turns delegation to participants on.
	Delegate bool
	// ForceLocal lists actors the coordinator rolls regardless of owner.
	ForceLocal map[string]bool
	// Batch groups results into one artifact when any actor is delegated
	// or two or more actors roll.
	Batch bool
	// GroupSingles extends batching to single local-actor dispatches.
	GroupSingles bool
	// Confirm shows the coordinator one confirmation for the whole batch.
	Confirm bool
	// SkipDialog asks participants to roll without their own dialog.
	SkipDialog bool
	// Spacing separates consecutive actors. Zero uses the default;
	// negative disables it.
	Spacing time.Duration
}

// Grouped reports whether a dispatch of n resolved actors, delegated of
// them sent to participants, opens a group roll.
func (p Policy) Grouped(n, delegated int) bool {
	if n == 0 {
		return false
	}
	return p.Batch && (delegated > 0 || n >= 2 || p.GroupSingles)
}

// Assignment is one resolved actor and where it rolls. Owner is set for
// delegated actors.
type Assignment struct {
	Actor    directory.Actor
	Owner    directory.Participant
	Decision domain.DelegationDecision
}

// Skip is an actor dropped from the plan.
type Skip struct {
	ActorID string
	Err     error
}

// Plan is the partition of a dispatch, in input order.
type Plan struct {
	Assignments []Assignment
	Skipped     []Skip
}

// ActorIDs returns the resolved actors in order.
func (p Plan) ActorIDs() []string {
	ids := make([]string, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		ids = append(ids, a.Actor.ID)
	}
	return ids
}

// Delegated returns the assignments sent to participants.
func (p Plan) Delegated() []Assignment {
	return p.filter(true)
}

// Local returns the assignments the coordinator rolls.
func (p Plan) Local() []Assignment {
	return p.filter(false)
}

func (p Plan) filter(delegated bool) []Assignment {
	var out []Assignment
	for _, a := range p.Assignments {
		if a.Decision.Delegated() == delegated {
			out = append(out, a)
		}
	}
	return out
}

// Partition resolves actorIDs and decides, for each, whether it is
// delegated or rolled locally. Every resolvable actor lands in exactly one
// of the two; unresolvable ones are skipped. Directory failures other than
// not-found abort the partition.
func Partition(ctx context.Context, dir directory.Directory, actorIDs []string, policy Policy) (Plan, error) {
	var plan Plan
	for _, actorID := range actorIDs {
		assignment, err := assign(ctx, dir, actorID, policy)
		if errors.Is(err, directory.ErrActorNotFound) || errors.Is(err, directory.ErrParticipantNotFound) {
			plan.Skipped = append(plan.Skipped, Skip{ActorID: actorID, Err: err})
			continue
		}
		if err != nil {
			return Plan{}, fmt.Errorf("route actor %s: %w", actorID, err)
		}
		plan.Assignments = append(plan.Assignments, assignment)
	}
	return plan, nil
}

func assign(ctx context.Context, dir directory.Directory, actorID string, policy Policy) (Assignment, error) {
	actor, err := dir.Actor(ctx, actorID)
	if err != nil {
		return Assignment{}, err
	}
	local := func(reason string) (Assignment, error) {
		return Assignment{Actor: actor, Decision: domain.RollLocally(actor.ID, reason)}, nil
	}
	if policy.ForceLocal[actor.ID] {
		return local(domain.ReasonForcedLocal)
	}
	if !policy.Delegate {
		return local(domain.ReasonDelegationDisabled)
	}
	owner, ok, err := dir.OwningParticipant(ctx, actor.ID)
	if err != nil {
		return Assignment{}, err
	}
	switch {
	case !ok:
		return local(domain.ReasonNoOwner)
	case owner.Coordinator:
		return local(domain.ReasonCoordinatorOwned)
	case !owner.Online:
		return local(domain.ReasonOwnerOffline)
	}
	return Assignment{Actor: actor, Owner: owner, Decision: domain.Delegate(actor.ID, owner.ID)}, nil
}

func skipCode(err error) string {
	return string(apperrors.CodeOf(err))
}

func logSkips(r *Router, plan Plan) {
	for _, skip := range plan.Skipped {
		skipped.WithLabelValues(skipCode(skip.Err)).Inc()
		r.logger.Warn().
			Err(skip.Err).
			Str(platformlog.FieldActorID, skip.ActorID).
			Msg("actor skipped")
	}
}
