// Package router turns "roll this for these actors" into a dispatch: it
// partitions actors between delegation and local rolls, opens a group roll
// when batching applies, and works through the actors one at a time.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/platform/id"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/otel"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/directory"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/louisbranch/grouproll/internal/services/rolls/notice"
	"github.com/louisbranch/grouproll/internal/services/rolls/tracker"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("router")

// LocalRoller runs a roll in the coordinator process and publishes it.
type LocalRoller interface {
	Roll(ctx context.Context, req domain.RollRequest) (executor.RollOutcome, error)
}

// Sessions is the part of the tracker the router drives.
type Sessions interface {
	CreateSession(ctx context.Context, spec tracker.SessionSpec) (tracker.Handle, error)
	MarkState(groupRollID, actorID string, state domain.ActorState) error
}

// Config configures a Router.
type Config struct {
	Directory directory.Directory
	Transport transport.Transport
	Local     LocalRoller
	Sessions  Sessions
	Confirmer executor.Confirmer
	Notifier  notice.Notifier
	IDs       id.Generator
	// Sleep waits between actors; tests replace it.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zerolog.Logger
}

// Spec is what to roll.
type Spec struct {
	ActorIDs []string
	RollType domain.RollType
	RollKey  string
	Config   domain.RollConfig
}

// DispatchResult reports what a dispatch did. Cancelled means the
// coordinator declined the batch confirmation and nothing was sent.
type DispatchResult struct {
	GroupRollID string
	ArtifactID  string
	Decisions   []domain.DelegationDecision
	Skipped     []Skip
	Sent        []string
	Failed      []string
	Local       []string
	Cancelled   bool
}

// Router dispatches roll batches.
type Router struct {
	dir       directory.Directory
	transport transport.Transport
	local     LocalRoller
	sessions  Sessions
	confirmer executor.Confirmer
	notifier  notice.Notifier
	ids       id.Generator
	sleep     func(context.Context, time.Duration) error
	logger    zerolog.Logger
}

// New builds a router.
func New(cfg Config) (*Router, error) {
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Local == nil {
		return nil, errors.New("local roller is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("sessions are required")
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = executor.AutoConfirm{}
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewID
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Router{
		dir:       cfg.Directory,
		transport: cfg.Transport,
		local:     cfg.Local,
		sessions:  cfg.Sessions,
		confirmer: cfg.Confirmer,
		notifier:  cfg.Notifier,
		ids:       cfg.IDs,
		sleep:     cfg.Sleep,
		logger:    platformlog.OrComponent(cfg.Logger, "router"),
	}, nil
}

// Dispatch partitions spec.ActorIDs and works through them in input order,
// sending a request for each delegated actor and rolling each local one,
// waiting for each before the next. Per-actor failures are logged and
// recorded in the result; they never stop the batch. A group roll is
// opened first when the policy batches this many actors.
func (r *Router) Dispatch(ctx context.Context, spec Spec, policy Policy) (DispatchResult, error) {
	if len(spec.ActorIDs) == 0 {
		return DispatchResult{}, apperrors.New(apperrors.CodeInvalidRollRequest, "dispatch needs at least one actor")
	}
	probe := domain.RollRequest{
		Version:   domain.SchemaVersion,
		RequestID: "dispatch",
		ActorID:   spec.ActorIDs[0],
		RollType:  spec.RollType,
		RollKey:   spec.RollKey,
		Config:    spec.Config,
	}
	if err := probe.Validate(); err != nil {
		return DispatchResult{}, err
	}
	ctx, span := tracer.Start(ctx, "router.dispatch", trace.WithAttributes(
		attribute.String(platformlog.FieldRollType, string(spec.RollType)),
		attribute.String(platformlog.FieldRollKey, spec.RollKey),
		attribute.Int("actors", len(spec.ActorIDs)),
	))
	defer span.End()

	result, err := r.dispatch(ctx, spec, policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String(platformlog.FieldGroupRollID, result.GroupRollID),
		attribute.Int("sent", len(result.Sent)),
		attribute.Int("failed", len(result.Failed)),
		attribute.Int("local", len(result.Local)),
	)
	return result, err
}

func (r *Router) dispatch(ctx context.Context, spec Spec, policy Policy) (DispatchResult, error) {
	plan, err := Partition(ctx, r.dir, spec.ActorIDs, policy)
	if err != nil {
		return DispatchResult{}, err
	}
	logSkips(r, plan)

	result := DispatchResult{Skipped: plan.Skipped}
	for _, a := range plan.Assignments {
		result.Decisions = append(result.Decisions, a.Decision)
		decisions.WithLabelValues(a.Decision.Kind.String(), a.Decision.Reason).Inc()
	}
	if len(plan.Assignments) == 0 {
		r.logger.Warn().Strs("actors", spec.ActorIDs).Msg("no actor could be routed")
		return result, nil
	}

	cfg := spec.Config.Clone()
	if policy.Confirm {
		confirmed, proceed, err := r.confirmer.Confirm(ctx, executor.ConfirmRequest{
			ActorIDs: plan.ActorIDs(),
			RollType: spec.RollType,
			RollKey:  spec.RollKey,
			Config:   cfg,
		})
		if err != nil {
			return result, fmt.Errorf("confirm dispatch: %w", err)
		}
		if !proceed {
			r.logger.Info().Msg("dispatch cancelled at confirmation")
			result.Cancelled = true
			return result, nil
		}
		cfg = confirmed
	}

	grouped := policy.Grouped(len(plan.Assignments), len(plan.Delegated()))
	dispatches.WithLabelValues(strconv.FormatBool(grouped)).Inc()
	if grouped {
		groupRollID, err := r.ids()
		if err != nil {
			return result, fmt.Errorf("allocate group roll id: %w", err)
		}
		handle, err := r.sessions.CreateSession(ctx, tracker.SessionSpec{
			GroupRollID: groupRollID,
			RollType:    spec.RollType,
			RollKey:     spec.RollKey,
			ActorIDs:    plan.ActorIDs(),
			DC:          cfg.DC,
		})
		if err != nil {
			return result, fmt.Errorf("open group roll: %w", err)
		}
		result.GroupRollID = handle.GroupRollID
		result.ArtifactID = handle.ArtifactID
	}

	spacing := policy.Spacing
	if spacing == 0 {
		spacing = timeouts.DispatchSpacing
	}
	for i, a := range plan.Assignments {
		if i > 0 && spacing > 0 {
			if err := r.sleep(ctx, spacing); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		req, err := r.request(result.GroupRollID, a.Actor.ID, spec, cfg)
		if err != nil {
			return result, err
		}
		if a.Decision.Delegated() {
			req.SkipDialog = policy.SkipDialog
			r.delegate(ctx, a, req, &result)
		} else {
			// the coordinator already confirmed, or opted out of dialogs
			req.SkipDialog = true
			r.rollLocally(ctx, req, &result)
		}
	}
	return result, nil
}

func (r *Router) request(groupRollID, actorID string, spec Spec, cfg domain.RollConfig) (domain.RollRequest, error) {
	requestID, err := r.ids()
	if err != nil {
		return domain.RollRequest{}, fmt.Errorf("allocate request id: %w", err)
	}
	req := domain.RollRequest{
		Version:     domain.SchemaVersion,
		RequestID:   requestID,
		GroupRollID: groupRollID,
		ActorID:     actorID,
		RollType:    spec.RollType,
		RollKey:     spec.RollKey,
		Config:      cfg.Clone(),
	}
	return req, req.Validate()
}

func (r *Router) delegate(ctx context.Context, a Assignment, req domain.RollRequest, result *DispatchResult) {
	logger := r.logger.With().
		Str(platformlog.FieldRequestID, req.RequestID).
		Str(platformlog.FieldActorID, req.ActorID).
		Str(platformlog.FieldParticipantID, a.Owner.ID).
		Logger()

	r.mark(req, domain.StateDelegated)
	sendCtx, cancel := context.WithTimeout(ctx, timeouts.TransportSend)
	defer cancel()
	if err := r.transport.SendRollRequest(sendCtx, a.Owner.ID, req); err != nil {
		requests.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Msg("roll request not delivered")
		result.Failed = append(result.Failed, req.ActorID)
		return
	}
	requests.WithLabelValues("sent").Inc()
	logger.Info().Msg("roll request sent")
	result.Sent = append(result.Sent, req.ActorID)
	if r.notifier != nil {
		r.notifier.Notify(ctx, notice.RequestSent(a.Owner.DisplayName()))
	}
}

func (r *Router) rollLocally(ctx context.Context, req domain.RollRequest, result *DispatchResult) {
	r.mark(req, domain.StateLocalInProgress)
	outcome, err := r.local.Roll(ctx, req)
	localRolls.WithLabelValues(outcome.Status.String()).Inc()
	result.Local = append(result.Local, req.ActorID)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str(platformlog.FieldRequestID, req.RequestID).
			Str(platformlog.FieldActorID, req.ActorID).
			Msg("local roll failed")
	}
}

func (r *Router) mark(req domain.RollRequest, state domain.ActorState) {
	if !req.Grouped() {
		return
	}
	if err := r.sessions.MarkState(req.GroupRollID, req.ActorID, state); err != nil {
		r.logger.Debug().
			Err(err).
			Str(platformlog.FieldGroupRollID, req.GroupRollID).
			Str(platformlog.FieldActorID, req.ActorID).
			Msg("actor state not recorded")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
