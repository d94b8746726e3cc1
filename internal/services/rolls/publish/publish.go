// Package publish decides where a finished roll becomes visible: folded
// into its group artifact, posted as an individual artifact, and reported
// back to the coordinator when it was delegated.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/executor"
	"github.com/louisbranch/grouproll/internal/services/rolls/tracker"
	"github.com/louisbranch/grouproll/internal/services/rolls/transport"
	"github.com/rs/zerolog"
)

// Interceptor folds individual results into their group roll.
type Interceptor interface {
	InterceptIndividualResult(ctx context.Context, result tracker.IndividualResult, groupRollID string) (tracker.Decision, error)
}

// Config configures a Publisher. Reporter is nil in the coordinator, which
// records results locally.
type Config struct {
	Store       artifact.Store
	Interceptor Interceptor
	Reporter    transport.Transport
	Names       artifact.Names
	Logger      *zerolog.Logger
}

// Result describes what Publish did.
type Result struct {
	ArtifactID string
	Grouped    bool
	Reported   bool
}

// Publisher makes roll outcomes visible.
type Publisher struct {
	store       artifact.Store
	interceptor Interceptor
	reporter    transport.Transport
	names       artifact.Names
	logger      zerolog.Logger
}

// New builds a publisher.
func New(cfg Config) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	return &Publisher{
		store:       cfg.Store,
		interceptor: cfg.Interceptor,
		reporter:    cfg.Reporter,
		names:       cfg.Names,
		logger:      platformlog.OrComponent(cfg.Logger, "publish"),
	}, nil
}

// Publish makes outcome visible exactly once. Cancelled and failed
// outcomes publish nothing. Grouped results go to the group artifact; when
// no group artifact exists the individual artifact is posted instead so
// the roll is never lost. Delegated grouped results are also reported to
// the coordinator; a failed report is logged, not returned.
func (p *Publisher) Publish(ctx context.Context, req domain.RollRequest, outcome executor.RollOutcome) (Result, error) {
	if !outcome.Rolled() {
		return Result{}, nil
	}
	logger := p.logger.With().
		Str(platformlog.FieldRequestID, req.RequestID).
		Str(platformlog.FieldGroupRollID, req.GroupRollID).
		Str(platformlog.FieldActorID, req.ActorID).
		Logger()

	var result Result
	if req.Grouped() && p.interceptor != nil {
		decision, err := p.interceptor.InterceptIndividualResult(ctx, tracker.IndividualResult{
			ActorID: req.ActorID,
			Total:   outcome.Total,
		}, req.GroupRollID)
		if err != nil {
			logger.Warn().Err(err).Msg("group roll update failed; posting individual result")
		}
		result.Grouped = err == nil && decision.Suppress
	}

	if !result.Grouped {
		artifactID, err := p.postIndividual(ctx, req, outcome)
		if err != nil {
			return result, err
		}
		result.ArtifactID = artifactID
	}

	if req.Grouped() && p.reporter != nil {
		report := domain.NewResultReport(req.RequestID, req.GroupRollID, req.ActorID, outcome.Total)
		if err := p.reporter.ReportRollResult(ctx, report); err != nil {
			logger.Warn().Err(err).Msg("result report not delivered; coordinator will reconcile from the artifact")
		} else {
			result.Reported = true
		}
	}
	return result, nil
}

func (p *Publisher) postIndividual(ctx context.Context, req domain.RollRequest, outcome executor.RollOutcome) (string, error) {
	name := req.ActorID
	if p.names != nil {
		name = p.names(req.ActorID)
	}
	content, err := artifact.RenderString(ctx, artifact.Individual(artifact.IndividualView{
		ActorID:   req.ActorID,
		ActorName: name,
		RollType:  req.RollType,
		RollKey:   req.RollKey,
		Formula:   outcome.Formula,
		Dice:      outcome.Dice,
		Total:     outcome.Total,
		DC:        outcome.DC,
	}))
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(IndividualPayload{
		Version: domain.PayloadVersion,
		ActorID: req.ActorID,
		Total:   outcome.Total,
		Formula: outcome.Formula,
		Seed:    outcome.Seed,
	})
	if err != nil {
		return "", fmt.Errorf("encode individual payload: %w", err)
	}
	artifactID, err := p.store.Create(ctx, content, artifact.Metadata{
		GroupRollID: req.GroupRollID,
		ActorID:     req.ActorID,
		RequestID:   req.RequestID,
		Payload:     payload,
	})
	if err != nil {
		return "", fmt.Errorf("post individual artifact: %w", err)
	}
	return artifactID, nil
}

// IndividualPayload is the metadata payload of an individual artifact.
type IndividualPayload struct {
	Version int    `json:"version"`
	ActorID string `json:"actor_id"`
	Total   int    `json:"total"`
	Formula string `json:"formula,omitempty"`
	Seed    int64  `json:"seed,omitempty"`
}

// IndividualResultOf extracts the interceptable result from an individual
// artifact that belongs to a group roll. ok is false for group artifacts,
// ungrouped artifacts, hidden ones and unreadable payloads.
func IndividualResultOf(a artifact.Artifact) (result tracker.IndividualResult, groupRollID string, ok bool) {
	meta := a.Metadata
	if meta.IsGroupRoll || meta.GroupRollID == "" || meta.Hidden || len(meta.Payload) == 0 {
		return tracker.IndividualResult{}, "", false
	}
	var payload IndividualPayload
	if err := json.Unmarshal(meta.Payload, &payload); err != nil || payload.Version != domain.PayloadVersion {
		return tracker.IndividualResult{}, "", false
	}
	actorID := payload.ActorID
	if actorID == "" {
		actorID = meta.ActorID
	}
	return tracker.IndividualResult{ArtifactID: a.ID, ActorID: actorID, Total: payload.Total}, meta.GroupRollID, true
}
