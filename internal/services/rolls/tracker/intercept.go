package tracker

import (
	"context"
	"errors"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IndividualResult is a per-actor roll result about to be, or already,
// posted as its own artifact. ArtifactID is empty before creation.
type IndividualResult struct {
	ArtifactID string
	ActorID    string
	Total      int
}

// Decision tells the caller what became of an individual result.
// Suppress means the group artifact now carries it and the individual
// artifact must not be shown. AlreadyHandled means an earlier call for the
// same artifact did the work.
type Decision struct {
	Suppress       bool
	AlreadyHandled bool
}

// InterceptIndividualResult routes an individual result into its group
// roll. Before creation a successful record suppresses the artifact
// outright. After creation the artifact is hidden at once and deleted after
// the deletion delay; each artifact is handled at most once. When the
// result cannot be recorded the individual artifact is kept so the roll is
// never invisible.
func (t *Tracker) InterceptIndividualResult(ctx context.Context, result IndividualResult, groupRollID string) (Decision, error) {
	if groupRollID == "" {
		return Decision{}, nil
	}
	ctx, span := tracer.Start(ctx, "tracker.intercept_individual", trace.WithAttributes(
		attribute.String(platformlog.FieldGroupRollID, groupRollID),
		attribute.String(platformlog.FieldActorID, result.ActorID),
		attribute.String(platformlog.FieldArtifactID, result.ArtifactID),
	))
	defer span.End()

	logger := t.logger.With().
		Str(platformlog.FieldGroupRollID, groupRollID).
		Str(platformlog.FieldActorID, result.ActorID).
		Str(platformlog.FieldArtifactID, result.ArtifactID).
		Logger()

	postCreate := result.ArtifactID != ""
	if postCreate && !t.reserveDeletion(result.ArtifactID) {
		return Decision{Suppress: true, AlreadyHandled: true}, nil
	}

	if _, err := t.RecordResult(ctx, groupRollID, result.ActorID, result.Total); err != nil {
		if postCreate {
			t.releaseDeletion(result.ArtifactID)
		}
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrActorNotInSession) {
			logger.Debug().Err(err).Msg("keeping individual artifact")
			return Decision{}, nil
		}
		return Decision{}, err
	}

	if !postCreate {
		individualSuppressed.WithLabelValues(stagePreCreate).Inc()
		return Decision{Suppress: true}, nil
	}

	if err := t.hide(ctx, result.ArtifactID); err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			t.finishDeletion(result.ArtifactID)
			staleDeletions.Inc()
			logger.Debug().
				Str("code", string(apperrors.CodeStaleDeletionAttempt)).
				Msg("individual artifact already gone")
			return Decision{Suppress: true}, nil
		}
		logger.Warn().Err(err).Msg("hide individual artifact")
	}
	t.scheduleDeletion(result.ArtifactID)
	individualSuppressed.WithLabelValues(stagePostCreate).Inc()
	return Decision{Suppress: true}, nil
}

func (t *Tracker) hide(ctx context.Context, artifactID string) error {
	current, err := t.store.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	if current.Metadata.Hidden {
		return nil
	}
	meta := current.Metadata
	meta.Hidden = true
	return t.store.Update(ctx, artifactID, current.Content, meta)
}

// reserveDeletion claims artifactID for suppression. It returns false when
// the artifact was already claimed.
func (t *Tracker) reserveDeletion(artifactID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.deletions[artifactID]; ok {
		return false
	}
	t.deletions[artifactID] = &deletion{reservedAt: t.now()}
	return true
}

func (t *Tracker) releaseDeletion(artifactID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.deletions, artifactID)
}

func (t *Tracker) finishDeletion(artifactID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.deletions[artifactID]; ok {
		d.done = true
	}
}

func (t *Tracker) scheduleDeletion(artifactID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.deletions[artifactID]
	if !ok || t.closed {
		return
	}
	d.timer = t.afterFunc(t.deletionDelay, func() {
		t.deleteArtifact(artifactID)
	})
}

func (t *Tracker) deleteArtifact(artifactID string) {
	ctx, cancel := context.WithTimeout(t.baseCtx, timeouts.TransportSend)
	defer cancel()

	err := t.store.Delete(ctx, artifactID)
	t.finishDeletion(artifactID)
	switch {
	case err == nil:
		t.logger.Debug().Str(platformlog.FieldArtifactID, artifactID).Msg("individual artifact deleted")
	case errors.Is(err, artifact.ErrNotFound):
		staleDeletions.Inc()
		t.logger.Info().
			Str(platformlog.FieldArtifactID, artifactID).
			Str("code", string(apperrors.CodeStaleDeletionAttempt)).
			Msg("individual artifact already deleted")
	default:
		t.logger.Warn().Err(err).Str(platformlog.FieldArtifactID, artifactID).Msg("delete individual artifact")
	}
}
