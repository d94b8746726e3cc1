package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordResult applies one actor's total to the group roll and rewrites the
// group artifact. Stored results from other processes are merged before the
// write so concurrent reporters never erase each other. Recording the same
// total twice is a no-op reported as Duplicate.
func (t *Tracker) RecordResult(ctx context.Context, groupRollID, actorID string, total int) (Progress, error) {
	ctx, span := tracer.Start(ctx, "tracker.record_result", trace.WithAttributes(
		attribute.String(platformlog.FieldGroupRollID, groupRollID),
		attribute.String(platformlog.FieldActorID, actorID),
	))
	defer span.End()

	progress, err := t.recordResult(ctx, groupRollID, actorID, total)
	if err != nil {
		resultsRecorded.WithLabelValues(outcomeRejected).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return progress, err
	}
	if progress.Duplicate {
		resultsRecorded.WithLabelValues(outcomeDuplicate).Inc()
	} else {
		resultsRecorded.WithLabelValues(outcomeRecorded).Inc()
	}
	span.SetAttributes(
		attribute.Int("reported", progress.Reported),
		attribute.Bool("complete", progress.Complete),
	)
	return progress, nil
}

func (t *Tracker) recordResult(ctx context.Context, groupRollID, actorID string, total int) (Progress, error) {
	logger := t.logger.With().
		Str(platformlog.FieldGroupRollID, groupRollID).
		Str(platformlog.FieldActorID, actorID).
		Logger()

	s, err := t.sessionFor(ctx, groupRollID)
	if err != nil {
		return Progress{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.payload.Has(actorID) {
		logger.Warn().Msg("result for actor outside the group roll ignored")
		return s.progress(false), apperrors.WithMetadata(apperrors.CodeActorNotInSession,
			fmt.Sprintf("actor %q is not part of group roll %q", actorID, groupRollID),
			map[string]string{
				platformlog.FieldGroupRollID: groupRollID,
				platformlog.FieldActorID:     actorID,
			})
	}

	var duplicate bool
	for attempt := 1; ; attempt++ {
		current, err := t.store.Get(ctx, s.artifactID)
		if errors.Is(err, artifact.ErrNotFound) {
			logger.Warn().
				Str(platformlog.FieldArtifactID, s.artifactID).
				Msg("group artifact deleted; dropping session")
			t.evict(groupRollID, s, evictDeleted)
			return Progress{}, apperrors.WithMetadata(apperrors.CodeSessionNotFound,
				fmt.Sprintf("group artifact for %q was deleted", groupRollID),
				map[string]string{platformlog.FieldGroupRollID: groupRollID})
		}
		if err != nil {
			return s.progress(duplicate), fmt.Errorf("load group artifact: %w", err)
		}

		if stored, decodeErr := domain.DecodePayload(current.Metadata.Payload); decodeErr != nil {
			logger.Warn().Err(decodeErr).Msg("stored group payload unreadable; overwriting")
		} else {
			t.absorb(s, stored)
		}

		if attempt == 1 {
			previous, had := s.payload.Results[actorID]
			duplicate = had && previous.Total == total
		}
		s.payload.Results[actorID] = domain.ActorResult{
			Total:   total,
			Outcome: domain.Evaluate(total, s.payload.DC),
		}
		t.setState(s, actorID, domain.StateReported)

		err = t.write(ctx, s, current)
		if err == nil {
			break
		}
		if !errors.Is(err, artifact.ErrConflict) || attempt >= maxWriteAttempts {
			return s.progress(duplicate), err
		}
		writeConflicts.Inc()
		logger.Debug().Int("attempt", attempt).Msg("group artifact moved underneath; merging again")
	}

	logger.Debug().
		Int("total", total).
		Bool("duplicate", duplicate).
		Int("reported", len(s.payload.Results)).
		Int("expected", len(s.payload.ActorIDs)).
		Msg("group roll result recorded")

	t.completeIfDone(s)
	return s.progress(duplicate), nil
}

// maxWriteAttempts bounds the merge-and-retry loop when another process
// updates the group artifact between our read and write.
const maxWriteAttempts = 5

// write renders s into its artifact unless the stored artifact already
// matches. The write only lands while the artifact is still at current's
// revision. Must be called with s.mu held.
func (t *Tracker) write(ctx context.Context, s *session, current artifact.Artifact) error {
	content, meta, err := t.render(ctx, s.payload)
	if err != nil {
		return err
	}
	if content == current.Content && bytes.Equal(meta.Payload, current.Metadata.Payload) {
		return nil
	}
	if err := artifact.UpdateIf(ctx, t.store, s.artifactID, current.Revision, content, meta); err != nil {
		return fmt.Errorf("update group artifact: %w", err)
	}
	return nil
}

// Reconcile folds a group artifact written elsewhere into memory without
// writing back. Sessions not yet in memory are attached. It reports false
// for artifacts that are not group artifacts.
func (t *Tracker) Reconcile(ctx context.Context, a artifact.Artifact) (Progress, bool, error) {
	if !a.Metadata.IsGroupRoll || a.Metadata.GroupRollID == "" {
		return Progress{}, false, nil
	}
	_, span := tracer.Start(ctx, "tracker.reconcile", trace.WithAttributes(
		attribute.String(platformlog.FieldGroupRollID, a.Metadata.GroupRollID),
		attribute.String(platformlog.FieldArtifactID, a.ID),
	))
	defer span.End()

	stored, err := domain.DecodePayload(a.Metadata.Payload)
	if err != nil {
		span.RecordError(err)
		return Progress{}, false, err
	}

	s := t.lookup(stored.GroupRollID)
	if s == nil {
		s, err = t.attach(a)
		if err != nil {
			return Progress{}, false, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.progress(false), true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifactID != a.ID {
		t.logger.Warn().
			Str(platformlog.FieldGroupRollID, stored.GroupRollID).
			Str(platformlog.FieldArtifactID, a.ID).
			Str("session_artifact_id", s.artifactID).
			Msg("ignoring second group artifact for session")
		return s.progress(false), false, nil
	}
	t.absorb(s, stored)
	t.completeIfDone(s)
	return s.progress(false), true, nil
}

// MarkState moves one actor to state, enforcing the allowed transitions.
func (t *Tracker) MarkState(groupRollID, actorID string, state domain.ActorState) error {
	s := t.lookup(groupRollID)
	if s == nil {
		return apperrors.WithMetadata(apperrors.CodeSessionNotFound,
			fmt.Sprintf("no session for %q", groupRollID),
			map[string]string{platformlog.FieldGroupRollID: groupRollID})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[actorID]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeActorNotInSession,
			fmt.Sprintf("actor %q is not part of group roll %q", actorID, groupRollID),
			map[string]string{
				platformlog.FieldGroupRollID: groupRollID,
				platformlog.FieldActorID:     actorID,
			})
	}
	next, err := current.Transition(state)
	if err != nil {
		return err
	}
	s.states[actorID] = next
	return nil
}

// absorb merges stored results into memory. Must be called with s.mu held.
func (t *Tracker) absorb(s *session, stored domain.GroupRollPayload) {
	s.payload = s.payload.Merge(stored)
	for actorID := range stored.Results {
		if s.payload.Has(actorID) {
			t.setState(s, actorID, domain.StateReported)
		}
	}
}

// setState must be called with s.mu held. Transitions the state machine
// forbids are logged and skipped.
func (t *Tracker) setState(s *session, actorID string, next domain.ActorState) {
	current := s.states[actorID]
	updated, err := current.Transition(next)
	if err != nil {
		t.logger.Debug().
			Err(err).
			Str(platformlog.FieldGroupRollID, s.payload.GroupRollID).
			Str(platformlog.FieldActorID, actorID).
			Msg("actor state unchanged")
		return
	}
	s.states[actorID] = updated
}
