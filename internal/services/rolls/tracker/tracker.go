// Package tracker owns group roll sessions: the in-memory bookkeeping for a
// batch of per-actor rolls and the single shared artifact that presents them.
//
// The same tracker runs in the coordinator and in every participant. A
// process that never created a session attaches to it lazily from the
// artifact store, and every write merges what other processes already
// stored, so the artifact alone is enough to rebuild any session.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/otel"
	"github.com/louisbranch/grouproll/internal/platform/timeouts"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionNotFound is returned when no session exists in memory and no
	// group artifact can be found to attach to.
	ErrSessionNotFound = apperrors.New(apperrors.CodeSessionNotFound, "group roll session not found")
	// ErrActorNotInSession is returned for results from actors outside the group.
	ErrActorNotInSession = apperrors.New(apperrors.CodeActorNotInSession, "actor is not part of the group roll")
)

var tracer = otel.Tracer("tracker")

// Timer is the part of *time.Timer the tracker uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config configures a Tracker. Zero durations fall back to the shared
// timeouts defaults.
type Config struct {
	Store  artifact.Store
	Names  artifact.Names
	Logger *zerolog.Logger

	EvictionGrace time.Duration
	DeletionDelay time.Duration
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// OnExpired is called by Run for each session the sweep drops.
	OnExpired func(Expired)

	Now       func() time.Time
	AfterFunc AfterFunc
}

// SessionSpec describes a session to create.
type SessionSpec struct {
	GroupRollID string
	RollType    domain.RollType
	RollKey     string
	ActorIDs    []string
	DC          *int
}

func (s SessionSpec) validate() error {
	if strings.TrimSpace(s.GroupRollID) == "" {
		return apperrors.New(apperrors.CodeInvalidRollRequest, "group roll id is required")
	}
	if len(s.ActorIDs) == 0 {
		return apperrors.New(apperrors.CodeInvalidRollRequest, "a session needs at least one actor")
	}
	return nil
}

// Handle identifies a session and its artifact. Created is false when the
// session already existed.
type Handle struct {
	GroupRollID string
	ArtifactID  string
	Created     bool
}

// Progress summarizes a session after a result is applied.
type Progress struct {
	GroupRollID string
	ArtifactID  string
	Reported    int
	Expected    int
	Complete    bool
	Duplicate   bool
}

// Snapshot is a copy of a session for inspection.
type Snapshot struct {
	GroupRollID string
	ArtifactID  string
	Payload     domain.GroupRollPayload
	States      map[string]domain.ActorState
	OpenedAt    time.Time
	Complete    bool
}

// Expired describes a session the sweep dropped and the actors that never
// reported.
type Expired struct {
	GroupRollID string
	ArtifactID  string
	TimedOut    []string
}

type session struct {
	artifactID string
	openedAt   time.Time

	mu        sync.Mutex
	payload   domain.GroupRollPayload
	states    map[string]domain.ActorState
	completed bool
}

func newSession(artifactID string, payload domain.GroupRollPayload, openedAt time.Time) *session {
	payload = payload.Clone()
	states := make(map[string]domain.ActorState, len(payload.ActorIDs))
	for _, actorID := range payload.ActorIDs {
		states[actorID] = domain.StatePending
		if _, ok := payload.Results[actorID]; ok {
			states[actorID] = domain.StateReported
		}
	}
	return &session{
		artifactID: artifactID,
		openedAt:   openedAt,
		payload:    payload,
		states:     states,
	}
}

// progress must be called with s.mu held.
func (s *session) progress(duplicate bool) Progress {
	return Progress{
		GroupRollID: s.payload.GroupRollID,
		ArtifactID:  s.artifactID,
		Reported:    len(s.payload.Results),
		Expected:    len(s.payload.ActorIDs),
		Complete:    s.payload.Complete(),
		Duplicate:   duplicate,
	}
}

type deletion struct {
	timer      Timer
	reservedAt time.Time
	done       bool
}

// Tracker is the only component allowed to mutate group roll sessions and
// their artifacts.
type Tracker struct {
	store  artifact.Store
	names  artifact.Names
	logger zerolog.Logger

	evictionGrace time.Duration
	deletionDelay time.Duration
	staleAfter    time.Duration
	sweepInterval time.Duration
	onExpired     func(Expired)
	now           func() time.Time
	afterFunc     AfterFunc

	baseCtx    context.Context
	cancelBase context.CancelFunc
	flight     singleflight.Group

	mu        sync.Mutex
	closed    bool
	sessions  map[string]*session
	evictions map[string]Timer
	deletions map[string]*deletion
}

// New builds a tracker over cfg.Store.
func New(cfg Config) (*Tracker, error) {
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if cfg.EvictionGrace <= 0 {
		cfg.EvictionGrace = timeouts.EvictionGrace
	}
	if cfg.DeletionDelay <= 0 {
		cfg.DeletionDelay = timeouts.DeletionDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = timeouts.StaleSession
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = timeouts.SweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:         cfg.Store,
		names:         cfg.Names,
		logger:        platformlog.OrComponent(cfg.Logger, "tracker"),
		evictionGrace: cfg.EvictionGrace,
		deletionDelay: cfg.DeletionDelay,
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
		onExpired:     cfg.OnExpired,
		now:           cfg.Now,
		afterFunc:     cfg.AfterFunc,
		baseCtx:       baseCtx,
		cancelBase:    cancel,
		sessions:      make(map[string]*session),
		evictions:     make(map[string]Timer),
		deletions:     make(map[string]*deletion),
	}, nil
}

// CreateSession creates a session and posts its placeholder artifact. It is
// a no-op returning the existing handle when the session is already known,
// in memory or in the store.
func (t *Tracker) CreateSession(ctx context.Context, spec SessionSpec) (Handle, error) {
	if err := spec.validate(); err != nil {
		return Handle{}, err
	}
	ctx, span := tracer.Start(ctx, "tracker.create_session", trace.WithAttributes(
		attribute.String(platformlog.FieldGroupRollID, spec.GroupRollID),
		attribute.Int("actors", len(spec.ActorIDs)),
	))
	defer span.End()

	if s := t.lookup(spec.GroupRollID); s != nil {
		return Handle{GroupRollID: spec.GroupRollID, ArtifactID: s.artifactID}, nil
	}
	value, err, _ := t.flight.Do("create:"+spec.GroupRollID, func() (any, error) {
		return t.create(ctx, spec)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Handle{}, err
	}
	return value.(Handle), nil
}

func (t *Tracker) create(ctx context.Context, spec SessionSpec) (Handle, error) {
	groupRollID := spec.GroupRollID
	if s := t.lookup(groupRollID); s != nil {
		return Handle{GroupRollID: groupRollID, ArtifactID: s.artifactID}, nil
	}
	existing, ok, err := artifact.FindGroupRoll(ctx, t.store, groupRollID)
	if err != nil {
		return Handle{}, fmt.Errorf("find group artifact: %w", err)
	}
	if ok {
		s, err := t.attach(existing)
		if err != nil {
			return Handle{}, err
		}
		return Handle{GroupRollID: groupRollID, ArtifactID: s.artifactID}, nil
	}

	payload := domain.GroupRollPayload{
		Version:     domain.PayloadVersion,
		GroupRollID: groupRollID,
		RollType:    spec.RollType,
		RollKey:     spec.RollKey,
		ActorIDs:    append([]string(nil), spec.ActorIDs...),
		Results:     map[string]domain.ActorResult{},
		DC:          spec.DC,
	}
	if err := payload.Validate(); err != nil {
		return Handle{}, err
	}
	content, meta, err := t.render(ctx, payload)
	if err != nil {
		return Handle{}, err
	}
	artifactID, err := t.store.Create(ctx, content, meta)
	if errors.Is(err, artifact.ErrDuplicateGroupRoll) {
		winner, getErr := t.store.Get(ctx, artifactID)
		if getErr != nil {
			return Handle{}, fmt.Errorf("load existing group artifact: %w", getErr)
		}
		t.logger.Debug().
			Str(platformlog.FieldGroupRollID, groupRollID).
			Str(platformlog.FieldArtifactID, artifactID).
			Msg("group artifact created concurrently; attaching")
		s, err := t.attach(winner)
		if err != nil {
			return Handle{}, err
		}
		return Handle{GroupRollID: groupRollID, ArtifactID: s.artifactID}, nil
	}
	if err != nil {
		return Handle{}, fmt.Errorf("create group artifact: %w", err)
	}

	s := t.insert(groupRollID, newSession(artifactID, payload, t.now()), sourceCreated)
	t.logger.Info().
		Str(platformlog.FieldGroupRollID, groupRollID).
		Str(platformlog.FieldArtifactID, s.artifactID).
		Int("actors", len(payload.ActorIDs)).
		Msg("group roll session created")
	return Handle{GroupRollID: groupRollID, ArtifactID: s.artifactID, Created: s.artifactID == artifactID}, nil
}

// Session returns a copy of the in-memory session for groupRollID.
func (t *Tracker) Session(groupRollID string) (Snapshot, bool) {
	s := t.lookup(groupRollID)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]domain.ActorState, len(s.states))
	for actorID, state := range s.states {
		states[actorID] = state
	}
	return Snapshot{
		GroupRollID: groupRollID,
		ArtifactID:  s.artifactID,
		Payload:     s.payload.Clone(),
		States:      states,
		OpenedAt:    s.openedAt,
		Complete:    s.payload.Complete(),
	}, true
}

// Close stops eviction timers and runs pending deletions immediately so no
// hidden individual artifact outlives the tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for groupRollID, timer := range t.evictions {
		timer.Stop()
		delete(t.evictions, groupRollID)
	}
	var pending []string
	for artifactID, d := range t.deletions {
		if !d.done && d.timer != nil && d.timer.Stop() {
			pending = append(pending, artifactID)
		}
	}
	t.mu.Unlock()

	for _, artifactID := range pending {
		t.deleteArtifact(artifactID)
	}
	t.cancelBase()
}

func (t *Tracker) lookup(groupRollID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[groupRollID]
}

// insert stores s unless another session won the race, in which case the
// existing one is returned.
func (t *Tracker) insert(groupRollID string, s *session, source string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.sessions[groupRollID]; ok {
		return existing
	}
	t.sessions[groupRollID] = s
	sessionsActive.Inc()
	sessionsOpened.WithLabelValues(source).Inc()
	return s
}

// attach rebuilds a session from a group artifact and places it in memory.
func (t *Tracker) attach(a artifact.Artifact) (*session, error) {
	payload, err := domain.DecodePayload(a.Metadata.Payload)
	if err != nil {
		return nil, fmt.Errorf("attach group artifact %s: %w", a.ID, err)
	}
	if payload.GroupRollID != a.Metadata.GroupRollID {
		return nil, fmt.Errorf("attach group artifact %s: payload group %q does not match %q",
			a.ID, payload.GroupRollID, a.Metadata.GroupRollID)
	}
	openedAt := a.CreatedAt
	if openedAt.IsZero() {
		openedAt = t.now()
	}
	s := t.insert(payload.GroupRollID, newSession(a.ID, payload, openedAt), sourceAttached)
	t.logger.Debug().
		Str(platformlog.FieldGroupRollID, payload.GroupRollID).
		Str(platformlog.FieldArtifactID, a.ID).
		Int("reported", len(payload.Results)).
		Msg("attached group roll session from artifact")

	s.mu.Lock()
	t.completeIfDone(s)
	s.mu.Unlock()
	return s, nil
}

// sessionFor returns the in-memory session or lazily attaches to the group
// artifact in the store.
func (t *Tracker) sessionFor(ctx context.Context, groupRollID string) (*session, error) {
	if s := t.lookup(groupRollID); s != nil {
		return s, nil
	}
	value, err, _ := t.flight.Do("attach:"+groupRollID, func() (any, error) {
		if s := t.lookup(groupRollID); s != nil {
			return s, nil
		}
		found, ok, err := artifact.FindGroupRoll(ctx, t.store, groupRollID)
		if err != nil {
			return nil, fmt.Errorf("find group artifact: %w", err)
		}
		if !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSessionNotFound,
				fmt.Sprintf("no session or group artifact for %q", groupRollID),
				map[string]string{platformlog.FieldGroupRollID: groupRollID})
		}
		return t.attach(found)
	})
	if err != nil {
		return nil, err
	}
	return value.(*session), nil
}

// completeIfDone must be called with s.mu held.
func (t *Tracker) completeIfDone(s *session) {
	if s.completed || !s.payload.Complete() {
		return
	}
	s.completed = true
	t.scheduleEviction(s.payload.GroupRollID, s)
	t.logger.Info().
		Str(platformlog.FieldGroupRollID, s.payload.GroupRollID).
		Str(platformlog.FieldArtifactID, s.artifactID).
		Msg("group roll complete")
}

func (t *Tracker) scheduleEviction(groupRollID string, s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if timer, ok := t.evictions[groupRollID]; ok {
		timer.Stop()
	}
	t.evictions[groupRollID] = t.afterFunc(t.evictionGrace, func() {
		t.evict(groupRollID, s, evictCompleted)
	})
}

func (t *Tracker) evict(groupRollID string, s *session, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(groupRollID, s, reason)
}

func (t *Tracker) evictLocked(groupRollID string, s *session, reason string) bool {
	if current, ok := t.sessions[groupRollID]; !ok || current != s {
		return false
	}
	delete(t.sessions, groupRollID)
	if timer, ok := t.evictions[groupRollID]; ok {
		if reason != evictCompleted {
			timer.Stop()
		}
		delete(t.evictions, groupRollID)
	}
	sessionsActive.Dec()
	sessionsEvicted.WithLabelValues(reason).Inc()
	t.logger.Debug().
		Str(platformlog.FieldGroupRollID, groupRollID).
		Str("reason", reason).
		Msg("group roll session evicted")
	return true
}

func (t *Tracker) render(ctx context.Context, payload domain.GroupRollPayload) (string, artifact.Metadata, error) {
	content, err := artifact.RenderString(ctx, artifact.GroupRoll(payload, t.names))
	if err != nil {
		return "", artifact.Metadata{}, err
	}
	encoded, err := domain.EncodePayload(payload)
	if err != nil {
		return "", artifact.Metadata{}, err
	}
	return content, artifact.Metadata{
		GroupRollID: payload.GroupRollID,
		IsGroupRoll: true,
		Payload:     encoded,
	}, nil
}
