package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/grouproll/internal/platform/id"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTimer struct {
	owner   *fakeTimers
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	ft.owner.mu.Lock()
	defer ft.owner.mu.Unlock()
	if ft.stopped || ft.fired {
		return false
	}
	ft.stopped = true
	return true
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{owner: f, delay: d, fn: fn}
	f.timers = append(f.timers, timer)
	return timer
}

// Pending returns the delays of timers that have neither fired nor stopped.
func (f *fakeTimers) Pending() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var delays []time.Duration
	for _, timer := range f.timers {
		if !timer.stopped && !timer.fired {
			delays = append(delays, timer.delay)
		}
	}
	return delays
}

// FireAll runs every pending timer and returns how many fired.
func (f *fakeTimers) FireAll() int {
	f.mu.Lock()
	var due []*fakeTimer
	for _, timer := range f.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	f.mu.Unlock()
	for _, timer := range due {
		timer.fn()
	}
	return len(due)
}

// countingStore counts writes reaching the wrapped store.
type countingStore struct {
	artifact.Store
	updates atomic.Int64
	creates atomic.Int64
}

func (c *countingStore) Create(ctx context.Context, content string, meta artifact.Metadata) (string, error) {
	c.creates.Add(1)
	return c.Store.Create(ctx, content, meta)
}

func (c *countingStore) Update(ctx context.Context, artifactID string, content string, meta artifact.Metadata) error {
	c.updates.Add(1)
	return c.Store.Update(ctx, artifactID, content, meta)
}

func (c *countingStore) UpdateIf(ctx context.Context, artifactID string, revision int64, content string, meta artifact.Metadata) error {
	c.updates.Add(1)
	return artifact.UpdateIf(ctx, c.Store, artifactID, revision, content, meta)
}

// slowReadStore holds every Get for delay so concurrent writers in other
// trackers read the same revision.
type slowReadStore struct {
	*countingStore
	delay time.Duration
}

func (s *slowReadStore) Get(ctx context.Context, artifactID string) (artifact.Artifact, error) {
	a, err := s.countingStore.Get(ctx, artifactID)
	time.Sleep(s.delay)
	return a, err
}

// alwaysConflictStore loses every conditional write to an unseen writer.
type alwaysConflictStore struct {
	*countingStore
	attempts atomic.Int64
}

func (s *alwaysConflictStore) UpdateIf(_ context.Context, artifactID string, revision int64, _ string, _ artifact.Metadata) error {
	s.attempts.Add(1)
	return artifact.ConflictError(artifactID, revision, revision+1)
}

type harness struct {
	clock  *fakeClock
	timers *fakeTimers
	store  *countingStore
}

func newHarness() *harness {
	clock := newFakeClock()
	return &harness{
		clock:  clock,
		timers: &fakeTimers{},
		store: &countingStore{Store: artifact.NewMemory(artifact.MemoryConfig{
			IDs: id.Sequence("art"),
			Now: clock.Now,
		})},
	}
}

func (h *harness) tracker(t *testing.T) *Tracker {
	t.Helper()
	return h.trackerOn(t, h.store)
}

// trackerOn builds a tracker over store, which should wrap h.store.
func (h *harness) trackerOn(t *testing.T, store artifact.Store) *Tracker {
	t.Helper()
	logger := zerolog.Nop()
	tr, err := New(Config{
		Store:     store,
		Logger:    &logger,
		Now:       h.clock.Now,
		AfterFunc: h.timers.AfterFunc,
	})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func (h *harness) payload(t *testing.T, artifactID string) domain.GroupRollPayload {
	t.Helper()
	a, err := h.store.Get(context.Background(), artifactID)
	if err != nil {
		t.Fatalf("get artifact %s: %v", artifactID, err)
	}
	payload, err := domain.DecodePayload(a.Metadata.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func saveSpec(groupRollID string, actorIDs ...string) SessionSpec {
	return SessionSpec{
		GroupRollID: groupRollID,
		RollType:    domain.RollSave,
		RollKey:     "dex",
		ActorIDs:    actorIDs,
		DC:          domain.IntPtr(15),
	}
}
