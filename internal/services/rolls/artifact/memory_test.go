package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/grouproll/internal/platform/id"
)

func newTestMemory() *Memory {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewMemory(MemoryConfig{
		IDs: id.Sequence("art"),
		Now: func() time.Time { return now },
	})
}

func TestMemoryCreateGetUpdate(t *testing.T) {
	store := newTestMemory()
	ctx := context.Background()

	artifactID, err := store.Create(ctx, "<p>hi</p>", Metadata{ActorID: "a1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if artifactID != "art-1" {
		t.Fatalf("artifact id = %q, want art-1", artifactID)
	}

	payload := json.RawMessage(`{"version":1}`)
	if err := store.Update(ctx, artifactID, "<p>bye</p>", Metadata{ActorID: "a1", Hidden: true, Payload: payload}); err != nil {
		t.Fatalf("update: %v", err)
	}
	payload[0] = 'X'

	got, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := Metadata{ActorID: "a1", Hidden: true, Payload: json.RawMessage(`{"version":1}`)}
	if diff := cmp.Diff(want, got.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	if got.Content != "<p>bye</p>" {
		t.Fatalf("content = %q", got.Content)
	}
}

func TestMemoryUpdateIfChecksRevision(t *testing.T) {
	store := newTestMemory()
	ctx := context.Background()

	artifactID, err := store.Create(ctx, "v1", Metadata{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateIf(ctx, artifactID, 1, "v2", Metadata{}); err != nil {
		t.Fatalf("update at revision 1: %v", err)
	}
	// a writer that read revision 1 must not clobber v2
	if err := store.UpdateIf(ctx, artifactID, 1, "stale", Metadata{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}
	if err := store.Update(ctx, artifactID, "v3", Metadata{}); err != nil {
		t.Fatalf("plain update: %v", err)
	}
	if err := store.UpdateIf(ctx, "nope", 1, "", Metadata{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}

	got, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v3" || got.Revision != 3 {
		t.Fatalf("artifact = %q at revision %d, want v3 at 3", got.Content, got.Revision)
	}
}

func TestUpdateIfFallsBackWithoutSwapper(t *testing.T) {
	store := plainStore{Store: newTestMemory()}
	ctx := context.Background()

	artifactID, err := store.Create(ctx, "v1", Metadata{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := UpdateIf(ctx, store, artifactID, 7, "v2", Metadata{}); err != nil {
		t.Fatalf("update without swapper: %v", err)
	}
	got, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v2" {
		t.Fatalf("content = %q, want v2", got.Content)
	}
}

// plainStore hides every optional interface of the wrapped store.
type plainStore struct {
	Store
}

func TestMemoryMissingArtifacts(t *testing.T) {
	store := newTestMemory()
	ctx := context.Background()
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
	if err := store.Update(ctx, "nope", "", Metadata{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
	if err := store.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestMemoryGroupRollCreateIsCompareAndSet(t *testing.T) {
	store := newTestMemory()
	ctx := context.Background()
	meta := Metadata{GroupRollID: "grp-1", IsGroupRoll: true}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = store.Create(ctx, "group", meta)
		}(i)
	}
	wg.Wait()

	created := 0
	for i, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateGroupRoll):
		default:
			t.Fatalf("create %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("creates returned different ids: %v", ids)
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(all))
	}
}

func TestMemoryRejectsGroupArtifactWithoutID(t *testing.T) {
	store := newTestMemory()
	if _, err := store.Create(context.Background(), "", Metadata{IsGroupRoll: true}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMemoryFindAndListOrder(t *testing.T) {
	store := newTestMemory()
	ctx := context.Background()
	for _, actorID := range []string{"a1", "a2", "a3"} {
		if _, err := store.Create(ctx, actorID, Metadata{ActorID: actorID, GroupRollID: "grp"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.Create(ctx, "group", Metadata{GroupRollID: "grp", IsGroupRoll: true}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	found, ok, err := FindGroupRoll(ctx, store, "grp")
	if err != nil || !ok || found.ID != "art-4" {
		t.Fatalf("find group roll = %+v, %v, %v", found, ok, err)
	}
	first, ok, _ := store.Find(ctx, func(a Artifact) bool { return a.Metadata.GroupRollID == "grp" })
	if !ok || first.ID != "art-1" {
		t.Fatalf("find should return first match in creation order, got %+v", first)
	}
	if _, ok, _ := FindGroupRoll(ctx, store, "other"); ok {
		t.Fatal("unexpected group artifact for other id")
	}

	if err := store.Delete(ctx, "art-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, _ := store.List(ctx)
	var got []string
	for _, a := range all {
		got = append(got, a.ID)
	}
	if diff := cmp.Diff([]string{"art-1", "art-3", "art-4"}, got); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryHonorsCancelledContext(t *testing.T) {
	store := newTestMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Create(ctx, "", Metadata{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
