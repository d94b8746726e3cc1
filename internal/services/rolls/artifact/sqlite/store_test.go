package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/louisbranch/grouproll/internal/platform/id"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/rs/zerolog"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	return openStoreAt(t, filepath.Join(t.TempDir(), "artifacts.db"), id.Sequence("art"))
}

func openStoreAt(t *testing.T, path string, ids id.Generator) *Store {
	t.Helper()
	logger := zerolog.Nop()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := Open(context.Background(), Config{
		Path:   path,
		IDs:    ids,
		Now:    func() time.Time { return now },
		Logger: &logger,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestCreateGetUpdateDelete(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	meta := artifact.Metadata{
		GroupRollID: "grp-1",
		IsGroupRoll: true,
		Payload:     json.RawMessage(`{"version":1,"group_roll_id":"grp-1","actor_ids":["a1"]}`),
	}
	artifactID, err := store.Create(ctx, "<section>pending</section>", meta)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(meta, got.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt != time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("created at = %v", got.CreatedAt)
	}

	meta.Hidden = true
	if err := store.Update(ctx, artifactID, "<section>done</section>", meta); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Get(ctx, artifactID)
	if got.Content != "<section>done</section>" || !got.Metadata.Hidden {
		t.Fatalf("update not persisted: %+v", got)
	}

	if err := store.Delete(ctx, artifactID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, artifactID); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Get(ctx, artifactID); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("get deleted: %v", err)
	}
	if err := store.Update(ctx, artifactID, "", artifact.Metadata{}); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("update deleted: %v", err)
	}
}

func TestUpdateIfRejectsStaleRevision(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	meta := artifact.Metadata{GroupRollID: "grp-1", IsGroupRoll: true}

	artifactID, err := store.Create(ctx, "v1", meta)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Revision != 1 {
		t.Fatalf("revision after create = %d, want 1", got.Revision)
	}

	if err := store.UpdateIf(ctx, artifactID, 1, "v2", meta); err != nil {
		t.Fatalf("update at revision 1: %v", err)
	}
	if err := store.UpdateIf(ctx, artifactID, 1, "stale", meta); !errors.Is(err, artifact.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}
	if err := store.UpdateIf(ctx, "missing", 1, "v", meta); !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("missing update err = %v, want ErrNotFound", err)
	}

	got, err = store.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v2" || got.Revision != 2 {
		t.Fatalf("artifact = %q at revision %d, want v2 at 2", got.Content, got.Revision)
	}
}

func TestGroupRollUniqueness(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	meta := artifact.Metadata{GroupRollID: "grp-1", IsGroupRoll: true}

	first, err := store.Create(ctx, "a", meta)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.Create(ctx, "b", meta)
	if !errors.Is(err, artifact.ErrDuplicateGroupRoll) {
		t.Fatalf("expected duplicate group roll, got %v", err)
	}
	if second != first {
		t.Fatalf("duplicate create returned %q, want existing %q", second, first)
	}

	if _, err := store.Create(ctx, "individual", artifact.Metadata{GroupRollID: "grp-1", ActorID: "a1"}); err != nil {
		t.Fatalf("individual artifacts share group ids freely: %v", err)
	}
}

func TestConcurrentGroupCreatesYieldOneArtifact(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	meta := artifact.Metadata{GroupRollID: "grp-race", IsGroupRoll: true}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Create(ctx, "race", meta)
		}()
	}
	wg.Wait()

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("artifacts = %d, want 1", len(all))
	}
}

func TestFindAndFindGroupRoll(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	for _, actorID := range []string{"a1", "a2"} {
		if _, err := store.Create(ctx, actorID, artifact.Metadata{ActorID: actorID}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := store.Create(ctx, "group", artifact.Metadata{GroupRollID: "grp", IsGroupRoll: true}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	found, ok, err := artifact.FindGroupRoll(ctx, store, "grp")
	if err != nil || !ok || found.ID != "art-3" {
		t.Fatalf("find group roll = %+v, %v, %v", found, ok, err)
	}
	if _, ok, err := store.FindGroupRoll(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing group roll = %v, %v", ok, err)
	}
	second, ok, err := store.Find(ctx, func(a artifact.Artifact) bool { return a.Metadata.ActorID == "a2" })
	if err != nil || !ok || second.ID != "art-2" {
		t.Fatalf("find a2 = %+v, %v, %v", second, ok, err)
	}
}

func TestReopenKeepsArtifacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts.db")
	first := openStoreAt(t, path, id.Sequence("one"))
	if _, err := first.Create(context.Background(), "persisted", artifact.Metadata{ActorID: "a1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStoreAt(t, path, id.Sequence("two"))
	all, err := second.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Content != "persisted" {
		t.Fatalf("unexpected artifacts after reopen: %+v", all)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
