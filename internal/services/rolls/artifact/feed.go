package artifact

import (
	"context"
	"sync"
)

// ChangeKind names a store mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one observed mutation. Deleted changes carry only the id.
type Change struct {
	Kind     ChangeKind `json:"kind"`
	Artifact Artifact   `json:"artifact"`
}

// Watcher streams store changes until ctx ends.
type Watcher interface {
	Watch(ctx context.Context) <-chan Change
}

const feedBuffer = 64

// Feed fans changes out to watchers. Slow watchers miss changes rather
// than block writers; reconciliation never depends on seeing every change.
type Feed struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

// NewFeed builds an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan Change]struct{})}
}

// Publish delivers change to every current watcher.
func (f *Feed) Publish(change Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// Watch implements Watcher. The channel closes after ctx ends.
func (f *Feed) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}

// Observed wraps a Store and publishes each successful mutation.
type Observed struct {
	Store
	feed *Feed
}

// Observe wraps store with a change feed.
func Observe(store Store) *Observed {
	return &Observed{Store: store, feed: NewFeed()}
}

// Watch implements Watcher.
func (o *Observed) Watch(ctx context.Context) <-chan Change {
	return o.feed.Watch(ctx)
}

// Create implements Store.
func (o *Observed) Create(ctx context.Context, content string, meta Metadata) (string, error) {
	artifactID, err := o.Store.Create(ctx, content, meta)
	if err != nil {
		return artifactID, err
	}
	o.publishCurrent(ctx, ChangeCreated, artifactID)
	return artifactID, nil
}

// Update implements Store.
func (o *Observed) Update(ctx context.Context, artifactID string, content string, meta Metadata) error {
	if err := o.Store.Update(ctx, artifactID, content, meta); err != nil {
		return err
	}
	o.publishCurrent(ctx, ChangeUpdated, artifactID)
	return nil
}

// UpdateIf implements Swapper, falling back to Update when the wrapped store
// cannot compare revisions.
func (o *Observed) UpdateIf(ctx context.Context, artifactID string, revision int64, content string, meta Metadata) error {
	if err := UpdateIf(ctx, o.Store, artifactID, revision, content, meta); err != nil {
		return err
	}
	o.publishCurrent(ctx, ChangeUpdated, artifactID)
	return nil
}

// Delete implements Store.
func (o *Observed) Delete(ctx context.Context, artifactID string) error {
	if err := o.Store.Delete(ctx, artifactID); err != nil {
		return err
	}
	o.feed.Publish(Change{Kind: ChangeDeleted, Artifact: Artifact{ID: artifactID}})
	return nil
}

// FindGroupRoll implements GroupRollFinder by delegating to the wrapped store.
func (o *Observed) FindGroupRoll(ctx context.Context, groupRollID string) (Artifact, bool, error) {
	return FindGroupRoll(ctx, o.Store, groupRollID)
}

func (o *Observed) publishCurrent(ctx context.Context, kind ChangeKind, artifactID string) {
	current, err := o.Store.Get(ctx, artifactID)
	if err != nil {
		return
	}
	o.feed.Publish(Change{Kind: kind, Artifact: current})
}

var (
	_ Store           = (*Observed)(nil)
	_ GroupRollFinder = (*Observed)(nil)
	_ Swapper         = (*Observed)(nil)
	_ Watcher         = (*Observed)(nil)
)
