// Package artifact defines the shared chat artifact store the roll workflow
// renders into, with in-memory and observable implementations and the HTML
// rendering of group and individual roll artifacts.
package artifact

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
)

var (
	// ErrNotFound is returned for unknown artifact ids.
	ErrNotFound = apperrors.New(apperrors.CodeArtifactNotFound, "artifact not found")
	// ErrDuplicateGroupRoll is returned when a group artifact already exists
	// for the group roll id being created.
	ErrDuplicateGroupRoll = apperrors.New(apperrors.CodeDuplicateArtifactRace, "group roll artifact already exists")
	// ErrConflict is returned by UpdateIf when the artifact moved past the
	// expected revision.
	ErrConflict = apperrors.New(apperrors.CodeArtifactConflict, "artifact changed concurrently")
)

// Metadata is stored alongside artifact content. Payload carries the
// encoded group roll payload for group artifacts.
type Metadata struct {
	GroupRollID string          `json:"group_roll_id,omitempty"`
	IsGroupRoll bool            `json:"is_group_roll,omitempty"`
	ActorID     string          `json:"actor_id,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Hidden      bool            `json:"hidden,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Artifact is one durable chat record. Revision starts at 1 and grows by one
// on every update.
type Artifact struct {
	ID        string    `json:"id"`
	Revision  int64     `json:"revision"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Predicate selects artifacts in Find.
type Predicate func(Artifact) bool

// Store is the chat artifact store. Create on a group artifact whose group
// roll id already has one returns the existing id with an error matching
// ErrDuplicateGroupRoll, so creation doubles as a compare-and-set.
type Store interface {
	Create(ctx context.Context, content string, meta Metadata) (string, error)
	Update(ctx context.Context, id string, content string, meta Metadata) error
	Find(ctx context.Context, match Predicate) (Artifact, bool, error)
	Get(ctx context.Context, id string) (Artifact, error)
	List(ctx context.Context) ([]Artifact, error)
	Delete(ctx context.Context, id string) error
}

// GroupRollFinder is implemented by stores that can look up a group
// artifact without scanning.
type GroupRollFinder interface {
	FindGroupRoll(ctx context.Context, groupRollID string) (Artifact, bool, error)
}

// Swapper is implemented by stores that can update an artifact only while
// it is still at an expected revision.
type Swapper interface {
	UpdateIf(ctx context.Context, id string, revision int64, content string, meta Metadata) error
}

// UpdateIf writes artifactID only if it is still at revision, returning an
// error matching ErrConflict otherwise. Stores without Swapper, and a zero
// revision, fall back to an unconditional Update.
func UpdateIf(ctx context.Context, store Store, artifactID string, revision int64, content string, meta Metadata) error {
	if swapper, ok := store.(Swapper); ok && revision > 0 {
		return swapper.UpdateIf(ctx, artifactID, revision, content, meta)
	}
	return store.Update(ctx, artifactID, content, meta)
}

// IsGroupRollFor matches the group artifact of groupRollID.
func IsGroupRollFor(groupRollID string) Predicate {
	return func(a Artifact) bool {
		return a.Metadata.IsGroupRoll && a.Metadata.GroupRollID == groupRollID
	}
}

// FindGroupRoll finds the group artifact for groupRollID, using the store's
// GroupRollFinder when it has one.
func FindGroupRoll(ctx context.Context, store Store, groupRollID string) (Artifact, bool, error) {
	if finder, ok := store.(GroupRollFinder); ok {
		return finder.FindGroupRoll(ctx, groupRollID)
	}
	return store.Find(ctx, IsGroupRollFor(groupRollID))
}

// ValidateMetadata rejects group artifacts without a group roll id.
func ValidateMetadata(meta Metadata) error {
	if meta.IsGroupRoll && meta.GroupRollID == "" {
		return apperrors.New(apperrors.CodeInvalidRollRequest, "group artifacts require a group roll id")
	}
	return nil
}
