package artifact

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	"github.com/louisbranch/grouproll/internal/platform/id"
)

// MemoryConfig configures an in-memory store.
type MemoryConfig struct {
	IDs id.Generator
	Now func() time.Time
}

// Memory is an in-process Store. List returns creation order.
type Memory struct {
	mu        sync.Mutex
	ids       id.Generator
	now       func() time.Time
	artifacts map[string]Artifact
	order     []string
}

// NewMemory builds an empty in-memory store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.IDs == nil {
		cfg.IDs = id.NewID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Memory{
		ids:       cfg.IDs,
		now:       cfg.Now,
		artifacts: make(map[string]Artifact),
	}
}

// Create implements Store.
func (m *Memory) Create(ctx context.Context, content string, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateMetadata(meta); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta.IsGroupRoll {
		if existing, ok := m.findLocked(IsGroupRollFor(meta.GroupRollID)); ok {
			return existing.ID, DuplicateGroupRollError(meta.GroupRollID, existing.ID)
		}
	}
	artifactID, err := m.ids()
	if err != nil {
		return "", err
	}
	now := m.now().UTC()
	m.artifacts[artifactID] = Artifact{
		ID:        artifactID,
		Revision:  1,
		Content:   content,
		Metadata:  cloneMetadata(meta),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.order = append(m.order, artifactID)
	return artifactID, nil
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, artifactID string, content string, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	return m.update(artifactID, 0, content, meta)
}

// UpdateIf implements Swapper.
func (m *Memory) UpdateIf(ctx context.Context, artifactID string, revision int64, content string, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateMetadata(meta); err != nil {
		return err
	}
	return m.update(artifactID, revision, content, meta)
}

// update writes artifactID, checking its revision when revision is set.
func (m *Memory) update(artifactID string, revision int64, content string, meta Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.artifacts[artifactID]
	if !ok {
		return NotFoundError(artifactID)
	}
	if revision > 0 && current.Revision != revision {
		return ConflictError(artifactID, revision, current.Revision)
	}
	current.Revision++
	current.Content = content
	current.Metadata = cloneMetadata(meta)
	current.UpdatedAt = m.now().UTC()
	m.artifacts[artifactID] = current
	return nil
}

// Find implements Store. The first match in creation order wins.
func (m *Memory) Find(ctx context.Context, match Predicate) (Artifact, bool, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.findLocked(match)
	return found, ok, nil
}

// FindGroupRoll implements GroupRollFinder.
func (m *Memory) FindGroupRoll(ctx context.Context, groupRollID string) (Artifact, bool, error) {
	return m.Find(ctx, IsGroupRollFor(groupRollID))
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, artifactID string) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.artifacts[artifactID]
	if !ok {
		return Artifact{}, NotFoundError(artifactID)
	}
	return copyArtifact(found), nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context) ([]Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Artifact, 0, len(m.order))
	for _, artifactID := range m.order {
		out = append(out, copyArtifact(m.artifacts[artifactID]))
	}
	return out, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, artifactID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[artifactID]; !ok {
		return NotFoundError(artifactID)
	}
	delete(m.artifacts, artifactID)
	for i, candidate := range m.order {
		if candidate == artifactID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) findLocked(match Predicate) (Artifact, bool) {
	for _, artifactID := range m.order {
		candidate := m.artifacts[artifactID]
		if match == nil || match(candidate) {
			return copyArtifact(candidate), true
		}
	}
	return Artifact{}, false
}

// NotFoundError builds an error matching ErrNotFound for artifactID.
func NotFoundError(artifactID string) error {
	return apperrors.WithMetadata(apperrors.CodeArtifactNotFound,
		fmt.Sprintf("artifact %q not found", artifactID),
		map[string]string{"artifact_id": artifactID})
}

// DuplicateGroupRollError builds an error matching ErrDuplicateGroupRoll.
func DuplicateGroupRollError(groupRollID, existingID string) error {
	return apperrors.WithMetadata(apperrors.CodeDuplicateArtifactRace,
		fmt.Sprintf("group roll %q already has artifact %q", groupRollID, existingID),
		map[string]string{"group_roll_id": groupRollID, "artifact_id": existingID})
}

// ConflictError builds an error matching ErrConflict for artifactID.
func ConflictError(artifactID string, want, got int64) error {
	return apperrors.WithMetadata(apperrors.CodeArtifactConflict,
		fmt.Sprintf("artifact %q is at revision %d, not %d", artifactID, got, want),
		map[string]string{
			"artifact_id": artifactID,
			"revision":    strconv.FormatInt(got, 10),
		})
}

func cloneMetadata(meta Metadata) Metadata {
	if meta.Payload != nil {
		meta.Payload = append([]byte(nil), meta.Payload...)
	}
	return meta
}

func copyArtifact(a Artifact) Artifact {
	a.Metadata = cloneMetadata(a.Metadata)
	return a
}

var (
	_ Store           = (*Memory)(nil)
	_ GroupRollFinder = (*Memory)(nil)
	_ Swapper         = (*Memory)(nil)
)
