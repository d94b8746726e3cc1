// Package sqlite persists chat artifacts in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/grouproll/internal/platform/id"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact"
	"github.com/louisbranch/grouproll/internal/services/rolls/artifact/sqlite/migrations"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Config configures the SQLite artifact store.
type Config struct {
	Path   string
	IDs    id.Generator
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Store provides SQLite-backed artifact persistence.
type Store struct {
	sqlDB *sql.DB
	ids   id.Generator
	now   func() time.Time
}

const artifactColumns = `id, content, group_roll_id, is_group_roll, actor_id, request_id, hidden, payload, created_at, updated_at, revision`

// Open opens the database at cfg.Path and applies migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewID
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := platformlog.OrComponent(cfg.Logger, "artifact_sqlite")

	dsn := filepath.Clean(cfg.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, "", &logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, ids: cfg.IDs, now: cfg.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create implements artifact.Store. The partial unique index on group roll
// ids makes group creation a compare-and-set.
func (s *Store) Create(ctx context.Context, content string, meta artifact.Metadata) (string, error) {
	if err := artifact.ValidateMetadata(meta); err != nil {
		return "", err
	}
	artifactID, err := s.ids()
	if err != nil {
		return "", err
	}
	now := s.now().UTC().UnixMilli()
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
`,
		artifactID,
		content,
		meta.GroupRollID,
		meta.IsGroupRoll,
		meta.ActorID,
		meta.RequestID,
		meta.Hidden,
		[]byte(meta.Payload),
		now,
		now,
	)
	if err != nil {
		if meta.IsGroupRoll && isUniqueViolation(err) {
			existing, ok, findErr := s.FindGroupRoll(ctx, meta.GroupRollID)
			if findErr == nil && ok {
				return existing.ID, artifact.DuplicateGroupRollError(meta.GroupRollID, existing.ID)
			}
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}
	return artifactID, nil
}

// Update implements artifact.Store.
func (s *Store) Update(ctx context.Context, artifactID string, content string, meta artifact.Metadata) error {
	if err := artifact.ValidateMetadata(meta); err != nil {
		return err
	}
	result, err := s.update(ctx, artifactID, content, meta, "")
	if err != nil {
		return err
	}
	return requireAffected(result, artifactID)
}

// UpdateIf implements artifact.Swapper with a revision guard in the WHERE
// clause.
func (s *Store) UpdateIf(ctx context.Context, artifactID string, revision int64, content string, meta artifact.Metadata) error {
	if err := artifact.ValidateMetadata(meta); err != nil {
		return err
	}
	result, err := s.update(ctx, artifactID, content, meta, " AND revision = ?", revision)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.Get(ctx, artifactID)
	if err != nil {
		return err
	}
	return artifact.ConflictError(artifactID, revision, current.Revision)
}

func (s *Store) update(ctx context.Context, artifactID string, content string, meta artifact.Metadata, guard string, guardArgs ...any) (sql.Result, error) {
	args := []any{
		content,
		meta.GroupRollID,
		meta.IsGroupRoll,
		meta.ActorID,
		meta.RequestID,
		meta.Hidden,
		[]byte(meta.Payload),
		s.now().UTC().UnixMilli(),
		artifactID,
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE artifacts SET
	content = ?,
	group_roll_id = ?,
	is_group_roll = ?,
	actor_id = ?,
	request_id = ?,
	hidden = ?,
	payload = ?,
	updated_at = ?,
	revision = revision + 1
WHERE id = ?`+guard,
		append(args, guardArgs...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("update artifact: %w", err)
	}
	return result, nil
}

// Find implements artifact.Store by scanning in creation order.
func (s *Store) Find(ctx context.Context, match artifact.Predicate) (artifact.Artifact, bool, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts ORDER BY rowid`)
	if err != nil {
		return artifact.Artifact{}, false, fmt.Errorf("find artifact: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		candidate, err := scanArtifact(rows)
		if err != nil {
			return artifact.Artifact{}, false, err
		}
		if match == nil || match(candidate) {
			return candidate, true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return artifact.Artifact{}, false, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifact.Artifact{}, false, nil
}

// FindGroupRoll implements artifact.GroupRollFinder with an indexed lookup.
func (s *Store) FindGroupRoll(ctx context.Context, groupRollID string) (artifact.Artifact, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE group_roll_id = ? AND is_group_roll = 1`,
		groupRollID,
	)
	found, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, false, nil
	}
	if err != nil {
		return artifact.Artifact{}, false, err
	}
	return found, true, nil
}

// Get implements artifact.Store.
func (s *Store) Get(ctx context.Context, artifactID string) (artifact.Artifact, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, artifactID)
	found, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, artifact.NotFoundError(artifactID)
	}
	if err != nil {
		return artifact.Artifact{}, err
	}
	return found, nil
}

// List implements artifact.Store.
func (s *Store) List(ctx context.Context) ([]artifact.Artifact, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var out []artifact.Artifact
	for rows.Next() {
		candidate, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, artifactID string) error {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, artifactID)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return requireAffected(result, artifactID)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		payload   []byte
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&a.ID,
		&a.Content,
		&a.Metadata.GroupRollID,
		&a.Metadata.IsGroupRoll,
		&a.Metadata.ActorID,
		&a.Metadata.RequestID,
		&a.Metadata.Hidden,
		&payload,
		&createdAt,
		&updatedAt,
		&a.Revision,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return artifact.Artifact{}, err
		}
		return artifact.Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}
	if len(payload) > 0 {
		a.Metadata.Payload = payload
	}
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return a, nil
}

func requireAffected(result sql.Result, artifactID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return artifact.NotFoundError(artifactID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ artifact.Store           = (*Store)(nil)
	_ artifact.Swapper         = (*Store)(nil)
	_ artifact.GroupRollFinder = (*Store)(nil)
)
