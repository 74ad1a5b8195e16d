// Package revisions keeps the history of committed grid configurations
package revisions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Spatial-NVR/streamgrid/internal/database"
	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// ErrNotFound is returned when no revision matches
var ErrNotFound = errors.New("revision not found")

// Sources of a revision
const (
	SourceSave   = "save"
	SourceReload = "reload"
	SourceStart  = "startup"
)

// DefaultKeep is how many revisions are retained
const DefaultKeep = 200

// Revision is one committed snapshot. Camera passwords are never stored.
type Revision struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Title       string        `json:"title"`
	Layout      layout.Mode   `json:"layout"`
	CameraCount int           `json:"cameraCount"`
	Snapshot    grid.Snapshot `json:"snapshot"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Repository stores revisions in SQLite
type Repository struct {
	db     *database.DB
	keep   int
	now    func() time.Time
	logger *slog.Logger
}

// NewRepository creates a repository keeping at most keep revisions.
// keep <= 0 uses DefaultKeep.
func NewRepository(db *database.DB, keep int) *Repository {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Repository{
		db:     db,
		keep:   keep,
		now:    time.Now,
		logger: slog.Default().With("component", "revisions"),
	}
}

// Record stores s and prunes revisions beyond the retention limit
func (r *Repository) Record(ctx context.Context, source string, s grid.Snapshot) (Revision, error) {
	s = redact(s)
	rev := Revision{
		ID:          uuid.New().String(),
		Source:      source,
		Title:       s.Title,
		Layout:      s.GridLayout,
		CameraCount: len(s.Cameras),
		Snapshot:    s,
		CreatedAt:   r.now().UTC().Truncate(time.Second),
	}

	data, err := json.Marshal(s)
	if err != nil {
		return Revision{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config_revisions (revision_id, source, title, layout, camera_count, snapshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rev.ID, rev.Source, rev.Title, string(rev.Layout), rev.CameraCount, string(data), rev.CreatedAt.Unix())
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM config_revisions
			WHERE id NOT IN (SELECT id FROM config_revisions ORDER BY id DESC LIMIT ?)
		`, r.keep)
		return err
	})
	if err != nil {
		return Revision{}, fmt.Errorf("failed to record revision: %w", err)
	}

	r.logger.Debug("Recorded revision", "id", rev.ID, "source", source, "cameras", rev.CameraCount)
	return rev, nil
}

// List returns up to limit revisions, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]Revision, error) {
	if limit <= 0 || limit > r.keep {
		limit = r.keep
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT revision_id, source, title, layout, camera_count, snapshot, created_at
		FROM config_revisions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	revisions := []Revision{}
	for rows.Next() {
		rev, err := scan(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

// Get returns one revision by id
func (r *Repository) Get(ctx context.Context, id string) (Revision, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT revision_id, source, title, layout, camera_count, snapshot, created_at
		FROM config_revisions WHERE revision_id = ?
	`, id)
	rev, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, ErrNotFound
	}
	return rev, err
}

// Latest returns the newest revision
func (r *Repository) Latest(ctx context.Context) (Revision, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT revision_id, source, title, layout, camera_count, snapshot, created_at
		FROM config_revisions ORDER BY id DESC LIMIT 1
	`)
	rev, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, ErrNotFound
	}
	return rev, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Revision, error) {
	var rev Revision
	var mode, data string
	var created int64
	if err := s.Scan(&rev.ID, &rev.Source, &rev.Title, &mode, &rev.CameraCount, &data, &created); err != nil {
		return Revision{}, err
	}
	if err := json.Unmarshal([]byte(data), &rev.Snapshot); err != nil {
		return Revision{}, fmt.Errorf("failed to decode revision %s: %w", rev.ID, err)
	}
	rev.Layout = layout.Mode(mode)
	rev.CreatedAt = time.Unix(created, 0).UTC()
	return rev, nil
}

func redact(s grid.Snapshot) grid.Snapshot {
	s = s.Clone()
	for i := range s.Cameras {
		s.Cameras[i].Password = ""
	}
	return s
}
