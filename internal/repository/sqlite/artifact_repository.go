package sqlite

import (
	"fmt"
	"time"

	"featurerecall/internal/models"
)

// ArtifactRepository implements repository.ArtifactRepository for SQLite.
type ArtifactRepository struct {
	db *DB
}

// NewArtifactRepository creates a new SQLite artifact repository.
func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// Upsert records an artifact; re-rendering the same name replaces the row.
func (r *ArtifactRepository) Upsert(a *models.AnnotatedArtifact) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Conn().Exec(`
		INSERT INTO artifacts (name, media_name, model_id, query, filepath, records, frames, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			media_name = excluded.media_name,
			model_id = excluded.model_id,
			query = excluded.query,
			filepath = excluded.filepath,
			records = excluded.records,
			frames = excluded.frames,
			elapsed_ms = excluded.elapsed_ms,
			created_at = excluded.created_at
	`, a.Name, a.MediaName, a.ModelID, a.Query, a.Path, a.Records, a.Frames, a.Elapsed.Milliseconds(), createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert artifact: %w", err)
	}

	var id int64
	if err := r.db.Conn().QueryRow(`SELECT id FROM artifacts WHERE name = ?`, a.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read artifact id: %w", err)
	}
	return id, nil
}

// GetByMedia lists the artifacts rendered from a media item.
func (r *ArtifactRepository) GetByMedia(mediaName string) ([]models.AnnotatedArtifact, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, name, media_name, model_id, query, filepath, records, frames, elapsed_ms, created_at
		FROM artifacts WHERE media_name = ? ORDER BY name
	`, mediaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []models.AnnotatedArtifact{}
	for rows.Next() {
		var (
			a         models.AnnotatedArtifact
			elapsedMs int64
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.MediaName, &a.ModelID, &a.Query, &a.Path,
			&a.Records, &a.Frames, &elapsedMs, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// DeleteAll removes every artifact row.
func (r *ArtifactRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM artifacts`); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}
