package sqlite

import (
	"fmt"
	"time"

	"featurerecall/internal/models"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite detection run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Upsert records a run; a rerun of the same (media, model) replaces the earlier row.
func (r *RunRepository) Upsert(run *models.DetectionRun) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Conn().Exec(`
		INSERT INTO detection_runs (media_name, model_id, table_name, records, frames, failed_frames, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_name, model_id) DO UPDATE SET
			table_name = excluded.table_name,
			records = excluded.records,
			frames = excluded.frames,
			failed_frames = excluded.failed_frames,
			elapsed_ms = excluded.elapsed_ms,
			created_at = excluded.created_at
	`, run.MediaName, run.ModelID, run.Table, run.Records, run.Frames, run.FailedFrames, run.Elapsed.Milliseconds(), createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert detection run: %w", err)
	}

	var id int64
	err = r.db.Conn().QueryRow(`SELECT id FROM detection_runs WHERE media_name = ? AND model_id = ?`,
		run.MediaName, run.ModelID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read detection run id: %w", err)
	}
	return id, nil
}

// GetByMedia lists the runs of a media item ordered by model id.
func (r *RunRepository) GetByMedia(mediaName string) ([]models.DetectionRun, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, media_name, model_id, table_name, records, frames, failed_frames, elapsed_ms, created_at
		FROM detection_runs WHERE media_name = ? ORDER BY model_id
	`, mediaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection runs: %w", err)
	}
	defer rows.Close()

	runs := []models.DetectionRun{}
	for rows.Next() {
		var (
			run       models.DetectionRun
			elapsedMs int64
		)
		if err := rows.Scan(&run.ID, &run.MediaName, &run.ModelID, &run.Table, &run.Records,
			&run.Frames, &run.FailedFrames, &elapsedMs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection run: %w", err)
		}
		run.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteAll removes every run.
func (r *RunRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detection_runs`); err != nil {
		return fmt.Errorf("failed to delete detection runs: %w", err)
	}
	return nil
}
