package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"featurerecall/internal/models"
)

// MediaRepository implements repository.MediaRepository for SQLite.
type MediaRepository struct {
	db *DB
}

// NewMediaRepository creates a new SQLite media repository.
func NewMediaRepository(db *DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Upsert inserts the asset or replaces the row with the same name.
func (r *MediaRepository) Upsert(asset *models.MediaAsset) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	createdAt := asset.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Conn().Exec(`
		INSERT INTO media (name, kind, width, height, fps, frame_count, filepath, filesize, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			width = excluded.width,
			height = excluded.height,
			fps = excluded.fps,
			frame_count = excluded.frame_count,
			filepath = excluded.filepath,
			filesize = excluded.filesize,
			created_at = excluded.created_at
	`, asset.Name, string(asset.Kind), asset.Width, asset.Height, asset.FPS, asset.FrameCount, asset.Path, asset.Size, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert media: %w", err)
	}

	var id int64
	if err := r.db.Conn().QueryRow(`SELECT id FROM media WHERE name = ?`, asset.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read media id: %w", err)
	}
	return id, nil
}

// GetByName retrieves a media asset by name; nil when absent.
func (r *MediaRepository) GetByName(name string) (*models.MediaAsset, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT id, name, kind, width, height, fps, frame_count, filepath, filesize, created_at
		FROM media WHERE name = ?
	`, name)

	asset, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	return asset, nil
}

// GetAll lists every media asset, newest first.
func (r *MediaRepository) GetAll() ([]models.MediaAsset, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, name, kind, width, height, fps, frame_count, filepath, filesize, created_at
		FROM media ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	assets := []models.MediaAsset{}
	for rows.Next() {
		asset, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// DeleteAll removes every media row.
func (r *MediaRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM media`); err != nil {
		return fmt.Errorf("failed to delete media: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(s scanner) (*models.MediaAsset, error) {
	var (
		asset models.MediaAsset
		kind  string
	)
	err := s.Scan(&asset.ID, &asset.Name, &kind, &asset.Width, &asset.Height, &asset.FPS,
		&asset.FrameCount, &asset.Path, &asset.Size, &asset.CreatedAt)
	if err != nil {
		return nil, err
	}
	asset.Kind = models.MediaKind(kind)
	return &asset, nil
}
