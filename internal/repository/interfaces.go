package repository

import (
	"featurerecall/internal/models"
)

// MediaRepository defines the catalog operations for ingested media.
type MediaRepository interface {
	// Create/update operations
	Upsert(asset *models.MediaAsset) (int64, error)

	// Read operations
	GetByName(name string) (*models.MediaAsset, error)
	GetAll() ([]models.MediaAsset, error)

	// Delete operations
	DeleteAll() error
}

// RunRepository defines the catalog operations for detection runs.
type RunRepository interface {
	Upsert(run *models.DetectionRun) (int64, error)
	GetByMedia(mediaName string) ([]models.DetectionRun, error)
	DeleteAll() error
}

// ArtifactRepository defines the catalog operations for rendered artifacts.
type ArtifactRepository interface {
	Upsert(artifact *models.AnnotatedArtifact) (int64, error)
	GetByMedia(mediaName string) ([]models.AnnotatedArtifact, error)
	DeleteAll() error
}
