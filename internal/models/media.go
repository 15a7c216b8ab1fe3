package models

import "time"

// MediaKind distinguishes single-frame images from multi-frame videos.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// Valid reports whether k is a supported media kind.
func (k MediaKind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// MediaAsset represents an ingested media file.
type MediaAsset struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Kind       MediaKind `json:"kind"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FPS        float64   `json:"fps"`
	FrameCount int       `json:"frame_count"` // 1 for images, container estimate for videos
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

// DetectionRun records one completed detection over a media item with one model.
type DetectionRun struct {
	ID           int64         `json:"id"`
	MediaName    string        `json:"media"`
	ModelID      string        `json:"model"`
	Table        string        `json:"table"`
	Records      int           `json:"records"`
	Frames       int           `json:"frames"`
	FailedFrames int           `json:"failed_frames"`
	Elapsed      time.Duration `json:"elapsed"`
	CreatedAt    time.Time     `json:"created_at"`
}

// FrameFailure is a recoverable detection failure on a single video frame.
type FrameFailure struct {
	Frame int
	Err   error
}

// MediaOverview is a catalog entry with everything derived from the media.
type MediaOverview struct {
	MediaAsset
	Runs      []DetectionRun      `json:"runs"`
	Artifacts []AnnotatedArtifact `json:"artifacts"`
}
