package models

import (
	"sort"
	"time"
)

// MatchGroup is the matching subsequence of one DetectionSet.
type MatchGroup struct {
	MediaID string            `json:"media"`
	ModelID string            `json:"model"`
	Records []DetectionRecord `json:"records"`
}

// SearchResult groups matches per source DetectionSet.
type SearchResult struct {
	Query  string       `json:"query"`
	Groups []MatchGroup `json:"results"`
}

// Empty reports whether the result holds no records.
func (r SearchResult) Empty() bool {
	for _, g := range r.Groups {
		if len(g.Records) > 0 {
			return false
		}
	}
	return true
}

// ModelIDs returns the distinct model ids in the result, sorted.
func (r SearchResult) ModelIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, g := range r.Groups {
		if !seen[g.ModelID] {
			seen[g.ModelID] = true
			ids = append(ids, g.ModelID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ByFrame indexes every record of the result by frame index.
func (r SearchResult) ByFrame() map[int][]DetectionRecord {
	frames := make(map[int][]DetectionRecord)
	for _, g := range r.Groups {
		for _, rec := range g.Records {
			frames[rec.FrameIndex] = append(frames[rec.FrameIndex], rec)
		}
	}
	return frames
}

// AnnotatedArtifact is a derived media file produced by the renderer.
type AnnotatedArtifact struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	MediaName string        `json:"media"`
	ModelID   string        `json:"model,omitempty"` // empty for aggregate renders
	Query     string        `json:"query"`
	Path      string        `json:"path"`
	Records   int           `json:"records"`
	Frames    int           `json:"frames"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}
