package models

// Box is a bounding box in the source frame's pixel space.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Array returns the box as [x1, y1, x2, y2].
func (b Box) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

// RawDetection is one unfiltered output of a detection model for a single frame.
type RawDetection struct {
	Box     Box
	Score   float64
	ClassID int
}

// DetectionRecord is a normalized detection ready to be persisted.
type DetectionRecord struct {
	MediaID     string   `json:"media_id"`
	ModelID     string   `json:"model_id"`
	FrameIndex  int      `json:"frame_index"`
	TimestampMs *float64 `json:"timestamp_ms,omitempty"` // video only
	Box         Box      `json:"box"`
	Score       float64  `json:"score"`
	Label       string   `json:"label"`
}

// DetectionSet is the ordered sequence of records for one (media, model) pair.
type DetectionSet struct {
	MediaID string            `json:"media_id"`
	ModelID string            `json:"model_id"`
	Records []DetectionRecord `json:"records"`
}

// Key identifies the set for locking and naming.
func (s DetectionSet) Key() string {
	return s.MediaID + "|" + s.ModelID
}

// FrameIndices returns the distinct frame indices referenced by the set, in order of appearance.
func (s DetectionSet) FrameIndices() []int {
	seen := make(map[int]bool)
	var frames []int
	for _, rec := range s.Records {
		if !seen[rec.FrameIndex] {
			seen[rec.FrameIndex] = true
			frames = append(frames, rec.FrameIndex)
		}
	}
	return frames
}
