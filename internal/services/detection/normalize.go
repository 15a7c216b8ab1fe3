package detection

import (
	"featurerecall/internal/models"
	"featurerecall/internal/services/vocabulary"
)

// Normalize keeps raw detections scoring at least threshold and resolves their labels.
// Order is preserved; boxes pass through untouched. The returned records carry
// no media, model or frame stamp yet.
func Normalize(raw []models.RawDetection, threshold float64, vocab *vocabulary.Vocabulary) []models.DetectionRecord {
	records := make([]models.DetectionRecord, 0, len(raw))
	for _, det := range raw {
		if det.Score < threshold {
			continue
		}
		records = append(records, models.DetectionRecord{
			Box:   det.Box,
			Score: det.Score,
			Label: vocab.Lookup(det.ClassID),
		})
	}
	return records
}
