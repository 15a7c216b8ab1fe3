package ai

import (
	"sort"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/services/detection"
)

// Registry holds every detection model loaded at startup, keyed by id.
type Registry struct {
	detectors map[string]*DetectorService
	logger    *logger.Logger
}

// NewRegistry loads each configured model once. A model that fails to load is
// logged and left out, so requests naming it get an UnknownModelError.
func NewRegistry(cfgs []config.ModelConfig, logger *logger.Logger) *Registry {
	r := &Registry{detectors: make(map[string]*DetectorService), logger: logger}
	for _, cfg := range cfgs {
		detector, err := NewDetectorService(cfg, logger)
		if err != nil {
			logger.Warning("Could not initialize detection network %s: %v", cfg.ID, err)
			continue
		}
		r.detectors[cfg.ID] = detector
	}
	return r
}

// Get returns the detector for id.
func (r *Registry) Get(id string) (detection.Detector, error) {
	d, ok := r.detectors[id]
	if !ok {
		return nil, &models.UnknownModelError{Model: id}
	}
	return d, nil
}

// IDs returns the loaded model ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.detectors))
	for id := range r.detectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Close() {
	for id, d := range r.detectors {
		if err := d.Close(); err != nil {
			r.logger.Error("Failed to close detection network %s: %v", id, err)
		}
	}
}
