package storage

import (
	"path/filepath"
	"regexp"
	"strings"

	"featurerecall/internal/models"
)

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidBaseName reports whether name is already a sanitized bare file name.
func ValidBaseName(name string) bool {
	return name != "" && SanitizeBaseName(name) == name
}

// ValidModelID reports whether id may be embedded in table and artifact names.
func ValidModelID(id string) bool {
	return modelIDPattern.MatchString(id)
}

// checkKey rejects a (media, model) pair that cannot be turned into a file name.
func checkKey(mediaID, modelID string) error {
	if !ValidBaseName(mediaID) {
		return &models.InvalidNameError{Name: mediaID, Kind: "media"}
	}
	if !ValidModelID(modelID) {
		return &models.InvalidNameError{Name: modelID, Kind: "model"}
	}
	return nil
}

// Purpose selects which artifact a name is built for.
type Purpose int

const (
	// PurposeDetections names the detection table of a (media, model) pair.
	PurposeDetections Purpose = iota
	// PurposeAnnotated names a rendered artifact.
	PurposeAnnotated
)

const (
	annotatedPrefix  = "annotated_"
	detectionsInfix  = "_detections_"
	detectionsSuffix = ".csv"
)

// NameFor maps (base name, model id, purpose) to a stable file name.
// '_' never appears in sanitized base names or model ids, so it acts as an
// unambiguous separator and distinct tuples never collide.
// An empty modelID on PurposeAnnotated names an aggregate render.
func NameFor(base, modelID string, purpose Purpose) string {
	switch purpose {
	case PurposeDetections:
		return modelID + detectionsInfix + base + detectionsSuffix
	default:
		if modelID == "" {
			return annotatedPrefix + base
		}
		return annotatedPrefix + modelID + "_" + base
	}
}

// ParseTableName splits a detection table file name into (model id, base name).
func ParseTableName(name string) (modelID, base string, ok bool) {
	if !strings.HasSuffix(name, detectionsSuffix) {
		return "", "", false
	}
	trimmed := strings.TrimSuffix(name, detectionsSuffix)
	idx := strings.Index(trimmed, detectionsInfix)
	if idx <= 0 {
		return "", "", false
	}
	return trimmed[:idx], trimmed[idx+len(detectionsInfix):], true
}

// SanitizeBaseName reduces an uploaded file name to [A-Za-z0-9.-].
// Path components are dropped and other characters become '-'.
func SanitizeBaseName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), ".")
}

// ParseArtifactName splits an annotated artifact name into (model id, base name).
// The model id is empty for aggregate renders.
func ParseArtifactName(name string) (modelID, base string, ok bool) {
	rest, found := strings.CutPrefix(name, annotatedPrefix)
	if !found || rest == "" {
		return "", "", false
	}
	if model, b, split := strings.Cut(rest, "_"); split {
		return model, b, model != "" && b != ""
	}
	return "", rest, true
}
