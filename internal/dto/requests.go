package dto

import (
	"errors"
	"fmt"
	"strings"

	"featurerecall/internal/services/storage"
)

// ErrInvalidRequest marks a request rejected at the HTTP boundary.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// ProcessRequest asks for detection over a stored media item.
// An empty Models list means every loaded model.
type ProcessRequest struct {
	Media  string   `json:"media"`
	Models []string `json:"models"`
}

func (r *ProcessRequest) Validate() error {
	r.Media = strings.TrimSpace(r.Media)
	if err := validateMedia(r.Media); err != nil {
		return err
	}
	return ValidateModels(r.Models)
}

// SearchRequest looks for a label in the stored detections of a media item.
type SearchRequest struct {
	Media  string   `json:"media"`
	Models []string `json:"models"`
	Query  string   `json:"query"`
}

// Validate checks the media name; the query itself is checked by the query engine.
func (r *SearchRequest) Validate() error {
	r.Media = strings.TrimSpace(r.Media)
	if err := validateMedia(r.Media); err != nil {
		return err
	}
	return ValidateModels(r.Models)
}

// LabelsRequest lists the distinct labels stored for a media item.
type LabelsRequest struct {
	Media  string   `json:"media"`
	Models []string `json:"models"`
}

func (r *LabelsRequest) Validate() error {
	r.Media = strings.TrimSpace(r.Media)
	if err := validateMedia(r.Media); err != nil {
		return err
	}
	return ValidateModels(r.Models)
}

// RenderRequest draws the matches of Query onto a copy of the media.
type RenderRequest struct {
	Media     string   `json:"media"`
	Query     string   `json:"query"`
	Models    []string `json:"models"`
	Aggregate bool     `json:"aggregate"`
}

func (r *RenderRequest) Validate() error {
	r.Media = strings.TrimSpace(r.Media)
	if err := validateMedia(r.Media); err != nil {
		return err
	}
	return ValidateModels(r.Models)
}

// validateMedia accepts only the sanitized base names the upload endpoint stores.
func validateMedia(name string) error {
	if name == "" {
		return invalid("media is required")
	}
	if !storage.ValidBaseName(name) {
		return invalid("media %q is not a stored file name", name)
	}
	return nil
}

// ValidateModels rejects blank ids and ids that cannot appear in stored file names.
func ValidateModels(ids []string) error {
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("model ids must not be empty")
		}
		if !storage.ValidModelID(strings.TrimSpace(id)) {
			return invalid("model id %q must contain only letters, digits and '-'", id)
		}
	}
	return nil
}

// SplitList parses a comma separated form value, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
