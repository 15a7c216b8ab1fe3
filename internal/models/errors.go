package models

import (
	"errors"
	"fmt"
)

// ErrSourceConsumed is returned when a forward-only video source is requested twice.
var ErrSourceConsumed = errors.New("frame source already consumed")

// IngestionError reports media bytes that cannot be decoded as the declared kind.
type IngestionError struct {
	Media string
	Kind  MediaKind
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("cannot read %s %q: %v", e.Kind, e.Media, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// DetectionError reports a failed detection run. Frame is -1 when the whole run failed.
type DetectionError struct {
	Media string
	Model string
	Frame int
	Err   error
}

func (e *DetectionError) Error() string {
	if e.Frame >= 0 {
		return fmt.Sprintf("detection with model %q failed on %q frame %d: %v", e.Model, e.Media, e.Frame, e.Err)
	}
	return fmt.Sprintf("detection with model %q failed on %q: %v", e.Model, e.Media, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// StoreWriteError reports an I/O failure while persisting a detection table.
type StoreWriteError struct {
	Media string
	Model string
	Path  string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("failed to write detections for %q/%q to %s: %v", e.Media, e.Model, e.Path, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreNotFoundError reports a missing detection table.
type StoreNotFoundError struct {
	Media string
	Model string
	Path  string
}

func (e *StoreNotFoundError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("no detections stored for %q", e.Media)
	}
	return fmt.Sprintf("no detections stored for %q with model %q", e.Media, e.Model)
}

// InvalidQueryError reports an empty or malformed label query.
type InvalidQueryError struct {
	Query  string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query %q: %s", e.Query, e.Reason)
}

// NoMatchError reports a well-formed query that matched nothing.
type NoMatchError struct {
	Query string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("the annotation %q is not available in the provided files", e.Query)
}

// RenderSourceUnreadableError reports a base media that cannot be re-opened for rendering.
type RenderSourceUnreadableError struct {
	Media string
	Err   error
}

func (e *RenderSourceUnreadableError) Error() string {
	return fmt.Sprintf("cannot reopen %q for rendering: %v", e.Media, e.Err)
}

func (e *RenderSourceUnreadableError) Unwrap() error { return e.Err }

// UnknownModelError reports a model id that is not configured.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Model)
}

// InvalidNameError reports a media name or model id that cannot be used to
// build a stored file name.
type InvalidNameError struct {
	Name string
	Kind string // "media" or "model"
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s name %q", e.Kind, e.Name)
}

// MediaNotFoundError reports a media name absent from the session.
type MediaNotFoundError struct {
	Media string
}

func (e *MediaNotFoundError) Error() string {
	return fmt.Sprintf("media %q not found", e.Media)
}
