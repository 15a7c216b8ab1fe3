package detection

import (
	"context"
	"errors"
	"io"
	"time"

	"gocv.io/x/gocv"

	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/services/media"
	"featurerecall/internal/services/vocabulary"
)

// Detector is a loaded model that turns one frame into raw detections.
type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat) ([]models.RawDetection, error)
}

// Progress is reported while a run advances.
type Progress struct {
	Media   string
	Model   string
	Frame   int // frames processed so far
	Records int
	Done    bool
}

type ProgressFunc func(Progress)

// Request describes one detection run of a model over a media item.
type Request struct {
	Media      *models.MediaAsset
	ModelID    string
	Source     media.FrameSource
	Detector   Detector
	Vocabulary *vocabulary.Vocabulary
	Threshold  float64
	OnProgress ProgressFunc
}

// Run is the outcome of a detection run.
type Run struct {
	Set      models.DetectionSet
	Frames   int
	Failures []models.FrameFailure
	Elapsed  time.Duration
}

// Invoker drives a detector across every frame of a source.
type Invoker struct {
	logger        *logger.Logger
	progressEvery int
}

func NewInvoker(logger *logger.Logger, progressEvery int) *Invoker {
	if progressEvery <= 0 {
		progressEvery = 1
	}
	return &Invoker{logger: logger, progressEvery: progressEvery}
}

// Detect calls the detector once per frame in order and collects the normalized records.
// On a video a failing frame is recorded and skipped; on an image, or when every
// video frame fails, the run fails with a DetectionError. The source is not closed.
func (inv *Invoker) Detect(ctx context.Context, req Request) (*Run, error) {
	start := time.Now()
	mediaID := req.Media.Name
	isVideo := req.Media.Kind == models.KindVideo

	run := &Run{Set: models.DetectionSet{
		MediaID: mediaID,
		ModelID: req.ModelID,
		Records: []models.DetectionRecord{},
	}}
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := req.Source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &models.DetectionError{Media: mediaID, Model: req.ModelID, Frame: run.Frames, Err: err}
		}
		run.Frames++

		raw, err := req.Detector.Detect(ctx, frame.Mat)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !isVideo {
				return nil, &models.DetectionError{Media: mediaID, Model: req.ModelID, Frame: frame.Index, Err: err}
			}
			inv.logger.Warning("Detection with %s failed on %s frame %d: %v", req.ModelID, mediaID, frame.Index, err)
			run.Failures = append(run.Failures, models.FrameFailure{Frame: frame.Index, Err: err})
			lastErr = err
			continue
		}

		for _, rec := range Normalize(raw, req.Threshold, req.Vocabulary) {
			rec.MediaID = mediaID
			rec.ModelID = req.ModelID
			rec.FrameIndex = frame.Index
			rec.TimestampMs = frame.TimestampMs
			run.Set.Records = append(run.Set.Records, rec)
		}

		if req.OnProgress != nil && run.Frames%inv.progressEvery == 0 {
			req.OnProgress(Progress{Media: mediaID, Model: req.ModelID, Frame: run.Frames, Records: len(run.Set.Records)})
		}
	}

	if run.Frames == 0 {
		return nil, &models.DetectionError{Media: mediaID, Model: req.ModelID, Frame: -1, Err: errors.New("media has no frames")}
	}
	if len(run.Failures) == run.Frames {
		return nil, &models.DetectionError{Media: mediaID, Model: req.ModelID, Frame: -1, Err: lastErr}
	}

	run.Elapsed = time.Since(start)
	if req.OnProgress != nil {
		req.OnProgress(Progress{Media: mediaID, Model: req.ModelID, Frame: run.Frames, Records: len(run.Set.Records), Done: true})
	}
	inv.logger.Info("Model %s found %d object(s) in %d frame(s) of %s in %v", req.ModelID, len(run.Set.Records), run.Frames, mediaID, run.Elapsed)
	return run, nil
}
