package ai

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
)

const (
	// minScore keeps obviously empty candidates out of the raw list.
	// The user-facing threshold is applied later by the normalizer.
	minScore = 0.05
	// nmsThreshold is the IoU above which overlapping YOLO boxes are suppressed.
	nmsThreshold = 0.45
)

// DetectorService runs one DNN model over decoded frames.
type DetectorService struct {
	id     string
	format string
	size   int

	mu  sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	net gocv.Net

	outputNames []string
	logger      *logger.Logger
}

// NewDetectorService loads the network described by cfg.
func NewDetectorService(cfg config.ModelConfig, logger *logger.Logger) (*DetectorService, error) {
	s := &DetectorService{
		id:     cfg.ID,
		format: cfg.Format,
		size:   cfg.InputSize,
		logger: logger,
	}
	if err := s.initializeNet(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// initializeNet reads the model and config files and selects backend and target.
func (s *DetectorService) initializeNet(cfg config.ModelConfig) error {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network for model %s", cfg.ID)
	}

	errBackend := net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend))
	errTarget := net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target))
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target for model %s", cfg.ID)
	}

	if s.format == "yolo" {
		names := net.GetLayerNames()
		for _, id := range net.GetUnconnectedOutLayers() {
			s.outputNames = append(s.outputNames, names[id-1])
		}
	}

	s.net = net
	s.logger.Info("Detection network %s (%s, %dpx) initialized", cfg.ID, cfg.Format, cfg.InputSize)
	return nil
}

// ID returns the model id.
func (s *DetectorService) ID() string {
	return s.id
}

// Detect runs the model on one frame and returns pixel-space boxes.
// The frame is only read.
func (s *DetectorService) Detect(ctx context.Context, frame gocv.Mat) ([]models.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "yolo" {
		return s.detectYOLO(frame)
	}
	return s.detectSSD(frame)
}

// detectSSD decodes the [1,1,N,7] output of an SSD network:
// batch, class id, confidence, x1, y1, x2, y2 (normalized).
func (s *DetectorService) detectSSD(frame gocv.Mat) ([]models.RawDetection, error) {
	blob := gocv.BlobFromImage(frame, 1.0/127.5, image.Pt(s.size, s.size), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()
	if output.Empty() {
		return nil, fmt.Errorf("model %s produced no output", s.id)
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	width, height := float64(frame.Cols()), float64(frame.Rows())
	var results []models.RawDetection
	for i := 0; i < rows.Rows(); i++ {
		score := float64(rows.GetFloatAt(i, 2))
		if score < minScore {
			continue
		}
		results = append(results, models.RawDetection{
			ClassID: int(rows.GetFloatAt(i, 1)),
			Score:   score,
			Box: models.Box{
				X1: float64(rows.GetFloatAt(i, 3)) * width,
				Y1: float64(rows.GetFloatAt(i, 4)) * height,
				X2: float64(rows.GetFloatAt(i, 5)) * width,
				Y2: float64(rows.GetFloatAt(i, 6)) * height,
			},
		})
	}
	return results, nil
}

// detectYOLO decodes darknet-style outputs, one row per candidate:
// cx, cy, w, h (normalized), objectness, then one score per class.
func (s *DetectorService) detectYOLO(frame gocv.Mat) ([]models.RawDetection, error) {
	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(s.size, s.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	outputs := s.net.ForwardLayers(s.outputNames)
	defer func() {
		for i := range outputs {
			outputs[i].Close()
		}
	}()

	width, height := float64(frame.Cols()), float64(frame.Rows())
	var (
		candidates []models.RawDetection
		rects      []image.Rectangle
		scores     []float32
	)
	for _, out := range outputs {
		for r := 0; r < out.Rows(); r++ {
			classID, best := -1, float32(0)
			for c := 5; c < out.Cols(); c++ {
				if v := out.GetFloatAt(r, c); v > best {
					classID, best = c-5, v
				}
			}
			if classID < 0 || float64(best) < minScore {
				continue
			}

			cx := float64(out.GetFloatAt(r, 0)) * width
			cy := float64(out.GetFloatAt(r, 1)) * height
			w := float64(out.GetFloatAt(r, 2)) * width
			h := float64(out.GetFloatAt(r, 3)) * height
			box := models.Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}

			candidates = append(candidates, models.RawDetection{Box: box, Score: float64(best), ClassID: classID})
			rects = append(rects, image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)))
			scores = append(scores, best)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(rects, scores, minScore, nmsThreshold)
	results := make([]models.RawDetection, 0, len(keep))
	for _, idx := range keep {
		results = append(results, candidates[idx])
	}
	return results, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}
