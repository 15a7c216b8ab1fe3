package media

import (
	"fmt"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"featurerecall/internal/models"
)

// Frame is one decoded frame. Mat is owned by the FrameSource that produced it
// and stays valid until the next call to Next or Close.
type Frame struct {
	Index       int
	TimestampMs *float64
	Mat         gocv.Mat
}

// FrameSource yields frames in order; Next returns io.EOF after the last one.
type FrameSource interface {
	Next() (Frame, error)
	Close() error
}

// Handle is an opened media item.
type Handle struct {
	asset *models.MediaAsset

	mu       sync.Mutex
	consumed bool
}

// Asset returns the media described by the handle.
func (h *Handle) Asset() *models.MediaAsset {
	return h.asset
}

// Frames returns a frame source. Images can be read any number of times;
// a video handle yields a single forward-only source.
func (h *Handle) Frames() (FrameSource, error) {
	if h.asset.Kind == models.KindImage {
		mat := gocv.IMRead(h.asset.Path, gocv.IMReadColor)
		if mat.Empty() {
			mat.Close()
			return nil, fmt.Errorf("failed to decode image %s", h.asset.Name)
		}
		return &imageSource{mat: mat}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return nil, models.ErrSourceConsumed
	}

	vc, err := gocv.VideoCaptureFile(h.asset.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video %s: %v", h.asset.Name, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("failed to open video %s", h.asset.Name)
	}
	h.consumed = true

	fps := h.asset.FPS
	if fps <= 0 {
		fps = vc.Get(gocv.VideoCaptureFPS)
	}
	return &videoSource{capture: vc, mat: gocv.NewMat(), fps: fps}, nil
}

type imageSource struct {
	mat  gocv.Mat
	done bool
}

func (s *imageSource) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}
	s.done = true
	return Frame{Index: 0, Mat: s.mat}, nil
}

func (s *imageSource) Close() error {
	return s.mat.Close()
}

type videoSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	index   int
}

func (s *videoSource) Next() (Frame, error) {
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return Frame{}, io.EOF
	}
	frame := Frame{Index: s.index, Mat: s.mat}
	if s.fps > 0 {
		ts := float64(s.index) * 1000 / s.fps
		frame.TimestampMs = &ts
	}
	s.index++
	return frame, nil
}

func (s *videoSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}
