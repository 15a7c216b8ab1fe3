package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/services/storage"
)

const (
	boxThickness  = 2
	textThickness = 2
	fontScale     = 0.5
	labelOffset   = 10
)

// boxColor is blue; gocv converts RGBA to a BGR scalar.
var boxColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}

// fourccByExt picks a writer codec that the container accepts.
var fourccByExt = map[string]string{
	".mp4": "mp4v",
	".mov": "mp4v",
	".avi": "MJPG",
	".mkv": "MJPG",
	".wmv": "WMV2",
	".flv": "FLV1",
}

// Renderer draws search matches onto a copy of the base media.
type Renderer struct {
	session *storage.Session
	logger  *logger.Logger
}

func NewRenderer(session *storage.Session, logger *logger.Logger) *Renderer {
	return &Renderer{session: session, logger: logger}
}

// Render writes an annotated copy of base carrying every record of matches that
// belongs to it. When matches span one model the artifact is named after that
// model, otherwise it gets the aggregate name. The base file is never modified.
func (r *Renderer) Render(ctx context.Context, base *models.MediaAsset, matches models.SearchResult) (*models.AnnotatedArtifact, error) {
	start := time.Now()

	modelID := ""
	if ids := matches.ModelIDs(); len(ids) == 1 {
		modelID = ids[0]
	}
	name := storage.NameFor(base.Name, modelID, storage.PurposeAnnotated)

	byFrame := make(map[int][]models.DetectionRecord)
	total := 0
	for _, g := range matches.Groups {
		if g.MediaID != base.Name {
			continue
		}
		for _, rec := range g.Records {
			byFrame[rec.FrameIndex] = append(byFrame[rec.FrameIndex], rec)
			total++
		}
	}

	dst := r.session.ArtifactPath(name)
	tmp := filepath.Join(r.session.ArtifactsDir, ".tmp-"+uuid.NewString()+filepath.Ext(name))
	defer os.Remove(tmp)

	var (
		frames int
		err    error
	)
	switch {
	case base.Kind == models.KindVideo:
		frames, err = r.renderVideo(ctx, base, byFrame, tmp)
	case total == 0:
		frames, err = 1, copyBase(base, tmp)
	default:
		frames, err = r.renderImage(base, byFrame[0], tmp)
	}
	if err != nil {
		return nil, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		return nil, fmt.Errorf("failed to store artifact %s: %w", name, err)
	}

	artifact := &models.AnnotatedArtifact{
		Name:      name,
		MediaName: base.Name,
		ModelID:   modelID,
		Query:     matches.Query,
		Path:      dst,
		Records:   total,
		Frames:    frames,
		Elapsed:   time.Since(start),
		CreatedAt: time.Now(),
	}
	r.logger.Info("Rendered %s with %d box(es) in %v", name, total, artifact.Elapsed)
	return artifact, nil
}

func (r *Renderer) renderImage(base *models.MediaAsset, records []models.DetectionRecord, dst string) (int, error) {
	mat := gocv.IMRead(base.Path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return 0, &models.RenderSourceUnreadableError{Media: base.Name, Err: errors.New("decoded image is empty")}
	}

	if err := drawRecords(&mat, records); err != nil {
		return 0, err
	}
	if ok := gocv.IMWrite(dst, mat); !ok {
		return 0, fmt.Errorf("failed to encode annotated image %s", base.Name)
	}
	return 1, nil
}

func (r *Renderer) renderVideo(ctx context.Context, base *models.MediaAsset, byFrame map[int][]models.DetectionRecord, dst string) (int, error) {
	vc, err := gocv.VideoCaptureFile(base.Path)
	if err != nil {
		return 0, &models.RenderSourceUnreadableError{Media: base.Name, Err: err}
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return 0, &models.RenderSourceUnreadableError{Media: base.Name, Err: errors.New("video container could not be opened")}
	}

	fps := base.FPS
	if fps <= 0 {
		fps = vc.Get(gocv.VideoCaptureFPS)
	}
	width := int(vc.Get(gocv.VideoCaptureFrameWidth))
	height := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if width == 0 || height == 0 {
		width, height = base.Width, base.Height
	}

	codec, ok := fourccByExt[strings.ToLower(filepath.Ext(base.Name))]
	if !ok {
		codec = "mp4v"
	}
	writer, err := gocv.VideoWriterFile(dst, codec, fps, width, height, true)
	if err != nil {
		return 0, fmt.Errorf("failed to create video writer for %s: %v", base.Name, err)
	}
	defer writer.Close()
	if !writer.IsOpened() {
		return 0, fmt.Errorf("failed to open video writer for %s with codec %s", base.Name, codec)
	}

	frame := gocv.NewMat()
	defer frame.Close()

	index := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if ok := vc.Read(&frame); !ok || frame.Empty() {
			break
		}
		if records := byFrame[index]; len(records) > 0 {
			if err := drawRecords(&frame, records); err != nil {
				return 0, err
			}
		}
		if err := writer.Write(frame); err != nil {
			return 0, fmt.Errorf("failed to write frame %d of %s: %v", index, base.Name, err)
		}
		index++
	}
	if index == 0 {
		return 0, &models.RenderSourceUnreadableError{Media: base.Name, Err: errors.New("video has no decodable frames")}
	}
	return index, nil
}

// drawRecords draws a rectangle and label for each record, clamped to the frame.
func drawRecords(mat *gocv.Mat, records []models.DetectionRecord) error {
	for _, rec := range records {
		rect := clampBox(rec.Box, mat.Cols(), mat.Rows())
		if err := gocv.Rectangle(mat, rect, boxColor, boxThickness); err != nil {
			return fmt.Errorf("failed to draw rectangle: %v", err)
		}

		pt := labelOrigin(rect)
		if err := gocv.PutText(mat, rec.Label, pt, gocv.FontHersheySimplex, fontScale, boxColor, textThickness); err != nil {
			return fmt.Errorf("failed to draw text: %v", err)
		}
	}
	return nil
}

// clampBox orders the corners and keeps them inside a width x height frame.
func clampBox(b models.Box, width, height int) image.Rectangle {
	clamp := func(v float64, max int) int {
		switch {
		case v < 0:
			return 0
		case v > float64(max-1):
			return max - 1
		}
		return int(v)
	}
	x1, x2 := clamp(b.X1, width), clamp(b.X2, width)
	y1, y2 := clamp(b.Y1, height), clamp(b.Y2, height)
	// image.Rect swaps reversed corners itself.
	return image.Rect(x1, y1, x2, y2)
}

// labelOrigin places the label above the box, or just inside it near the top edge.
func labelOrigin(rect image.Rectangle) image.Point {
	y := rect.Min.Y - labelOffset
	if y < labelOffset {
		y = rect.Min.Y + 2*labelOffset
	}
	return image.Pt(rect.Min.X, y)
}

// copyBase copies the base bytes unchanged, so an artifact without boxes is
// identical to its source.
func copyBase(base *models.MediaAsset, dst string) error {
	in, err := os.Open(base.Path)
	if err != nil {
		return &models.RenderSourceUnreadableError{Media: base.Name, Err: err}
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
