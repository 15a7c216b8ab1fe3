package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/services/storage"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true, ".mkv": true,
}

// KindFromName infers the media kind from the file extension.
func KindFromName(name string) (models.MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExtensions[ext]:
		return models.KindImage, true
	case videoExtensions[ext]:
		return models.KindVideo, true
	}
	return "", false
}

// Ingestor validates uploaded media and stores it in the session.
type Ingestor struct {
	session *storage.Session
	logger  *logger.Logger
}

func NewIngestor(session *storage.Session, logger *logger.Logger) *Ingestor {
	return &Ingestor{session: session, logger: logger}
}

// Ingest checks that data decodes as kind and stores it under the sanitized name.
// An empty kind is inferred from the extension. Re-uploading a name replaces the earlier file.
func (i *Ingestor) Ingest(name string, data []byte, kind models.MediaKind) (*models.MediaAsset, error) {
	base := storage.SanitizeBaseName(name)
	if base == "" {
		return nil, &models.IngestionError{Media: name, Kind: kind, Err: errors.New("empty file name")}
	}
	if kind == "" {
		inferred, ok := KindFromName(base)
		if !ok {
			return nil, &models.IngestionError{Media: base, Kind: kind, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(base))}
		}
		kind = inferred
	}
	if !kind.Valid() {
		return nil, &models.IngestionError{Media: base, Kind: kind, Err: errors.New("unknown media kind")}
	}
	if len(data) == 0 {
		return nil, &models.IngestionError{Media: base, Kind: kind, Err: errors.New("empty content")}
	}

	// The temp file keeps the extension so the video backend can pick a demuxer.
	tmp, err := os.CreateTemp(i.session.MediaDir, ".tmp-*"+filepath.Ext(base))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp media file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write media %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write media %s: %w", base, err)
	}

	var asset *models.MediaAsset
	if kind == models.KindImage {
		asset, err = probeImageBytes(data)
	} else {
		asset, err = probeVideo(tmpName)
	}
	if err != nil {
		return nil, &models.IngestionError{Media: base, Kind: kind, Err: err}
	}

	path, err := i.session.MediaPath(base)
	if err != nil {
		return nil, &models.IngestionError{Media: base, Kind: kind, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("failed to store media %s: %w", base, err)
	}
	committed = true

	asset.Name = base
	asset.Kind = kind
	asset.Path = path
	asset.Size = int64(len(data))
	asset.CreatedAt = time.Now()
	i.logger.Info("Ingested %s %s (%dx%d, %d frame(s))", kind, base, asset.Width, asset.Height, asset.FrameCount)
	return asset, nil
}

// Probe describes a media file already present in the session media directory.
func (i *Ingestor) Probe(name string) (*models.MediaAsset, error) {
	kind, ok := KindFromName(name)
	if !ok {
		return nil, &models.IngestionError{Media: name, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(name))}
	}
	path, err := i.session.MediaPath(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.MediaNotFoundError{Media: name}
	}

	var asset *models.MediaAsset
	if kind == models.KindImage {
		asset, err = probeImageFile(path)
	} else {
		asset, err = probeVideo(path)
	}
	if err != nil {
		return nil, &models.IngestionError{Media: name, Kind: kind, Err: err}
	}
	asset.Name = name
	asset.Kind = kind
	asset.Path = path
	asset.Size = info.Size()
	asset.CreatedAt = info.ModTime()
	return asset, nil
}

// Open returns a handle from which frames of the stored media can be read.
func (i *Ingestor) Open(asset *models.MediaAsset) (*Handle, error) {
	if asset == nil {
		return nil, errors.New("nil media asset")
	}
	if _, err := os.Stat(asset.Path); err != nil {
		return nil, fmt.Errorf("failed to open media %s: %w", asset.Name, err)
	}
	return &Handle{asset: asset}, nil
}

func probeImageBytes(data []byte) (*models.MediaAsset, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	defer mat.Close()
	return imageAsset(mat)
}

func probeImageFile(path string) (*models.MediaAsset, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	return imageAsset(mat)
}

func imageAsset(mat gocv.Mat) (*models.MediaAsset, error) {
	if mat.Empty() {
		return nil, errors.New("decoded image is empty")
	}
	return &models.MediaAsset{Width: mat.Cols(), Height: mat.Rows(), FrameCount: 1}, nil
}

func probeVideo(path string) (*models.MediaAsset, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %v", err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return nil, errors.New("video container could not be opened")
	}

	first := gocv.NewMat()
	defer first.Close()
	if ok := vc.Read(&first); !ok || first.Empty() {
		return nil, errors.New("video has no decodable frames")
	}

	asset := &models.MediaAsset{
		Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        vc.Get(gocv.VideoCaptureFPS),
		FrameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
	}
	if asset.Width == 0 || asset.Height == 0 {
		asset.Width, asset.Height = first.Cols(), first.Rows()
	}
	return asset, nil
}
