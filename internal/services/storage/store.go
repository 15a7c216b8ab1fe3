package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"featurerecall/internal/models"
)

// Header is the fixed column set of a detection table.
var Header = []string{"frame_index", "timestamp_ms", "score", "label", "box"}

// BoxSeparator joins the four box coordinates inside the box cell.
const BoxSeparator = ";"

// DetectionStore persists one CSV table per (media, model) pair.
// It is a faithful persistence layer: no threshold or box validation happens here.
type DetectionStore struct {
	dir string
}

// NewDetectionStore creates a store rooted at dir, creating it if needed.
func NewDetectionStore(dir string) (*DetectionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tables directory: %w", err)
	}
	return &DetectionStore{dir: dir}, nil
}

// Dir returns the directory holding the tables.
func (s *DetectionStore) Dir() string {
	return s.dir
}

// Path returns the table path for a (media, model) pair. Names that are not
// sanitized base names or valid model ids are refused with InvalidNameError.
func (s *DetectionStore) Path(mediaID, modelID string) (string, error) {
	if err := checkKey(mediaID, modelID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, NameFor(mediaID, modelID, PurposeDetections)), nil
}

// Exists reports whether a table has been stored for the pair.
func (s *DetectionStore) Exists(mediaID, modelID string) bool {
	path, err := s.Path(mediaID, modelID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Create writes the set, replacing any earlier table for the same pair.
// The table is written to a temporary file and renamed into place, so readers
// never observe a partial table.
func (s *DetectionStore) Create(mediaID, modelID string, set models.DetectionSet) error {
	path, err := s.Path(mediaID, modelID)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		return &models.StoreWriteError{Media: mediaID, Model: modelID, Path: path, Err: err}
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*.csv")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := writeTable(tmp, set.Records); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fail(err)
	}
	committed = true
	return nil
}

func writeTable(w io.Writer, records []models.DetectionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, rec := range records {
		ts := ""
		if rec.TimestampMs != nil {
			ts = formatFloat(*rec.TimestampMs)
		}
		row := []string{
			strconv.Itoa(rec.FrameIndex),
			ts,
			formatFloat(rec.Score),
			rec.Label,
			FormatBox(rec.Box),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load reads the table for a (media, model) pair.
func (s *DetectionStore) Load(mediaID, modelID string) (models.DetectionSet, error) {
	path, err := s.Path(mediaID, modelID)
	if err != nil {
		return models.DetectionSet{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.DetectionSet{}, &models.StoreNotFoundError{Media: mediaID, Model: modelID, Path: path}
	}
	if err != nil {
		return models.DetectionSet{}, fmt.Errorf("failed to open detection table %s: %w", path, err)
	}
	defer f.Close()

	records, err := readTable(f, mediaID, modelID)
	if err != nil {
		return models.DetectionSet{}, fmt.Errorf("failed to parse detection table %s: %w", path, err)
	}
	return models.DetectionSet{MediaID: mediaID, ModelID: modelID, Records: records}, nil
}

func readTable(r io.Reader, mediaID, modelID string) ([]models.DetectionRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header: %w", err)
	}
	for i, col := range Header {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q at position %d", header[i], i)
		}
	}

	records := []models.DetectionRecord{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		rec := models.DetectionRecord{MediaID: mediaID, ModelID: modelID, Label: row[3]}
		if rec.FrameIndex, err = strconv.Atoi(row[0]); err != nil {
			return nil, fmt.Errorf("line %d: bad frame_index: %w", line, err)
		}
		if row[1] != "" {
			ts, err := strconv.ParseFloat(row[1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad timestamp_ms: %w", line, err)
			}
			rec.TimestampMs = &ts
		}
		if rec.Score, err = strconv.ParseFloat(row[2], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad score: %w", line, err)
		}
		if rec.Box, err = ParseBox(row[4]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Tables lists the model ids that have a stored table for mediaID.
func (s *DetectionStore) Tables(mediaID string) ([]string, error) {
	if !ValidBaseName(mediaID) {
		return nil, &models.InvalidNameError{Name: mediaID, Kind: "media"}
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		modelID, base, ok := ParseTableName(entry.Name())
		if ok && base == mediaID && ValidModelID(modelID) {
			ids = append(ids, modelID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FormatBox encodes a box as four numbers joined by BoxSeparator.
func FormatBox(b models.Box) string {
	parts := b.Array()
	out := make([]string, len(parts))
	for i, v := range parts {
		out[i] = formatFloat(v)
	}
	return strings.Join(out, BoxSeparator)
}

// ParseBox decodes a box cell. Exactly four plain numbers are accepted.
func ParseBox(cell string) (models.Box, error) {
	parts := strings.Split(cell, BoxSeparator)
	if len(parts) != 4 {
		return models.Box{}, fmt.Errorf("box %q: expected 4 fields, got %d", cell, len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return models.Box{}, fmt.Errorf("box %q: field %d is not a number", cell, i)
		}
		v[i] = f
	}
	return models.Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
