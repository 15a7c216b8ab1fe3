package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"featurerecall/internal/models"
)

// Session is the on-disk workspace of one pipeline: uploaded media,
// detection tables and rendered artifacts. It is passed explicitly to every
// component instead of living in process-wide state.
type Session struct {
	Root         string
	MediaDir     string
	TablesDir    string
	ArtifactsDir string
}

// NewSession creates the session directories under root.
func NewSession(root string) (*Session, error) {
	s := &Session{
		Root:         root,
		MediaDir:     filepath.Join(root, "media"),
		TablesDir:    filepath.Join(root, "tables"),
		ArtifactsDir: filepath.Join(root, "artifacts"),
	}
	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ensureDirs() error {
	for _, dir := range []string{s.MediaDir, s.TablesDir, s.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// MediaPath returns where a media file with the given base name is stored.
// Only sanitized base names are accepted.
func (s *Session) MediaPath(name string) (string, error) {
	if !ValidBaseName(name) {
		return "", &models.InvalidNameError{Name: name, Kind: "media"}
	}
	return filepath.Join(s.MediaDir, name), nil
}

// ArtifactPath returns where an artifact with the given name is stored.
func (s *Session) ArtifactPath(name string) string {
	return filepath.Join(s.ArtifactsDir, name)
}

// Resolve finds a served file (media or artifact) by bare name.
func (s *Session) Resolve(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	for _, dir := range []string{s.ArtifactsDir, s.MediaDir} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Clear removes every media file, table and artifact. Clearing an empty session succeeds.
func (s *Session) Clear() (int, error) {
	removed := 0
	var errs []error
	for _, dir := range []string{s.MediaDir, s.TablesDir, s.ArtifactsDir} {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	if err := s.ensureDirs(); err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}
