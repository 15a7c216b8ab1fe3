package ai

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
)

func TestNewDetectorService_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDetectorService(config.ModelConfig{
		ID:         "m1",
		Format:     "ssd",
		ModelPath:  filepath.Join(dir, "missing.pb"),
		ConfigPath: filepath.Join(dir, "missing.pbtxt"),
		InputSize:  300,
	}, logger.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}

func TestRegistry_SkipsModelsThatFailToLoad(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry([]config.ModelConfig{
		{ID: "broken", Format: "ssd", ModelPath: filepath.Join(dir, "nope.pb")},
	}, logger.NewNop())
	defer registry.Close()

	assert.Empty(t, registry.IDs())

	_, err := registry.Get("broken")
	var unknown *models.UnknownModelError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "broken", unknown.Model)
}
