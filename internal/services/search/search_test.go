package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurerecall/internal/models"
)

func record(model string, frame int, label string) models.DetectionRecord {
	return models.DetectionRecord{MediaID: "clip.mp4", ModelID: model, FrameIndex: frame, Label: label, Score: 0.9}
}

func testSets() []models.DetectionSet {
	return []models.DetectionSet{
		{MediaID: "clip.mp4", ModelID: "m1", Records: []models.DetectionRecord{
			record("m1", 0, "Dog"),
			record("m1", 1, "cat"),
			record("m1", 2, "Hotdog"),
		}},
		{MediaID: "clip.mp4", ModelID: "m2", Records: []models.DetectionRecord{
			record("m2", 0, "person"),
		}},
	}
}

func TestSearch_CaseInsensitiveSubstring(t *testing.T) {
	result, err := Search(testSets(), "dog")
	require.NoError(t, err)

	require.Len(t, result.Groups, 1)
	assert.Equal(t, "m1", result.Groups[0].ModelID)
	assert.Equal(t, []models.DetectionRecord{record("m1", 0, "Dog"), record("m1", 2, "Hotdog")}, result.Groups[0].Records)
}

func TestSearch_UpperCaseQuery(t *testing.T) {
	result, err := Search(testSets(), "  CAT ")
	require.NoError(t, err)

	assert.Equal(t, "CAT", result.Query)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, []models.DetectionRecord{record("m1", 1, "cat")}, result.Groups[0].Records)
}

func TestSearch_AcrossModels(t *testing.T) {
	result, err := Search(testSets(), "o")
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2"}, result.ModelIDs())
	assert.Len(t, result.ByFrame()[0], 2)
}

func TestSearch_InvalidQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := Search(testSets(), q)
		var invalid *models.InvalidQueryError
		assert.True(t, errors.As(err, &invalid), "query %q", q)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	_, err := Search(testSets(), "giraffe")

	var noMatch *models.NoMatchError
	require.True(t, errors.As(err, &noMatch))
	assert.Equal(t, "giraffe", noMatch.Query)
	assert.Contains(t, err.Error(), `"giraffe"`)
}

func TestSearch_NoSets(t *testing.T) {
	_, err := Search(nil, "cat")
	var noMatch *models.NoMatchError
	assert.True(t, errors.As(err, &noMatch))
}

func TestSearch_DoesNotModifySets(t *testing.T) {
	sets := testSets()
	_, err := Search(sets, "dog")
	require.NoError(t, err)
	assert.Equal(t, testSets(), sets)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []string{"Dog", "Hotdog", "cat", "person"}, Labels(testSets()))
	assert.Empty(t, Labels(nil))
}
