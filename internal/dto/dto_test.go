package dto

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurerecall/internal/models"
)

func TestProcessRequest_Validate(t *testing.T) {
	req := &ProcessRequest{Media: "  cat.jpg "}
	require.NoError(t, req.Validate())
	assert.Equal(t, "cat.jpg", req.Media)

	err := (&ProcessRequest{}).Validate()
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	err = (&ProcessRequest{Media: "cat.jpg", Models: []string{"m1", " "}}).Validate()
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestRequests_RejectUnsafeNames(t *testing.T) {
	medias := []string{"../../etc/cat.jpg", "sub/cat.jpg", "my_cat.jpg", ".hidden.png"}
	for _, media := range medias {
		assert.ErrorIs(t, (&ProcessRequest{Media: media}).Validate(), ErrInvalidRequest, media)
		assert.ErrorIs(t, (&SearchRequest{Media: media, Query: "cat"}).Validate(), ErrInvalidRequest, media)
		assert.ErrorIs(t, (&LabelsRequest{Media: media}).Validate(), ErrInvalidRequest, media)
		assert.ErrorIs(t, (&RenderRequest{Media: media, Query: "cat"}).Validate(), ErrInvalidRequest, media)
	}

	for _, model := range []string{"../x", "my_model", "m/1"} {
		assert.ErrorIs(t, (&SearchRequest{Media: "cat.jpg", Models: []string{model}}).Validate(), ErrInvalidRequest, model)
		assert.ErrorIs(t, (&LabelsRequest{Media: "cat.jpg", Models: []string{model}}).Validate(), ErrInvalidRequest, model)
	}
	assert.NoError(t, (&LabelsRequest{Media: "cat.jpg", Models: []string{"yolo-v4"}}).Validate())
}

func TestSearchRequest_AllowsEmptyQueryAtBoundary(t *testing.T) {
	assert.NoError(t, (&SearchRequest{Media: "cat.jpg"}).Validate())
	assert.Error(t, (&SearchRequest{Query: "cat"}).Validate())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"m1", "yolo-v4"}, SplitList(" m1, ,yolo-v4,"))
	assert.Nil(t, SplitList(""))
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "/files/annotated_m1_cat.jpg", FileURL("annotated_m1_cat.jpg"))
}

func TestNewProcessResponse(t *testing.T) {
	resp := NewProcessResponse("clip.mp4", []models.DetectionRun{{
		ModelID: "m1", Table: "m1_detections_clip.mp4.csv", Records: 4, Frames: 10,
		FailedFrames: 1, Elapsed: 1500 * time.Millisecond,
	}})

	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1.5, resp.Results[0].InferenceTime)
	assert.Equal(t, 1, resp.Results[0].FailedFrames)
}

func TestNewRenderResponse(t *testing.T) {
	resp := NewRenderResponse("cat.jpg", "cat", []*models.AnnotatedArtifact{{Name: "annotated_cat.jpg", Records: 2}})

	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "/files/annotated_cat.jpg", resp.Artifacts[0].URL)
	assert.Empty(t, resp.Artifacts[0].Model)
}
