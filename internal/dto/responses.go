package dto

import (
	"net/url"
	"time"

	"featurerecall/internal/models"
)

// FileURL is the route serving stored media and artifacts by name.
func FileURL(name string) string {
	return "/files/" + url.PathEscape(name)
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Query string `json:"query,omitempty"`
}

type MediaInfo struct {
	Name       string           `json:"name"`
	Kind       models.MediaKind `json:"kind"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	FPS        float64          `json:"fps,omitempty"`
	FrameCount int              `json:"frame_count"`
	Size       int64            `json:"size"`
	URL        string           `json:"url"`
}

func NewMediaInfo(asset *models.MediaAsset) MediaInfo {
	return MediaInfo{
		Name:       asset.Name,
		Kind:       asset.Kind,
		Width:      asset.Width,
		Height:     asset.Height,
		FPS:        asset.FPS,
		FrameCount: asset.FrameCount,
		Size:       asset.Size,
		URL:        FileURL(asset.Name),
	}
}

type UploadResponse struct {
	Message    string           `json:"message"`
	Media      MediaInfo        `json:"media"`
	Processing *ProcessResponse `json:"processing,omitempty"`
}

// ModelRunInfo summarizes one model's run; InferenceTime is in seconds.
type ModelRunInfo struct {
	Model         string  `json:"model"`
	Table         string  `json:"table"`
	Records       int     `json:"records"`
	Frames        int     `json:"frames"`
	FailedFrames  int     `json:"failed_frames"`
	InferenceTime float64 `json:"inference_time"`
}

type ProcessResponse struct {
	Media   string         `json:"media"`
	Results []ModelRunInfo `json:"results"`
}

func NewProcessResponse(media string, runs []models.DetectionRun) ProcessResponse {
	resp := ProcessResponse{Media: media, Results: make([]ModelRunInfo, 0, len(runs))}
	for _, run := range runs {
		resp.Results = append(resp.Results, ModelRunInfo{
			Model:         run.ModelID,
			Table:         run.Table,
			Records:       run.Records,
			Frames:        run.Frames,
			FailedFrames:  run.FailedFrames,
			InferenceTime: seconds(run.Elapsed),
		})
	}
	return resp
}

type SearchGroup struct {
	Media   string                   `json:"media"`
	Model   string                   `json:"model"`
	Table   string                   `json:"table"`
	Records []models.DetectionRecord `json:"records"`
}

type SearchResponse struct {
	Query   string        `json:"query"`
	Results []SearchGroup `json:"results"`
}

// NewSearchResponse converts a search result; table names the file each group came from.
func NewSearchResponse(result models.SearchResult, table func(media, model string) string) SearchResponse {
	resp := SearchResponse{Query: result.Query, Results: make([]SearchGroup, 0, len(result.Groups))}
	for _, g := range result.Groups {
		resp.Results = append(resp.Results, SearchGroup{
			Media:   g.MediaID,
			Model:   g.ModelID,
			Table:   table(g.MediaID, g.ModelID),
			Records: g.Records,
		})
	}
	return resp
}

type LabelsResponse struct {
	Media  string   `json:"media"`
	Labels []string `json:"labels"`
}

type ArtifactInfo struct {
	Name          string  `json:"name"`
	URL           string  `json:"url"`
	Model         string  `json:"model,omitempty"`
	Records       int     `json:"records"`
	Frames        int     `json:"frames"`
	InferenceTime float64 `json:"inference_time"`
}

type RenderResponse struct {
	Media     string         `json:"media"`
	Query     string         `json:"query"`
	Artifacts []ArtifactInfo `json:"artifacts"`
}

func NewRenderResponse(media, query string, artifacts []*models.AnnotatedArtifact) RenderResponse {
	resp := RenderResponse{Media: media, Query: query, Artifacts: make([]ArtifactInfo, 0, len(artifacts))}
	for _, a := range artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactInfo{
			Name:          a.Name,
			URL:           FileURL(a.Name),
			Model:         a.ModelID,
			Records:       a.Records,
			Frames:        a.Frames,
			InferenceTime: seconds(a.Elapsed),
		})
	}
	return resp
}

type ModelsResponse struct {
	Models []string `json:"models"`
}

type CategoriesResponse struct {
	Model      string         `json:"model,omitempty"`
	Categories map[int]string `json:"categories"`
}

type ClearResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}
