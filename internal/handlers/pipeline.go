package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"featurerecall/internal/config"
	"featurerecall/internal/dto"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/services"
	"featurerecall/internal/services/storage"
)

// UploadHandler stores a multipart "file" and optionally runs detection on it.
// Form fields: kind (image|video, inferred from the extension when absent),
// process (bool) and models (comma separated ids).
func UploadHandler(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, fmt.Errorf("%w: %v", dto.ErrInvalidRequest, err), logger)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, fmt.Errorf("%w: no file part", dto.ErrInvalidRequest), logger)
			return
		}
		defer file.Close()

		if header.Filename == "" {
			writeError(w, fmt.Errorf("%w: no selected file", dto.ErrInvalidRequest), logger)
			return
		}

		kind := models.MediaKind(r.FormValue("kind"))
		if kind != "" && !kind.Valid() {
			writeError(w, fmt.Errorf("%w: kind must be image or video", dto.ErrInvalidRequest), logger)
			return
		}

		process := cfg.ProcessOnUpload
		if v := r.FormValue("process"); v != "" {
			if process, err = strconv.ParseBool(v); err != nil {
				writeError(w, fmt.Errorf("%w: process must be a boolean, got %q", dto.ErrInvalidRequest, v), logger)
				return
			}
		}
		modelIDs := dto.SplitList(r.FormValue("models"))
		if err := dto.ValidateModels(modelIDs); err != nil {
			writeError(w, err, logger)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", dto.ErrInvalidRequest, err), logger)
			return
		}

		asset, err := manager.Upload(header.Filename, data, kind)
		if err != nil {
			writeError(w, err, logger)
			return
		}

		resp := dto.UploadResponse{
			Message: "File successfully uploaded",
			Media:   dto.NewMediaInfo(asset),
		}

		if process {
			runs, err := manager.Process(r.Context(), asset.Name, modelIDs)
			if err != nil {
				writeError(w, err, logger)
				return
			}
			processed := dto.NewProcessResponse(asset.Name, runs)
			resp.Processing = &processed
		}

		writeJSON(w, http.StatusCreated, resp, logger)
	}
}

func ProcessHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.ProcessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err, logger)
			return
		}

		runs, err := manager.Process(r.Context(), req.Media, req.Models)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.NewProcessResponse(req.Media, runs), logger)
	}
}

func SearchHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.SearchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err, logger)
			return
		}

		result, err := manager.Search(req.Media, req.Models, req.Query)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.NewSearchResponse(result, tableName), logger)
	}
}

func LabelsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.LabelsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err, logger)
			return
		}

		labels, err := manager.Labels(req.Media, req.Models)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.LabelsResponse{Media: req.Media, Labels: labels}, logger)
	}
}

func RenderHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.RenderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err, logger)
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, err, logger)
			return
		}

		artifacts, err := manager.Render(r.Context(), req.Media, req.Models, req.Query, req.Aggregate)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.NewRenderResponse(req.Media, req.Query, artifacts), logger)
	}
}

// ClearHandler removes every media file, table and artifact. Repeating it is harmless.
func ClearHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := manager.Clear()
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.ClearResponse{Message: "All files cleared successfully", Removed: removed}, logger)
	}
}

func tableName(media, model string) string {
	return storage.NameFor(media, model, storage.PurposeDetections)
}
