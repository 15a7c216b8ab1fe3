package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"featurerecall/internal/dto"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	var (
		invalidQuery *models.InvalidQueryError
		invalidName  *models.InvalidNameError
		noMatch      *models.NoMatchError
		notStored    *models.StoreNotFoundError
		noMedia      *models.MediaNotFoundError
		unknownModel *models.UnknownModelError
		ingestion    *models.IngestionError
	)
	switch {
	case errors.Is(err, dto.ErrInvalidRequest), errors.As(err, &invalidQuery), errors.As(err, &invalidName):
		return http.StatusBadRequest
	case errors.As(err, &noMatch), errors.As(err, &notStored), errors.As(err, &noMedia), errors.As(err, &unknownModel):
		return http.StatusNotFound
	case errors.As(err, &ingestion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error, logger *logger.Logger) {
	status := statusFor(err)
	resp := dto.ErrorResponse{Error: err.Error()}

	var noMatch *models.NoMatchError
	if errors.As(err, &noMatch) {
		resp.Query = noMatch.Query
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	} else {
		logger.Warning("Request rejected (%d): %v", status, err)
	}
	writeJSON(w, status, resp, logger)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", dto.ErrInvalidRequest, err)
	}
	return nil
}
