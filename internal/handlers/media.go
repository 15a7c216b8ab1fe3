package handlers

import (
	"net/http"

	"featurerecall/internal/dto"
	"featurerecall/internal/logger"
	"featurerecall/internal/services"
)

func ListMediaHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := manager.ListMedia()
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, overview, logger)
	}
}

func ModelsHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, dto.ModelsResponse{Models: manager.Models()}, logger)
	}
}

// CategoriesHandler serves the vocabulary of ?model=, or the default one.
func CategoriesHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := r.URL.Query().Get("model")
		categories, err := manager.Categories(model)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dto.CategoriesResponse{Model: model, Categories: categories}, logger)
	}
}

// FileHandler serves a stored media file or artifact by bare name.
func FileHandler(manager *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := manager.GetSession().Resolve(r.PathValue("name"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}
