package routes

import (
	"net/http"
	"os"
	"path/filepath"

	"featurerecall/internal/config"
	"featurerecall/internal/handlers"
	"featurerecall/internal/logger"
	"featurerecall/internal/middleware"
	"featurerecall/internal/services"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the API, file and log endpoints and wraps the mux
// with request logging and panic recovery.
func SetupRoutes(manager *services.Manager, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Pipeline endpoints
	mux.HandleFunc("POST /api/upload", handlers.UploadHandler(manager, cfg, logger))
	mux.HandleFunc("POST /api/process", handlers.ProcessHandler(manager, logger))
	mux.HandleFunc("POST /api/search", handlers.SearchHandler(manager, logger))
	mux.HandleFunc("POST /api/labels", handlers.LabelsHandler(manager, logger))
	mux.HandleFunc("POST /api/render", handlers.RenderHandler(manager, logger))
	mux.HandleFunc("POST /api/clear", handlers.ClearHandler(manager, logger))

	// Catalog endpoints
	mux.HandleFunc("GET /api/media", handlers.ListMediaHandler(manager, logger))
	mux.HandleFunc("GET /api/models", handlers.ModelsHandler(manager, logger))
	mux.HandleFunc("GET /api/categories", handlers.CategoriesHandler(manager, logger))
	mux.HandleFunc("GET /files/{name}", handlers.FileHandler(manager))
	mux.HandleFunc("GET /api/progress", handlers.ProgressWebsocketHandler(manager, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/info", handlers.ShowInfoLogsHandler(cfg))
	mux.HandleFunc("GET /logs/warning", handlers.ShowWarningLogsHandler(cfg))
	mux.HandleFunc("GET /logs/error", handlers.ShowErrorLogsHandler(cfg))

	mux.HandleFunc("POST /logs/info/clear", handlers.ClearLogsHandler(logger, "info.log"))
	mux.HandleFunc("POST /logs/warning/clear", handlers.ClearLogsHandler(logger, "warning.log"))
	mux.HandleFunc("POST /logs/error/clear", handlers.ClearLogsHandler(logger, "error.log"))

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("GET /", dynamicHTMLHandler)

	return middleware.RecoverMiddleware(logger)(middleware.LoggingMiddleware(logger)(mux))
}
