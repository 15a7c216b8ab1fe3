package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/repository/sqlite"
	"featurerecall/internal/routes"
	"featurerecall/internal/services"
	"featurerecall/internal/services/ai"
	"featurerecall/internal/services/storage"
	"featurerecall/internal/services/vocabulary"
	"featurerecall/internal/services/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	registry   *ai.Registry
	hubService *websocket.HubService
	manager    *services.Manager
}

// NewApp wires config, logger, catalog, vocabularies, models and the pipeline manager.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	session, err := storage.NewSession(cfg.DataDirectory)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	vocabularies, err := LoadVocabularies(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := ai.NewRegistry(cfg.Models, log)
	hub := websocket.NewHubService(log)

	mng, err := services.NewManager(cfg, session, registry, vocabularies, hub, services.Repositories{
		Media:     sqlite.NewMediaRepository(db),
		Runs:      sqlite.NewRunRepository(db),
		Artifacts: sqlite.NewArtifactRepository(db),
	}, log)
	if err != nil {
		registry.Close()
		db.Close()
		return nil, err
	}

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		registry:   registry,
		hubService: hub,
		manager:    mng,
	}, nil
}

// LoadVocabularies loads the default vocabulary and one per model, reading each file once.
func LoadVocabularies(cfg *config.Config, log *logger.Logger) (*vocabulary.Set, error) {
	byPath := make(map[string]*vocabulary.Vocabulary)
	load := func(path string) (*vocabulary.Vocabulary, error) {
		if v, ok := byPath[path]; ok {
			return v, nil
		}
		v, err := vocabulary.Load(path)
		if err != nil {
			return nil, err
		}
		byPath[path] = v
		log.Info("Loaded %d categories from %s", v.Len(), path)
		return v, nil
	}

	fallback, err := load(cfg.VocabularyPath)
	if err != nil {
		return nil, err
	}
	set := vocabulary.NewSet(fallback)
	for _, m := range cfg.Models {
		v, err := load(m.VocabularyPath)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.ID, err)
		}
		set.Add(m.ID, v)
	}
	return set, nil
}

// Run serves HTTP until SIGINT/SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	go a.hubService.Run()
	defer a.close()

	router := routes.SetupRoutes(a.manager, a.config, a.logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("🚀 Feature Recall Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("📁 Data: %s\n", a.config.DataDirectory)
	fmt.Printf("🤖 Models: %v\n", a.registry.IDs())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("🛑 Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (a *App) close() {
	a.hubService.Stop()
	a.registry.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
	a.logger.Sync()
}
