package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"featurerecall/internal/config"
	"featurerecall/internal/logger"
	"featurerecall/internal/models"
	"featurerecall/internal/repository/sqlite"
	"featurerecall/internal/services"
	"featurerecall/internal/services/detection"
	"featurerecall/internal/services/storage"
	"featurerecall/internal/services/vocabulary"
	"featurerecall/internal/services/websocket"
)

// noDetectors satisfies services.Detectors; reindexing never runs a model.
type noDetectors struct{}

func (noDetectors) Get(id string) (detection.Detector, error) { return nil, &models.UnknownModelError{Model: id} }
func (noDetectors) IDs() []string { return nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dataDir := flag.String("data", cfg.DataDirectory, "Session directory containing media/, tables/ and artifacts/")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	flag.Parse()

	fmt.Printf("Reindexing %s into database %s\n", *dataDir, *dbPath)

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	session, err := storage.NewSession(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}

	nop := logger.NewNop()
	manager, err := services.NewManager(cfg, session, noDetectors{}, vocabulary.NewSet(nil), websocket.NewHubService(nop),
		services.Repositories{
			Media:     sqlite.NewMediaRepository(db),
			Runs:      sqlite.NewRunRepository(db),
			Artifacts: sqlite.NewArtifactRepository(db),
		}, nop)
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	indexed, err := manager.Reindex(context.Background())
	if err != nil {
		log.Fatalf("Reindex failed after %d media file(s): %v", indexed, err)
	}
	fmt.Printf("✅ Successfully reindexed %d media file(s)\n", indexed)

	overview, err := manager.ListMedia()
	if err == nil {
		fmt.Printf("\n📊 Catalog:\n")
		for _, m := range overview {
			fmt.Printf("   - %s (%s): %d run(s), %d artifact(s)\n", m.Name, m.Kind, len(m.Runs), len(m.Artifacts))
		}
	}
}
