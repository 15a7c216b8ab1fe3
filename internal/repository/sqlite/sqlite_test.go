package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"featurerecall/internal/models"
	"featurerecall/internal/repository"
)

var (
	_ repository.MediaRepository    = (*MediaRepository)(nil)
	_ repository.RunRepository      = (*RunRepository)(nil)
	_ repository.ArtifactRepository = (*ArtifactRepository)(nil)
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ========================================
// Database Integration Tests
// ========================================

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestDatabase_MigrationIsRepeatable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := New(dbPath)
		if err != nil {
			t.Fatalf("Open #%d failed: %v", i+1, err)
		}
		db.Close()
	}
}

// ========================================
// Media Repository Tests
// ========================================

func TestMediaRepository_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMediaRepository(db)

	asset := &models.MediaAsset{
		Name: "cat.jpg", Kind: models.KindImage, Width: 640, Height: 480,
		FrameCount: 1, Path: "/data/media/cat.jpg", Size: 2048,
	}
	id, err := repo.Upsert(asset)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	asset.Width = 800
	again, err := repo.Upsert(asset)
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if again != id {
		t.Errorf("Expected re-upload to keep id %d, got %d", id, again)
	}

	got, err := repo.GetByName("cat.jpg")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected media, got nil")
	}
	if got.Width != 800 || got.Kind != models.KindImage || got.Size != 2048 {
		t.Errorf("Unexpected media row: %+v", got)
	}
}

func TestMediaRepository_GetByNameMissing(t *testing.T) {
	repo := NewMediaRepository(setupTestDB(t))

	got, err := repo.GetByName("missing.jpg")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil, got %+v", got)
	}
}

func TestMediaRepository_GetAllAndDeleteAll(t *testing.T) {
	repo := NewMediaRepository(setupTestDB(t))

	base := time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)
	for i, name := range []string{"a.jpg", "b.mp4"} {
		kind := models.KindImage
		if name == "b.mp4" {
			kind = models.KindVideo
		}
		_, err := repo.Upsert(&models.MediaAsset{Name: name, Kind: kind, Path: name, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Upsert %s failed: %v", name, err)
		}
	}

	all, err := repo.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 media, got %d", len(all))
	}
	if all[0].Name != "b.mp4" {
		t.Errorf("Expected newest first, got %s", all[0].Name)
	}

	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("Second DeleteAll failed: %v", err)
	}
	all, err = repo.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected empty catalog, got %d rows", len(all))
	}
}

// ========================================
// Run Repository Tests
// ========================================

func TestRunRepository_RerunReplaces(t *testing.T) {
	repo := NewRunRepository(setupTestDB(t))

	run := &models.DetectionRun{
		MediaName: "clip.mp4", ModelID: "m1", Table: "m1_detections_clip.mp4.csv",
		Records: 3, Frames: 10, FailedFrames: 1, Elapsed: 1500 * time.Millisecond,
	}
	if _, err := repo.Upsert(run); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	run.Records = 5
	run.FailedFrames = 0
	if _, err := repo.Upsert(run); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if _, err := repo.Upsert(&models.DetectionRun{MediaName: "clip.mp4", ModelID: "a-model", Table: "t"}); err != nil {
		t.Fatalf("Upsert other model failed: %v", err)
	}

	runs, err := repo.GetByMedia("clip.mp4")
	if err != nil {
		t.Fatalf("GetByMedia failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ModelID != "a-model" {
		t.Errorf("Expected runs ordered by model, got %s first", runs[0].ModelID)
	}
	if runs[1].Records != 5 || runs[1].FailedFrames != 0 {
		t.Errorf("Expected rerun values, got %+v", runs[1])
	}
	if runs[1].Elapsed != 1500*time.Millisecond {
		t.Errorf("Expected elapsed 1.5s, got %v", runs[1].Elapsed)
	}

	if err := repo.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	runs, _ = repo.GetByMedia("clip.mp4")
	if len(runs) != 0 {
		t.Errorf("Expected no runs after DeleteAll, got %d", len(runs))
	}
}

// ========================================
// Artifact Repository Tests
// ========================================

func TestArtifactRepository_Upsert(t *testing.T) {
	repo := NewArtifactRepository(setupTestDB(t))

	artifact := &models.AnnotatedArtifact{
		Name: "annotated_m1_cat.jpg", MediaName: "cat.jpg", ModelID: "m1",
		Query: "cat", Path: "/data/artifacts/annotated_m1_cat.jpg", Records: 1, Frames: 1,
	}
	if _, err := repo.Upsert(artifact); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	artifact.Query = "CAT"
	if _, err := repo.Upsert(artifact); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if _, err := repo.Upsert(&models.AnnotatedArtifact{Name: "annotated_cat.jpg", MediaName: "cat.jpg", Query: "cat", Path: "p"}); err != nil {
		t.Fatalf("Upsert aggregate failed: %v", err)
	}

	artifacts, err := repo.GetByMedia("cat.jpg")
	if err != nil {
		t.Fatalf("GetByMedia failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("Expected 2 artifacts, got %d", len(artifacts))
	}
	if artifacts[0].Name != "annotated_cat.jpg" || artifacts[0].ModelID != "" {
		t.Errorf("Unexpected aggregate artifact: %+v", artifacts[0])
	}
	if artifacts[1].Query != "CAT" {
		t.Errorf("Expected replaced query, got %s", artifacts[1].Query)
	}
}
