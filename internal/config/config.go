package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultModelID is used when no models file is present.
const DefaultModelID = "ssd-mobilenet"

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ModelConfig describes one detection model loaded at startup.
type ModelConfig struct {
	ID             string `yaml:"id"`
	Format         string `yaml:"format"` // "ssd" or "yolo"
	ModelPath      string `yaml:"model_path"`
	ConfigPath     string `yaml:"config_path"`
	VocabularyPath string `yaml:"vocabulary_path"` // optional, falls back to Config.VocabularyPath
	InputSize      int    `yaml:"input_size"`
	Backend        string `yaml:"backend"` // "default", "opencv", "cuda"
	Target         string `yaml:"target"`  // "cpu", "cuda", "opencl"
}

type modelsFile struct {
	Models []ModelConfig `yaml:"models"`
}

type Config struct {
	Port             int
	DataDirectory    string
	DatabasePath     string
	LogDirectory     string
	LogLevel         string
	ScoreThreshold   float64
	VocabularyPath   string
	ModelsFile       string
	Models           []ModelConfig
	MaxUploadSize    int64 // bytes
	DetectionWorkers int   // models detected in parallel per request
	ProgressEvery    int   // broadcast progress every N frames
	ProcessOnUpload  bool  // run every model right after an upload unless the request says otherwise
}

// Load reads .env (if present), the environment and the optional models file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", filepath.Join(".", "data"))
	cfg := &Config{
		Port:             getEnvAsInt("PORT", 8080),
		DataDirectory:    dataDir,
		DatabasePath:     getEnv("DB_PATH", filepath.Join(dataDir, "catalog.db")),
		LogDirectory:     getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ScoreThreshold:   getEnvAsFloat("SCORE_THRESHOLD", 0.8),
		VocabularyPath:   getEnv("VOCABULARY_PATH", filepath.Join(".", "config", "instances_val2017.json")),
		ModelsFile:       getEnv("MODELS_FILE", filepath.Join(".", "config", "models.yaml")),
		MaxUploadSize:    getEnvAsInt64("MAX_UPLOAD_SIZE_MB", 200) << 20,
		DetectionWorkers: getEnvAsInt("DETECTION_WORKERS", 2),
		ProgressEvery:    getEnvAsInt("PROGRESS_EVERY", 10),
		ProcessOnUpload:  getEnvAsBool("PROCESS_ON_UPLOAD", false),
	}

	models, err := loadModels(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		models = []ModelConfig{{
			ID:         DefaultModelID,
			Format:     "ssd",
			ModelPath:  getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
			ConfigPath: getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		}}
	}
	cfg.Models = models
	cfg.applyModelDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadModels parses the YAML models file; a missing file yields no models.
func loadModels(path string) ([]ModelConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}

	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse models file %s: %w", path, err)
	}
	return file.Models, nil
}

func (c *Config) applyModelDefaults() {
	for i := range c.Models {
		m := &c.Models[i]
		m.Format = strings.ToLower(m.Format)
		if m.Format == "" {
			m.Format = "ssd"
		}
		if m.InputSize == 0 {
			if m.Format == "yolo" {
				m.InputSize = 640
			} else {
				m.InputSize = 300
			}
		}
		if m.VocabularyPath == "" {
			m.VocabularyPath = c.VocabularyPath
		}
		if m.Backend == "" {
			m.Backend = "default"
		}
		if m.Target == "" {
			m.Target = "cpu"
		}
	}
	if c.DetectionWorkers <= 0 {
		c.DetectionWorkers = 1
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 1
	}
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("SCORE_THRESHOLD must be within [0,1], got %v", c.ScoreThreshold)
	}
	seen := make(map[string]bool)
	for _, m := range c.Models {
		if !modelIDPattern.MatchString(m.ID) {
			return fmt.Errorf("model id %q must match %s", m.ID, modelIDPattern)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if m.Format != "ssd" && m.Format != "yolo" {
			return fmt.Errorf("model %q: unsupported format %q", m.ID, m.Format)
		}
	}
	return nil
}

// Model returns the configuration for the given id.
func (c *Config) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
