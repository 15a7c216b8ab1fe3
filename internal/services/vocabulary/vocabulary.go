package vocabulary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Unknown is the label used for class ids missing from the vocabulary.
const Unknown = "unknown"

// Vocabulary maps numeric class ids to category names. It is never mutated after loading.
type Vocabulary struct {
	names map[int]string
}

type cocoAnnotations struct {
	Categories []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
}

// New builds a vocabulary from an id->name map.
func New(names map[int]string) *Vocabulary {
	copied := make(map[int]string, len(names))
	for id, name := range names {
		copied[id] = name
	}
	return &Vocabulary{names: copied}
}

// Load reads a COCO annotation file (.json) or a names file (one name per line, zero-based ids).
func Load(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return parseCOCO(data)
	}
	return parseNames(data)
}

func parseCOCO(data []byte) (*Vocabulary, error) {
	var ann cocoAnnotations
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, fmt.Errorf("failed to parse COCO categories: %w", err)
	}
	if len(ann.Categories) == 0 {
		return nil, fmt.Errorf("no categories found in COCO annotations")
	}

	names := make(map[int]string, len(ann.Categories))
	for _, cat := range ann.Categories {
		names[cat.ID] = cat.Name
	}
	return &Vocabulary{names: names}, nil
}

func parseNames(data []byte) (*Vocabulary, error) {
	names := make(map[int]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	id := 0
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names[id] = name
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read names file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("names file is empty")
	}
	return &Vocabulary{names: names}, nil
}

// Lookup returns the category name for id, or Unknown.
func (v *Vocabulary) Lookup(id int) string {
	if v == nil {
		return Unknown
	}
	if name, ok := v.names[id]; ok {
		return name
	}
	return Unknown
}

// Len returns the number of categories.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.names)
}

// Categories returns a copy of the id->name mapping.
func (v *Vocabulary) Categories() map[int]string {
	out := make(map[int]string, v.Len())
	if v == nil {
		return out
	}
	for id, name := range v.names {
		out[id] = name
	}
	return out
}

// Set holds the vocabulary of every configured model.
type Set struct {
	fallback *Vocabulary
	byModel  map[string]*Vocabulary
}

// NewSet creates a Set with a fallback used by models without their own vocabulary.
func NewSet(fallback *Vocabulary) *Set {
	return &Set{fallback: fallback, byModel: make(map[string]*Vocabulary)}
}

// Add registers a model's vocabulary. Only used while wiring at startup.
func (s *Set) Add(modelID string, v *Vocabulary) {
	s.byModel[modelID] = v
}

// For returns the vocabulary for a model.
func (s *Set) For(modelID string) *Vocabulary {
	if v, ok := s.byModel[modelID]; ok {
		return v
	}
	return s.fallback
}
