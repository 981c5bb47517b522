package schedule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aura-signage/backend/internal/models"
)

// File is a static advertisement list kept on disk, e.g. for a standalone display.
type File struct {
	Advertisements []models.Advertisement `yaml:"advertisements"`
}

// LoadFile reads a YAML advertisement list and validates every entry.
func LoadFile(path string) ([]models.Advertisement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ads file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse ads file: %w", err)
	}
	seen := make(map[string]bool, len(f.Advertisements))
	for i, ad := range f.Advertisements {
		if err := ad.Validate(); err != nil {
			return nil, fmt.Errorf("advertisement %d (%s): %w", i, ad.ID, err)
		}
		if seen[ad.ID] {
			return nil, fmt.Errorf("advertisement %d: duplicate id %q", i, ad.ID)
		}
		seen[ad.ID] = true
	}
	return f.Advertisements, nil
}
