package config

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the YAML seed of the model and person type catalog.
type CatalogFile struct {
	ModelTypes  []CatalogEntry `yaml:"model_types"  validate:"dive"`
	PersonTypes []CatalogEntry `yaml:"person_types" validate:"dive"`
}

// CatalogEntry is one catalog row. Entries are active unless stated otherwise.
type CatalogEntry struct {
	ID      int64  `yaml:"id"      validate:"required"`
	Name    string `yaml:"name"    validate:"required"`
	Complex bool   `yaml:"complex"`
	Active  *bool  `yaml:"active"`
}

func (e CatalogEntry) active() bool {
	return e.Active == nil || *e.Active
}

// LoadCatalog reads and validates a catalog file.
func LoadCatalog(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}

	seen := make(map[int64]bool, len(file.ModelTypes))
	for _, entry := range file.ModelTypes {
		if seen[entry.ID] {
			return nil, fmt.Errorf("invalid catalog %s: model type %d is listed twice", path, entry.ID)
		}

		seen[entry.ID] = true
	}

	return &file, nil
}

// Seed saves every entry of the file into the catalog.
func (f *CatalogFile) Seed(ctx context.Context, catalog persistence.Catalog) error {
	for _, entry := range f.ModelTypes {
		err := catalog.SaveModelType(ctx, &models.ModelType{
			ID:      entry.ID,
			Name:    entry.Name,
			Complex: entry.Complex,
			Active:  entry.active(),
		})
		if err != nil {
			return fmt.Errorf("failed to save model type %s: %w", entry.Name, err)
		}
	}

	for _, entry := range f.PersonTypes {
		err := catalog.SavePersonType(ctx, &models.PersonType{
			ID:     entry.ID,
			Name:   entry.Name,
			Active: entry.active(),
		})
		if err != nil {
			return fmt.Errorf("failed to save person type %s: %w", entry.Name, err)
		}
	}

	return nil
}
