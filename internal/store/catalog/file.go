package catalog

import (
	"context"
	"fmt"
	"os"

	"order-workers/internal/models"

	"gopkg.in/yaml.v3"
)

// FileSource reads a YAML catalog:
//
//	catalog:
//	  - id: pepsi-600
//	    name: Pepsi 600ml
//	    aliases: [pepsi]
//	    active: true
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type catalogFile struct {
	Catalog []models.CatalogEntry `yaml:"catalog"`
}

func (f *FileSource) Load(context.Context) ([]models.CatalogEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCatalogUnavailable, f.path, err)
	}
	for i, e := range doc.Catalog {
		if e.ID == "" || e.Name == "" {
			return nil, fmt.Errorf("%w: %s: entry %d needs id and name", ErrCatalogUnavailable, f.path, i)
		}
	}
	return doc.Catalog, nil
}
