// Package catalog loads the product catalog the matcher scores against.
package catalog

import (
	"context"
	"errors"

	"order-workers/internal/models"
)

var ErrCatalogUnavailable = errors.New("CATALOG_LOAD_FAILED")

// Source returns the current catalog. Implementations are read only.
type Source interface {
	Load(ctx context.Context) ([]models.CatalogEntry, error)
}

// Static serves a fixed catalog.
type Static []models.CatalogEntry

func (s Static) Load(context.Context) ([]models.CatalogEntry, error) {
	return s, nil
}
