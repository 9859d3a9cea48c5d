package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"order-workers/internal/models"

	"github.com/lib/pq"
)

const loadCatalogQuery = `SELECT id, name, aliases, ai_training_examples, common_misspellings, keywords, active
FROM catalog_entries
WHERE active = true
ORDER BY id`

// PostgresStore reads catalog_entries. Text array columns map to the
// entry's string slices.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, loadCatalogQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query catalog: %v", ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		var e models.CatalogEntry
		var aliases, examples, misspellings, keywords pq.StringArray
		if err := rows.Scan(&e.ID, &e.Name, &aliases, &examples, &misspellings, &keywords, &e.Active); err != nil {
			return nil, fmt.Errorf("%w: scan catalog entry: %v", ErrCatalogUnavailable, err)
		}
		e.Aliases = aliases
		e.AITrainingExamples = examples
		e.CommonMisspellings = misspellings
		e.Keywords = keywords
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read catalog: %v", ErrCatalogUnavailable, err)
	}
	return entries, nil
}
