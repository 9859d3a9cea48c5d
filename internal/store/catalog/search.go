package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"order-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// maxCatalogSize bounds one search page; catalogs are small and read whole.
const maxCatalogSize = 5000

// SearchSource reads the catalog from an Elasticsearch index whose
// documents use the CatalogEntry JSON shape.
type SearchSource struct {
	client *elasticsearch.Client
	index  string
}

func NewSearchSource(client *elasticsearch.Client, index string) *SearchSource {
	return &SearchSource{client: client, index: index}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string              `json:"_id"`
			Source models.CatalogEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *SearchSource) Load(ctx context.Context) ([]models.CatalogEntry, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"active": true},
		},
		"sort": []interface{}{
			map[string]interface{}{"id": "asc"},
		},
	})

	size := maxCatalogSize
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", ErrCatalogUnavailable, s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("%w: search %s: %s", ErrCatalogUnavailable, s.index, res.String())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", ErrCatalogUnavailable, err)
	}

	entries := make([]models.CatalogEntry, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		e := hit.Source
		if e.ID == "" {
			e.ID = hit.ID
		}
		entries = append(entries, e)
	}
	return entries, nil
}
