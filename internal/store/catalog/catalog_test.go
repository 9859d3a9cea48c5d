package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"order-workers/internal/common/logger"
	"order-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []models.CatalogEntry{
	{ID: "agua-1l", Name: "Agua Natural 1L", Aliases: []string{"agua", "agua natural"}, Active: true},
	{ID: "pepsi-600", Name: "Pepsi 600ml", CommonMisspellings: []string{"pecsi"}, Keywords: []string{"refresco"}, Active: true},
}

func setupMockDB(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var catalogColumns = []string{"id", "name", "aliases", "ai_training_examples", "common_misspellings", "keywords", "active"}

func TestPostgresStore_Load(t *testing.T) {
	store, mock := setupMockDB(t)

	rows := sqlmock.NewRows(catalogColumns).
		AddRow("agua-1l", "Agua Natural 1L", `{agua,"agua natural"}`, "{}", "{}", "{}", true).
		AddRow("pepsi-600", "Pepsi 600ml", "{}", "{}", "{pecsi}", "{refresco}", true)
	mock.ExpectQuery(`SELECT id, name, aliases, ai_training_examples, common_misspellings, keywords, active\s+FROM catalog_entries\s+WHERE active = true`).
		WillReturnRows(rows)

	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, []string{"agua", "agua natural"}, entries[0].Aliases)
	assert.Empty(t, entries[0].Keywords)
	assert.Equal(t, []string{"pecsi"}, entries[1].CommonMisspellings)
	assert.Equal(t, []string{"refresco"}, entries[1].Keywords)
	assert.True(t, entries[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadError(t *testing.T) {
	store, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT id, name`).WillReturnError(errors.New("connection reset"))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func newESClient(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestSearchSource_Load(t *testing.T) {
	client := newESClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/catalog/_search", r.URL.Path)
		assert.Equal(t, "5000", r.URL.Query().Get("size"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"active":true`)

		_, _ = w.Write([]byte(`{
			"hits": {
				"total": {"value": 2},
				"hits": [
					{"_id": "agua-1l", "_source": {"id": "agua-1l", "name": "Agua Natural 1L", "aliases": ["agua"], "active": true}},
					{"_id": "coca-600", "_source": {"name": "Coca-Cola 600ml", "commonMisspellings": ["koka"], "active": true}}
				]
			}
		}`))
	})

	entries, err := NewSearchSource(client, "catalog").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "agua-1l", entries[0].ID)
	assert.Equal(t, []string{"agua"}, entries[0].Aliases)
	assert.Equal(t, "coca-600", entries[1].ID)
	assert.Equal(t, []string{"koka"}, entries[1].CommonMisspellings)
}

func TestSearchSource_IndexMissing(t *testing.T) {
	client := newESClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
	})

	_, err := NewSearchSource(client, "catalog").Load(context.Background())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	assert.Contains(t, err.Error(), "index_not_found_exception")
}

type countingSource struct {
	entries []models.CatalogEntry
	err     error
	calls   int
}

func (c *countingSource) Load(context.Context) ([]models.CatalogEntry, error) {
	c.calls++
	return c.entries, c.err
}

func TestCachedSource_MissThenFill(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	next := &countingSource{entries: testCatalog}
	src := NewCachedSource(next, rdb, 5*time.Minute, logger.NewTestLogger(t))

	data, err := json.Marshal(testCatalog)
	require.NoError(t, err)

	mock.ExpectGet(DefaultCacheKey).RedisNil()
	mock.ExpectSet(DefaultCacheKey, data, 5*time.Minute).SetVal("OK")

	entries, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCatalog, entries)
	assert.Equal(t, 1, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedSource_Hit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	next := &countingSource{}
	src := NewCachedSource(next, rdb, 5*time.Minute, logger.NewTestLogger(t))

	data, err := json.Marshal(testCatalog)
	require.NoError(t, err)
	mock.ExpectGet(DefaultCacheKey).SetVal(string(data))

	entries, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCatalog, entries)
	assert.Zero(t, next.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedSource_RedisDownStillLoads(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	next := &countingSource{entries: testCatalog}
	src := NewCachedSource(next, rdb, time.Minute, logger.NewTestLogger(t))

	data, err := json.Marshal(testCatalog)
	require.NoError(t, err)
	mock.ExpectGet(DefaultCacheKey).SetErr(errors.New("dial tcp: connection refused"))
	mock.ExpectSet(DefaultCacheKey, data, time.Minute).SetErr(errors.New("dial tcp: connection refused"))

	entries, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testCatalog, entries)
}

func TestCachedSource_NextFails(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	boom := errors.New("db down")
	src := NewCachedSource(&countingSource{err: boom}, rdb, time.Minute, logger.NewTestLogger(t))

	mock.ExpectGet(DefaultCacheKey).RedisNil()

	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedSource_Invalidate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	src := NewCachedSource(Static(testCatalog), rdb, time.Minute, logger.NewTestLogger(t))

	mock.ExpectDel(DefaultCacheKey).SetVal(1)
	require.NoError(t, src.Invalidate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog:
  - id: aceite-canola
    name: Aceite Vegetal Canola 1L
    aliases: [canola]
    ai_training_examples: ["aceite para freír"]
    keywords: [aceite, cocina]
    active: true
`), 0o600))

	entries, err := NewFileSource(path).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Aceite Vegetal Canola 1L", entries[0].Name)
	assert.Equal(t, []string{"aceite para freír"}, entries[0].AITrainingExamples)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("catalog:\n  - name: sin id\n"), 0o600))
	_, err = NewFileSource(bad).Load(context.Background())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)

	_, err = NewFileSource(filepath.Join(dir, "missing.yaml")).Load(context.Background())
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
}
