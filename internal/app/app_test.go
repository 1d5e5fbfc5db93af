package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/episode-engine/internal/config"
	"github.com/jwebster45206/episode-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return &config.Config{
		RedisURL:         "redis://" + mr.Addr(),
		StorageBackend:   backend,
		SQLitePath:       filepath.Join(t.TempDir(), "episodes.db"),
		CatalogDir:       filepath.Join("..", "..", "data", "episodes"),
		MaxCascadeDepth:  16,
		MemoryLimit:      50,
		SeenEventLimit:   64,
		PrimaryWeight:    0.6,
		SecondaryWeight:  0.3,
		BackgroundWeight: 0.1,
	}
}

func TestBuild_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendRedis, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a, err := Build(context.Background(), testConfig(t, backend), testLogger)
			require.NoError(t, err)
			t.Cleanup(a.Close)

			assert.Equal(t, 2, a.Catalog.Len())
			require.NoError(t, a.Storage.Ping(context.Background()))

			switch backend {
			case config.BackendMemory:
				assert.IsType(t, &storage.MockStorage{}, a.Storage)
			case config.BackendRedis:
				assert.IsType(t, &storage.RedisStorage{}, a.Storage)
			case config.BackendSQLite:
				assert.IsType(t, &storage.SQLiteStorage{}, a.Storage)
			}
		})
	}
}

func TestBuild_UnknownBackend(t *testing.T) {
	_, err := Build(context.Background(), testConfig(t, "etcd"), testLogger)
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestBuild_MissingCatalog(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.CatalogDir = filepath.Join(t.TempDir(), "nope")
	_, err := Build(context.Background(), cfg, testLogger)
	assert.ErrorContains(t, err, "failed to load catalog")
}

func TestHandler_Routes(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t, config.BackendMemory), testLogger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/episodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/players/p1/episodes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
