package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 16, cfg.MaxCascadeDepth)
	assert.InDelta(t, 0.6, cfg.PrimaryWeight, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.WorkerPollTimeout)
	assert.Equal(t, 30*time.Second, cfg.PlayerLockTTL)
	assert.Equal(t, 10*time.Second, cfg.PlayerLockWait)
}

func TestParse_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("STORAGE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/e.db")
	t.Setenv("MAX_CASCADE_DEPTH", "4")
	t.Setenv("SECONDARY_WEIGHT", "0.25")
	t.Setenv("WORKER_POLL_TIMEOUT", "2s")
	t.Setenv("PLAYER_LOCK_WAIT", "250ms")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "/tmp/e.db", cfg.SQLitePath)
	assert.Equal(t, 4, cfg.MaxCascadeDepth)
	assert.InDelta(t, 0.25, cfg.SecondaryWeight, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.WorkerPollTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PlayerLockWait)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown backend", "STORAGE_BACKEND", "postgres"},
		{"weight above one", "PRIMARY_WEIGHT", "1.5"},
		{"zero cascade", "MAX_CASCADE_DEPTH", "0"},
		{"not a number", "MEMORY_LIMIT", "lots"},
		{"zero lock ttl", "PLAYER_LOCK_TTL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}
