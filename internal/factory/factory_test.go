package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dannytownkins/Ember-sub000/internal/config"
	"github.com/Dannytownkins/Ember-sub000/internal/store/storetest"
)

func TestNewStore_SQLite(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "ember.db")
	require.NoError(t, cfg.ResolveDefaults())

	st, closer, err := NewStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	_, seeded := storetest.SeedCapture(t, st)
	assert.NotEmpty(t, seeded)
	assert.NoError(t, closer.Close())
}

func TestNewStore_MemoryIsNotADriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "memory"

	_, _, err := NewStore(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown DB_DRIVER")
}

func TestNewStore_PostgresNeedsDSN(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "postgres"

	_, _, err := NewStore(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "POSTGRES_DSN")
}

func TestNewStore_UnknownDriver(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.DBDriver = "spanner"

	_, _, err := NewStore(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewExtractor(t *testing.T) {
	cfg := config.NewForTesting()
	_, err := NewExtractor(cfg, zerolog.Nop())
	assert.Error(t, err, "no key and no base url")

	cfg.OpenAIBaseURL = "http://localhost:11434/v1"
	ex, err := NewExtractor(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, ex)
}

func TestNewTokenCounter(t *testing.T) {
	cfg := config.NewForTesting()
	cfg.TokenEncoding = "no_such_encoding"
	c := NewTokenCounter(cfg, zerolog.Nop())
	assert.Equal(t, 2, c.Count("12345678"), "falls back to the estimate")
}
