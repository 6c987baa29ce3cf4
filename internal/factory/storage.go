package factory

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/config"
	storepkg "github.com/Dannytownkins/Ember-sub000/internal/store"
	storepg "github.com/Dannytownkins/Ember-sub000/internal/store/postgres"
	storesqlite "github.com/Dannytownkins/Ember-sub000/internal/store/sqlite"
)

// NewStore returns the store.Store selected by cfg.DBDriver and a closer
// for its connection pool.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, io.Closer, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return newSQLiteStore(ctx, cfg, log)
	case "postgres":
		return newPostgresStore(ctx, cfg, log)
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}

func newSQLiteStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, io.Closer, error) {
	if cfg.SQLitePath == "" {
		return nil, nil, fmt.Errorf("EMBER_SQLITE_PATH is required when DB_DRIVER=sqlite")
	}
	db, err := storesqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	// The local schema is always applied; there is no separate migration step.
	if err := storesqlite.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
	return storesqlite.NewWithDB(db), db, nil
}

func newPostgresStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, io.Closer, error) {
	if cfg.PostgresDSN == "" {
		return nil, nil, fmt.Errorf("EMBER_POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	db, err := storepg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := storepg.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info().Msg("schema applied")
	}
	return storepg.NewWithDB(db, storepg.Options{AppRole: cfg.PostgresAppRole}), db, nil
}
