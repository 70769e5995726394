package main

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/slotdesk/libs/db"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage/migrations"
)

func openStore(ctx context.Context, cfg storeConfig) (storage.Store, error) {
	if cfg.Driver == driverSQLite {
		return storage.OpenSQLite(ctx, cfg.SQLitePath)
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return nil, err
	}
	return storage.NewPostgresStore(pool), nil
}

// migrate brings the schema up to date. SQLite applies its embedded schema on open.
func migrate(ctx context.Context, cfg storeConfig, logger *slog.Logger) error {
	if cfg.Driver == driverSQLite {
		store, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info("sqlite schema applied", "path", cfg.SQLitePath)
		return store.Close()
	}
	if err := db.Migrate(cfg.DatabaseURL, migrations.Postgres, "postgres"); err != nil {
		return err
	}
	logger.Info("postgres migrations applied")
	return nil
}
