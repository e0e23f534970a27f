package cmd

import (
	"database/sql"
	"fmt"

	"cvtriage/internal/config"
	"cvtriage/internal/secrets"
	"cvtriage/internal/storage"
)

// openStore connects to the configured database and runs migrations.
func openStore(cfg config.DatabaseConfig) (*sql.DB, *storage.Store, error) {
	password, err := secrets.LoadOptional(secrets.Source{
		Name:  "database password",
		Value: cfg.Password,
		File:  cfg.PasswordFile,
	})
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(cfg, password)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, storage.New(db, cfg.Driver, storage.WithAtomicIncrement(cfg.AtomicIncrement)), nil
}
