package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedMigrations embed.FS

// runMigrations applies the embedded migrations in dir through driver.
func runMigrations(dir, dbName string, driver database.Driver, logger *slog.Logger) (*migrate.Migrate, error) {
	fs, err := iofs.New(embedMigrations, "migrations/"+dir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", fs, dbName, driver)
	if err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}

	err = m.Up()
	switch {
	case err == nil:
		version, _, _ := m.Version()
		logger.Info("database migration complete", "driver", dbName, "version", version)
	case errors.Is(err, migrate.ErrNoChange):
		logger.Debug("no database migration required", "driver", dbName)
	default:
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return m, nil
}
