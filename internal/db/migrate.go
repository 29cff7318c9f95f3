package db

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// RunMigrations applies every pending migration from migrationsPath against
// the configured database. Already-applied migrations are skipped.
func RunMigrations(config Config, migrationsPath string, logger *zap.Logger) error {
	m, err := migrate.New("file://"+migrationsPath, config.URL())
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil && logger != nil {
			logger.Warn("failed to close migration source", zap.Error(sourceErr))
		}
		if dbErr != nil && logger != nil {
			logger.Warn("failed to close migration database handle", zap.Error(dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Info("database schema already up to date")
			}
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if logger != nil {
		logger.Info("database migrations applied", zap.String("path", migrationsPath))
	}
	return nil
}
