// Package migrations applies the versioned SQL files under the migrations
// directory with golang-migrate.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Runner owns a dedicated connection pool; closing the migrator closes it.
type Runner struct {
	dsn      string
	dir      string
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(cfg config.DatabaseConfig, log *logger.Logger) *Runner {
	return &Runner{dsn: cfg.DSN, dir: cfg.MigrationsDir, logger: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}
	if _, err := os.Stat(r.dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.dir)
	}
	db, err := sql.Open("postgres", r.dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+r.dir, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = m
	return nil
}

// Up applies pending migrations. A dirty schema is forced back to its last
// recorded version first so the failed step is retried.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		target := int(version) - 1
		if target < 1 {
			target = database.NilVersion
		}
		r.logger.Warn("MIGRATE", fmt.Sprintf("Schema version %d is dirty, forcing %d", version, target))
		if err := r.migrator.Force(target); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Down rolls back steps migrations, or all of them when steps <= 0.
func (r *Runner) Down(steps int) error {
	if err := r.init(); err != nil {
		return err
	}
	var err error
	if steps > 0 {
		err = r.migrator.Steps(-steps)
	} else {
		err = r.migrator.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	r.logVersion()
	return nil
}

// Version returns the applied schema version and whether it is dirty. A
// fresh database reports 0.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	v, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (r *Runner) logVersion() {
	v, dirty, err := r.migrator.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		r.logger.LogDatabase("MIGRATE", "schema", "no migrations applied")
	case err != nil:
		r.logger.Warn("MIGRATE", fmt.Sprintf("Failed to read schema version: %v", err))
	default:
		r.logger.LogDatabase("MIGRATE", "schema", fmt.Sprintf("version=%d dirty=%t", v, dirty))
	}
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, dbErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	return dbErr
}
