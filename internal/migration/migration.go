package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrMigration wraps any schema-step failure. The ingestion pipeline
// treats it as fatal before any data is fetched.
var ErrMigration = errors.New("schema migration failed")

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

// Apply brings the schema to the latest version and reports it.
// Applying an already-current schema is a no-op. Each step runs in its
// own transaction, so a failed step leaves the schema at the last
// fully-applied version.
func Apply(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, fmt.Errorf("%w: database handle is required", ErrMigration)
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return 0, fmt.Errorf("%w: %v", ErrMigration, upErr)
	}

	return Version(db)
}

// Downgrade steps the schema back to target using the recorded down
// migrations.
func Downgrade(db *sql.DB, target uint) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}

	if err := migrator.Migrate(target); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %v", ErrMigration, err)
	}
	return nil
}

// Version reports the currently applied schema version.
func Version(db *sql.DB) (uint, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMigration, err)
	}
	if dirty {
		return version, fmt.Errorf("%w: schema version %d is dirty", ErrMigration, version)
	}
	return version, nil
}
