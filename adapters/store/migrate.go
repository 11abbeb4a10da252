package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded migrations for the database driver and
// refreshes the detected capabilities.
func (d *DB) Migrate(ctx context.Context, logger watermill.LoggerAdapter) error {
	m, release, err := d.migrator(ctx)
	if err != nil {
		return err
	}
	defer release()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Database migrated", watermill.LogFields{
		"driver": d.driver,
		"from":   version,
		"to":     newVersion,
	})

	return d.probe(ctx)
}

// MigrationVersion returns the current migration version
func (d *DB) MigrationVersion(ctx context.Context) (uint, bool, error) {
	m, release, err := d.migrator(ctx)
	if err != nil {
		return 0, false, err
	}
	defer release()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// migrator builds a migrate instance over the shared pool. The instance is
// never closed since that would close the pool; release frees the dedicated
// postgres connection instead.
func (d *DB) migrator(ctx context.Context) (*migrate.Migrate, func(), error) {
	source, err := iofs.New(migrations, "migrations/"+d.driver)
	if err != nil {
		return nil, nil, fmt.Errorf("opening embedded migrations: %w", err)
	}

	release := func() {}
	var driver database.Driver
	switch d.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(d.db, &sqlite.Config{})
	default:
		var conn *sql.Conn
		conn, err = d.db.Conn(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquiring migration connection: %w", err)
		}
		release = func() { conn.Close() }
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
	}
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.driver, driver)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, release, nil
}
