package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jobukit/jobu/migrations"
)

// Migrate applies all pending schema migrations for the named database,
// using the backend-specific migration directory.
func (r *Registry) Migrate(name string) error {
	db, err := r.Get(name)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrations.FS, string(db.Driver))
	if err != nil {
		return fmt.Errorf("load migrations for %q: %w", db.Driver, err)
	}

	m, err := newMigrator(db, src)
	if err != nil {
		return fmt.Errorf("migrator for %q: %w", name, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %q: %w", name, err)
	}

	r.logger.Info("migrations applied", "name", name, "type", db.Driver)
	return nil
}

// MigrateAll migrates every registered database; used by the CLI.
func (r *Registry) MigrateAll() error {
	for _, name := range r.Names() {
		if err := r.Migrate(name); err != nil {
			return err
		}
	}
	return nil
}

func newMigrator(db *DB, src source.Driver) (*migrate.Migrate, error) {
	switch db.Driver {
	case DriverSQLite:
		drv, err := migratesqlite.WithInstance(db.DB.DB, &migratesqlite.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, db.Name, drv)
	case DriverPostgres:
		drv, err := migratepg.WithInstance(db.DB.DB, &migratepg.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, db.Name, drv)
	case DriverMySQL:
		drv, err := migratemysql.WithInstance(db.DB.DB, &migratemysql.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, db.Name, drv)
	default:
		return nil, fmt.Errorf("unsupported database type %q", db.Driver)
	}
}
