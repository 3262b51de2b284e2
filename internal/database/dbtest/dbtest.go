// Package dbtest opens throwaway in-memory SQLite databases through the real
// registry, so store and scheduler tests run against genuine SQL.
package dbtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/migrations"
)

var dbSeq atomic.Int64

// NewRegistry returns a registry with named in-memory databases, schema
// applied, torn down with the test. Passing no names yields just "default".
func NewRegistry(t *testing.T, names ...string) *database.Registry {
	t.Helper()

	if len(names) == 0 {
		names = []string{database.DefaultName}
	}
	if !contains(names, database.DefaultName) {
		names = append(names, database.DefaultName)
	}

	cfg := make(map[string]database.Config, len(names))
	for _, name := range names {
		// cache=shared keeps one store alive across the pool's connections.
		cfg[name] = database.Config{
			Type: database.DriverSQLite,
			Path: fmt.Sprintf("file:dbtest_%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1)),
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := database.Open(context.Background(), cfg, nil, logger)
	if err != nil {
		t.Fatalf("open test registry: %v", err)
	}
	t.Cleanup(reg.Close)

	for _, name := range names {
		applySchema(t, reg, name)
	}
	return reg
}

// DefaultDB is the "default" pool of a fresh single-database registry.
func DefaultDB(t *testing.T) *database.DB {
	t.Helper()
	reg := NewRegistry(t)
	db, err := reg.Default()
	if err != nil {
		t.Fatalf("default database: %v", err)
	}
	return db
}

func applySchema(t *testing.T, reg *database.Registry, name string) {
	t.Helper()

	db, err := reg.Get(name)
	if err != nil {
		t.Fatalf("get %q: %v", name, err)
	}
	raw, err := migrations.FS.ReadFile("sqlite/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}

	// The schema has no semicolons outside statement boundaries, so a plain
	// split is enough here; real deployments go through golang-migrate.
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("apply schema to %q: %v\n%s", name, err, stmt)
		}
	}
}

func contains(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}
