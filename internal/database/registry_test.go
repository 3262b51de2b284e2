package database_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/database/dbtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_RequiresDefault(t *testing.T) {
	cfg := map[string]database.Config{
		"other": {Type: database.DriverSQLite, Path: "file:reg_nodefault?mode=memory&cache=shared"},
	}
	_, err := database.Open(context.Background(), cfg, nil, discardLogger())
	if err == nil {
		t.Fatal("expected error for config without default entry")
	}
}

func TestOpen_UnknownWantedName(t *testing.T) {
	cfg := map[string]database.Config{
		database.DefaultName: {Type: database.DriverSQLite, Path: "file:reg_unknown?mode=memory&cache=shared"},
	}
	_, err := database.Open(context.Background(), cfg, []string{database.DefaultName, "missing"}, discardLogger())
	if !errors.Is(err, database.ErrUnknownDatabase) {
		t.Fatalf("err = %v, want ErrUnknownDatabase", err)
	}
}

func TestRegistry_GetAndNames(t *testing.T) {
	reg := dbtest.NewRegistry(t, "default", "reporting")

	if _, err := reg.Get("reporting"); err != nil {
		t.Fatalf("get reporting: %v", err)
	}
	if _, err := reg.Get("nope"); !errors.Is(err, database.ErrUnknownDatabase) {
		t.Fatalf("err = %v, want ErrUnknownDatabase", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "default" || names[1] != "reporting" {
		t.Fatalf("names = %v", names)
	}
}

func TestRegistry_Ping(t *testing.T) {
	reg := dbtest.NewRegistry(t)

	if err := reg.Ping(context.Background(), database.DefaultName); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := reg.Ping(context.Background(), "missing"); !errors.Is(err, database.ErrUnknownDatabase) {
		t.Fatalf("err = %v, want ErrUnknownDatabase", err)
	}
}
