package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Tx is one open transaction on one named database, pinned to a connection
// for its whole lifetime. Queries use `?` placeholders; Tx rebinds them to
// the backend-native style.
type Tx struct {
	db       *DB
	conn     *sqlx.Conn
	tx       *sqlx.Tx
	readOnly bool
	done     bool
}

func (t *Tx) Database() string { return t.db.Name }

// Exec runs a statement and returns the driver result. Write statements are
// rejected in read-only mode.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := t.guard(query); err != nil {
		return nil, err
	}
	res, err := t.tx.ExecContext(ctx, t.db.Rebind(query), args...)
	if err != nil {
		return nil, &QueryError{Database: t.db.Name, Query: query, Err: err}
	}
	return res, nil
}

// ExecMany runs the same statement once per argument set.
func (t *Tx) ExecMany(ctx context.Context, query string, argSets [][]any) error {
	if err := t.guard(query); err != nil {
		return err
	}
	stmt, err := t.tx.PreparexContext(ctx, t.db.Rebind(query))
	if err != nil {
		return &QueryError{Database: t.db.Name, Query: query, Err: err}
	}
	defer func() { _ = stmt.Close() }()

	for _, args := range argSets {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return &QueryError{Database: t.db.Name, Query: query, Err: err}
		}
	}
	return nil
}

// Get scans one row (or one scalar) into dest. Returns sql.ErrNoRows when
// the query matches nothing.
func (t *Tx) Get(ctx context.Context, dest any, query string, args ...any) error {
	if err := t.tx.GetContext(ctx, dest, t.db.Rebind(query), args...); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return &QueryError{Database: t.db.Name, Query: query, Err: err}
	}
	return nil
}

// Query returns raw rows for callers that discover the shape at runtime,
// like the table sync handler.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	if err := t.guard(query); err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryxContext(ctx, t.db.Rebind(query), args...)
	if err != nil {
		return nil, &QueryError{Database: t.db.Name, Query: query, Err: err}
	}
	return rows, nil
}

// Select scans all rows into dest (a pointer to slice).
func (t *Tx) Select(ctx context.Context, dest any, query string, args ...any) error {
	if err := t.tx.SelectContext(ctx, dest, t.db.Rebind(query), args...); err != nil {
		return &QueryError{Database: t.db.Name, Query: query, Err: err}
	}
	return nil
}

func (t *Tx) guard(query string) error {
	if !t.readOnly {
		return nil
	}
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"INSERT", "UPDATE", "DELETE", "REPLACE", "CREATE", "DROP", "ALTER", "TRUNCATE"} {
		if strings.HasPrefix(head, kw) {
			return fmt.Errorf("%w on %q", ErrReadOnlyTx, t.db.Name)
		}
	}
	return nil
}

func (t *Tx) commit() error {
	t.done = true
	return t.tx.Commit()
}

func (t *Tx) rollback() error {
	t.done = true
	return t.tx.Rollback()
}

func (t *Tx) release() {
	_ = t.conn.Close()
}
