package database

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is returned when no connection becomes free within the
	// acquire timeout. Transient: dispatchers and workers retry next tick.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrUnknownDatabase is returned when a logical name is not registered.
	ErrUnknownDatabase = errors.New("unknown database")

	// ErrReadOnlyTx is returned when a write statement runs inside a
	// read-only transaction. This is a programming bug, not a runtime fault.
	ErrReadOnlyTx = errors.New("write statement in read-only transaction")

	// ErrNestedTx is returned when a transaction coordinator is started on a
	// context that already carries one. Nesting is not supported.
	ErrNestedTx = errors.New("nested transaction coordinator")

	// ErrNoTx is returned when a handler asks for a transaction by name but
	// the surrounding coordinator did not open one on that database.
	ErrNoTx = errors.New("no open transaction for database")
)

// QueryError wraps a driver-level failure so callers can tell SQL faults
// apart from pool or transaction faults.
type QueryError struct {
	Database string
	Query    string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query on %q failed: %v", e.Database, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
