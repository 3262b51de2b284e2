package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type txMapKey struct{}

// TxOptions selects the databases and mode for one coordinated transaction.
type TxOptions struct {
	// Databases are opened in declaration order; empty means just "default".
	Databases []string
	ReadOnly  bool
}

// TxFromContext returns the open transaction for a named database inside a
// Transactional body. It fails with ErrNoTx outside one.
func TxFromContext(ctx context.Context, name string) (*Tx, error) {
	m, _ := ctx.Value(txMapKey{}).(map[string]*Tx)
	if m == nil {
		return nil, fmt.Errorf("%w: %q (not inside a transaction)", ErrNoTx, name)
	}
	tx, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoTx, name)
	}
	return tx, nil
}

// DefaultTx is TxFromContext for the "default" database.
func DefaultTx(ctx context.Context) (*Tx, error) {
	return TxFromContext(ctx, DefaultName)
}

// Transactional brackets fn with one transaction per named database:
// acquire and begin in declaration order, publish the transactions into the
// context, then commit in order on success or roll back in reverse on error.
//
// This is best-effort atomicity, not two-phase commit: if commit on database
// k fails after earlier commits succeeded, those commits stand and the error
// propagates. Handlers needing stronger guarantees must be idempotent.
// Nested invocations fail fast with ErrNestedTx.
func (r *Registry) Transactional(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txMapKey{}) != nil {
		return ErrNestedTx
	}

	names := opts.Databases
	if len(names) == 0 {
		names = []string{DefaultName}
	}

	txs := make([]*Tx, 0, len(names))
	byName := make(map[string]*Tx, len(names))

	defer func() {
		for _, tx := range txs {
			tx.release()
		}
	}()

	for _, name := range names {
		if _, dup := byName[name]; dup {
			return fmt.Errorf("database %q named twice in transaction", name)
		}
		db, gerr := r.Get(name)
		if gerr != nil {
			rollbackAll(txs)
			return gerr
		}
		conn, aerr := db.Acquire(ctx)
		if aerr != nil {
			rollbackAll(txs)
			return aerr
		}
		sqlxTx, berr := conn.BeginTxx(ctx, &sql.TxOptions{})
		if berr != nil {
			_ = conn.Close()
			rollbackAll(txs)
			return fmt.Errorf("begin transaction on %q: %w", name, berr)
		}
		tx := &Tx{db: db, conn: conn, tx: sqlxTx, readOnly: opts.ReadOnly}
		txs = append(txs, tx)
		byName[name] = tx
	}

	fnCtx := context.WithValue(ctx, txMapKey{}, byName)

	defer func() {
		if p := recover(); p != nil {
			rollbackAll(txs)
			panic(p)
		}
	}()

	if err = fn(fnCtx); err != nil {
		rollbackAll(txs)
		return err
	}

	for i, tx := range txs {
		if cerr := tx.commit(); cerr != nil {
			// Commits 0..i-1 already stand; roll back the rest and surface.
			rollbackAll(txs[i+1:])
			return fmt.Errorf("commit on %q: %w", tx.db.Name, cerr)
		}
	}
	return nil
}

func rollbackAll(txs []*Tx) {
	for i := len(txs) - 1; i >= 0; i-- {
		if txs[i].done {
			continue
		}
		if rerr := txs[i].rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			// Nothing useful the caller can do with a failed rollback.
			continue
		}
	}
}
