// Package sqlstore implements the repository interfaces on top of the named
// database pools. Queries are written once with `?` placeholders and rebound
// per backend; the few spots where SQLite, Postgres and MySQL genuinely
// diverge branch on the pool's driver.
package sqlstore

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jobukit/jobu/internal/database"
)

// insertID runs an INSERT and returns the generated primary key. Postgres has
// no LastInsertId, so the query gets a RETURNING clause appended there.
func insertID(ctx context.Context, db *database.DB, query string, args ...any) (int64, error) {
	if db.Driver == database.DriverPostgres {
		var id int64
		err := db.GetContext(ctx, &id, db.Rebind(query+" RETURNING id"), args...)
		return id, err
	}

	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// isUniqueViolation reports whether err is a unique-constraint failure on any
// of the supported backends.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	// modernc/sqlite wraps constraint failures without a stable typed code.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
