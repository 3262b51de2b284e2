package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/domain"
	"github.com/jobukit/jobu/internal/handler"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// syncTableHandler copies a table from one named database into another inside
// one coordinated transaction: the target is truncated and refilled, and
// readers on the target never observe the intermediate state.
//
// Params: source_db, target_db, table, columns (string array).
type syncTableHandler struct {
	registry *database.Registry
	logger   *slog.Logger
}

func (h *syncTableHandler) Execute(ctx context.Context, params domain.JSONMap) (domain.JSONMap, error) {
	sourceDB, err := stringParam(params, "source_db")
	if err != nil {
		return nil, err
	}
	targetDB, err := stringParam(params, "target_db")
	if err != nil {
		return nil, err
	}
	table, err := stringParam(params, "table")
	if err != nil {
		return nil, err
	}
	columns, err := stringSliceParam(params, "columns")
	if err != nil {
		return nil, err
	}

	// Identifiers are interpolated into SQL, so they are restricted to bare
	// names.
	for _, ident := range append([]string{table}, columns...) {
		if !identRe.MatchString(ident) {
			return nil, fmt.Errorf("%w: bad identifier %q", handler.ErrBadParams, ident)
		}
	}
	if sourceDB == targetDB {
		return nil, fmt.Errorf("%w: source_db and target_db must differ", handler.ErrBadParams)
	}

	colList := strings.Join(columns, ", ")
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	var copied int
	err = h.registry.Transactional(ctx, database.TxOptions{Databases: []string{sourceDB, targetDB}}, func(ctx context.Context) error {
		source, err := database.TxFromContext(ctx, sourceDB)
		if err != nil {
			return err
		}
		target, err := database.TxFromContext(ctx, targetDB)
		if err != nil {
			return err
		}

		rows, err := source.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, table))
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		var argSets [][]any
		for rows.Next() {
			vals, err := rows.SliceScan()
			if err != nil {
				return fmt.Errorf("scan %s row: %w", table, err)
			}
			argSets = append(argSets, vals)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}

		if _, err := target.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return err
		}
		insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, colList, marks)
		if err := target.ExecMany(ctx, insert, argSets); err != nil {
			return err
		}
		copied = len(argSets)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("table synced", "table", table, "from", sourceDB, "to", targetDB, "rows", copied)
	return domain.JSONMap{"table": table, "rows": copied}, nil
}
