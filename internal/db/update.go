package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpdateConfig defines a set-based bulk update.
type UpdateConfig struct {
	Table     string   // target table (e.g., "reviews")
	KeyColumn string   // column matched between target and staged rows
	Columns   []string // staged columns; must include KeyColumn
}

// BulkUpdate stages rows in a temp table and applies them with a single UPDATE ... FROM.
// 1. Creates a temp table shaped like the target (dropped on commit)
// 2. COPY rows into the temp table
// 3. UPDATE target SET cols = staged.cols FROM staged WHERE target.key = staged.key
//
// It must run inside a transaction; the caller owns commit and rollback.
func BulkUpdate(ctx context.Context, ex Executor, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.KeyColumn == "" {
		return 0, eris.New("db: update: no key column specified")
	}
	if !contains(cfg.Columns, cfg.KeyColumn) {
		return 0, eris.Errorf("db: update: key column %q not in columns", cfg.KeyColumn)
	}

	tempTable := StagingTable(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.Columns),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := ex.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: update: create temp table for %s", cfg.Table)
	}

	if _, err := ex.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: update: COPY into temp table for %s", cfg.Table)
	}

	target := pgx.Identifier{cfg.Table}.Sanitize()
	staged := pgx.Identifier{tempTable}.Sanitize()
	key := pgx.Identifier{cfg.KeyColumn}.Sanitize()

	var setClauses []string
	for _, col := range cfg.Columns {
		if col == cfg.KeyColumn {
			continue
		}
		c := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = s.%s", c, c))
	}
	if len(setClauses) == 0 {
		return 0, eris.Errorf("db: update: nothing to set on %s", cfg.Table)
	}

	updateSQL := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM %s AS s WHERE t.%s = s.%s",
		target, strings.Join(setClauses, ", "), staged, key, key,
	)

	tag, err := ex.Exec(ctx, updateSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: UPDATE FROM for %s", cfg.Table)
	}

	return tag.RowsAffected(), nil
}

// StagingTable returns the temp table name BulkUpdate stages rows in.
func StagingTable(table string) string {
	return fmt.Sprintf("_tmp_update_%s", strings.ReplaceAll(table, ".", "_"))
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
