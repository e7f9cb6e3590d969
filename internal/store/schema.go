package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// sqlTypeFor maps a hyperparameter value to a SQLite column type. Values
// outside the scalar set are stored as JSON text.
func sqlTypeFor(v any) string {
	switch v.(type) {
	case bool, int, int32, int64:
		return "INTEGER"
	case float32, float64:
		return "REAL"
	case string:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// bindValue converts a hyperparameter value to its driver representation,
// serializing non-scalars to JSON.
func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, int, int32, int64, float32, float64, string:
		return x, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("serialize value %v: %w", v, err)
		}
		return string(b), nil
	}
}

// tableColumns returns the current column name → declared type mapping.
func tableColumns(ctx context.Context, q queryer, table string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("inspect table %s: %w", table, err)
		}
		cols[name] = ctype
	}
	return cols, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ensureColumns additively migrates the table so every hyperparameter name
// in params has a nullable column of a compatible type. Columns are only
// ever added. Runs inside the caller's transaction so a failed write never
// leaves a half-migrated schema.
func ensureColumns(ctx context.Context, tx *sql.Tx, table string, params map[string]any) error {
	if len(params) == 0 {
		return nil
	}
	existing, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := validColumnName(name); err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		want := sqlTypeFor(params[name])
		if have, ok := existing[name]; ok {
			if have != want {
				return fmt.Errorf("table %s, column %s: have %s, new value needs %s: %w",
					table, name, have, want, ErrSchemaConflict)
			}
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, want)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}
