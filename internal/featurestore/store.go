// Package featurestore persists feature tables as self-describing SQLite
// snapshots.
package featurestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/churnfeat/pkg/types"
)

// Table names inside a snapshot.
const (
	featuresTable = "features"
	columnsTable  = "_churnfeat_columns"
	statsTable    = "_churnfeat_stats"
)

// Info describes a written snapshot.
type Info struct {
	Path      string
	RowCount  int64
	SizeBytes int64
	Schema    types.Schema
	Stats     map[string]MinMax
}

// Write creates a new SQLite file at path holding table. The file must not
// already exist. Column order and types are recorded so Read restores the
// table exactly; times are stored as INTEGER milliseconds.
func Write(ctx context.Context, path string, table *types.Table) (*Info, error) {
	if table.Len() == 0 {
		return nil, fmt.Errorf("featurestore: cannot write an empty table")
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("featurestore: %s already exists", path)
	}

	schema := types.InferSchema(table)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to create SQLite database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("featurestore: failed to set journal mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, createFeaturesSQL(schema)); err != nil {
		return nil, fmt.Errorf("featurestore: failed to create features table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE `+columnsTable+` (
			ordinal INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			nullable INTEGER NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("featurestore: failed to create column table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE `+statsTable+` (
			column_name TEXT PRIMARY KEY,
			null_count INTEGER NOT NULL,
			min_value REAL,
			max_value REAL
		) WITHOUT ROWID`); err != nil {
		return nil, fmt.Errorf("featurestore: failed to create stats table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, c := range schema.Columns {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+columnsTable+" (ordinal, name, type, nullable) VALUES (?, ?, ?, ?)",
			i, c.Name, c.Type, c.Nullable); err != nil {
			return nil, fmt.Errorf("featurestore: failed to record column %q: %w", c.Name, err)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(schema.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		featuresTable, quotedNames(schema), placeholders))
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	tracker := NewStatsTracker(schema)
	args := make([]any, len(schema.Columns))
	for _, r := range table.Rows {
		for i, c := range schema.Columns {
			args[i] = toSQL(r[c.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("featurestore: failed to insert row: %w", err)
		}
		tracker.Update(r)
	}

	stats := tracker.MinMaxStats()
	for _, c := range schema.Columns {
		mm, ok := stats[c.Name]
		var min, max any
		if ok && mm.Valid {
			min, max = mm.Min, mm.Max
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+statsTable+" (column_name, null_count, min_value, max_value) VALUES (?, ?, ?, ?)",
			c.Name, tracker.NullCount(c.Name), min, max); err != nil {
			return nil, fmt.Errorf("featurestore: failed to record stats for %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("featurestore: failed to commit: %w", err)
	}

	// Checkpoint WAL and switch to DELETE mode so the snapshot is a single file.
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("featurestore: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("featurestore: failed to set journal mode to DELETE: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("featurestore: failed to close database: %w", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to stat SQLite file: %w", err)
	}

	return &Info{
		Path:      path,
		RowCount:  int64(table.Len()),
		SizeBytes: fi.Size(),
		Schema:    schema,
		Stats:     stats,
	}, nil
}

// Read loads a snapshot written by Write.
func Read(ctx context.Context, path string) (*types.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("featurestore: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to open %s: %w", path, err)
	}
	defer db.Close()

	schema, err := readSchema(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", quotedNames(schema), featuresTable))
	if err != nil {
		return nil, fmt.Errorf("featurestore: failed to query features: %w", err)
	}
	defer rows.Close()

	table := &types.Table{Columns: make([]string, len(schema.Columns))}
	for i, c := range schema.Columns {
		table.Columns[i] = c.Name
	}

	dest := make([]any, len(schema.Columns))
	ptrs := make([]any, len(schema.Columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("featurestore: failed to scan row: %w", err)
		}
		r := make(types.Row, len(schema.Columns))
		for i, c := range schema.Columns {
			r[c.Name] = fromSQL(dest[i], c.Type)
		}
		table.Rows = append(table.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("featurestore: failed to read rows: %w", err)
	}

	if table.HasColumn(types.ColEntityID) {
		table.SortRows(types.ColEntityID)
	}
	return table, nil
}

func readSchema(ctx context.Context, db *sql.DB) (types.Schema, error) {
	schema := types.Schema{Version: 1}
	rows, err := db.QueryContext(ctx, "SELECT name, type, nullable FROM "+columnsTable+" ORDER BY ordinal")
	if err != nil {
		return schema, fmt.Errorf("featurestore: failed to read column table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c types.ColumnDef
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return schema, fmt.Errorf("featurestore: failed to scan column: %w", err)
		}
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return schema, err
	}
	if len(schema.Columns) == 0 {
		return schema, fmt.Errorf("featurestore: snapshot records no columns")
	}
	return schema, nil
}

func createFeaturesSQL(schema types.Schema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + featuresTable + " (")
	hasKey := false
	for i, c := range schema.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c.Name) + " " + c.Type)
		if c.Name == types.ColEntityID && c.Type == "TEXT" && !c.Nullable {
			b.WriteString(" PRIMARY KEY")
			hasKey = true
		} else if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(")")
	if hasKey {
		b.WriteString(" WITHOUT ROWID")
	}
	return b.String()
}

func quotedNames(schema types.Schema) string {
	names := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = quote(c.Name)
	}
	return strings.Join(names, ", ")
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func toSQL(v any) any {
	if types.IsMissing(v) {
		return nil
	}
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli()
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	}
	return v
}

func fromSQL(v any, typ string) any {
	if v == nil {
		return nil
	}
	switch typ {
	case "INTEGER":
		if n, ok := v.(int64); ok {
			return time.UnixMilli(n).UTC()
		}
	case "REAL":
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case "TEXT":
		switch s := v.(type) {
		case string:
			return s
		case []byte:
			return string(s)
		}
	}
	return v
}
