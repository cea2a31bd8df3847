package types

import "time"

// Schema defines the structure of a persisted feature table.
type Schema struct {
	// Version tracks schema evolution for backward compatibility
	Version int `json:"version"`

	// Columns defines the columns in the schema
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the SQLite type: TEXT, INTEGER, REAL
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
}

// InferSchema derives a column definition for every table column from the
// values observed in its rows. Times are stored as INTEGER milliseconds.
func InferSchema(t *Table) Schema {
	s := Schema{Version: 1, Columns: make([]ColumnDef, 0, len(t.Columns))}
	for _, name := range t.Columns {
		def := ColumnDef{Name: name, Type: "REAL"}
		for _, r := range t.Rows {
			v := r[name]
			if IsMissing(v) {
				def.Nullable = true
				continue
			}
			switch v.(type) {
			case string:
				def.Type = "TEXT"
			case time.Time:
				def.Type = "INTEGER"
			}
		}
		s.Columns = append(s.Columns, def)
	}
	return s
}
