package types

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Feature table column names produced by the aggregation engine.
const (
	ColEntityID     = "entity_id"
	ColEvents       = "events"
	ColSessions     = "sessions"
	ColDaysActive   = "days_active"
	ColFirstTS      = "first_ts"
	ColLastTS       = "last_ts"
	ColRegistration = "registration"
	ColTenureDays   = "tenure_days"
	ColRecencyDays  = "recency_days"

	ColSongsPlayed     = "songs_played"
	ColUniqueSongs     = "unique_songs"
	ColUniqueArtists   = "unique_artists"
	ColTotalSongLength = "total_song_length"
	ColAvgSongLength   = "avg_song_len"

	ColSuccessEvents = "success_events"
	ColErrorEvents   = "error_events"
	ColErrorRate     = "error_rate"

	ColPrimaryOS = "primary_os"
	ColLastTier  = "last_tier"
)

// Row is one entity's feature values keyed by column name. Values are
// float64, string or time.Time; a nil or absent value is missing.
type Row map[string]any

// Float returns the float64 value of a column.
func (r Row) Float(name string) (float64, error) {
	v, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("column %q not found", name)
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("column %q: expected number, got %T", name, v)
	}
	return f, nil
}

// FloatOr returns the float64 value of a column or defaultValue.
func (r Row) FloatOr(name string, defaultValue float64) float64 {
	f, err := r.Float(name)
	if err != nil {
		return defaultValue
	}
	return f
}

// String returns the string value of a column.
func (r Row) String(name string) (string, error) {
	v, ok := r[name]
	if !ok {
		return "", fmt.Errorf("column %q not found", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %q: expected string, got %T", name, v)
	}
	return s, nil
}

// StringOr returns the string value of a column or defaultValue.
func (r Row) StringOr(name, defaultValue string) string {
	s, err := r.String(name)
	if err != nil {
		return defaultValue
	}
	return s
}

// Time returns the time.Time value of a column.
func (r Row) Time(name string) (time.Time, error) {
	v, ok := r[name]
	if !ok {
		return time.Time{}, fmt.Errorf("column %q not found", name)
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("column %q: expected time, got %T", name, v)
	}
	return t, nil
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of columns over rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of a column in row order.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

// Clone returns a copy of the table whose rows may be modified independently.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// WithoutColumns returns a copy of the table without the named columns.
// Names that are not present are ignored.
func (t *Table) WithoutColumns(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	out := &Table{Rows: make([]Row, len(t.Rows))}
	for _, c := range t.Columns {
		if !drop[c] {
			out.Columns = append(out.Columns, c)
		}
	}
	for i, r := range t.Rows {
		nr := make(Row, len(out.Columns))
		for _, c := range out.Columns {
			if v, ok := r[c]; ok {
				nr[c] = v
			}
		}
		out.Rows[i] = nr
	}
	return out
}

// SortRows orders rows by the string value of the key column.
func (t *Table) SortRows(key string) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].StringOr(key, "") < t.Rows[j].StringOr(key, "")
	})
}

// IsMissing reports whether v counts as a missing cell.
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case time.Time:
		return x.IsZero()
	}
	return false
}

// ToFloat converts a numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
