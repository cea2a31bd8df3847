package featurestore

import "github.com/arkilian/churnfeat/pkg/types"

// MinMax holds the range of a numeric column.
type MinMax struct {
	Min   float64
	Max   float64
	Valid bool
}

// StatsTracker tracks null counts and numeric ranges while rows are written.
type StatsTracker struct {
	numeric map[string]bool
	nulls   map[string]int64
	ranges  map[string]MinMax
}

// NewStatsTracker creates a tracker for the columns of schema. Only REAL
// columns get ranges.
func NewStatsTracker(schema types.Schema) *StatsTracker {
	s := &StatsTracker{
		numeric: make(map[string]bool),
		nulls:   make(map[string]int64),
		ranges:  make(map[string]MinMax),
	}
	for _, c := range schema.Columns {
		s.nulls[c.Name] = 0
		if c.Type == "REAL" {
			s.numeric[c.Name] = true
		}
	}
	return s
}

// Update folds one row into the statistics.
func (s *StatsTracker) Update(row types.Row) {
	for name := range s.nulls {
		v := row[name]
		if types.IsMissing(v) {
			s.nulls[name]++
			continue
		}
		if !s.numeric[name] {
			continue
		}
		f, ok := types.ToFloat(v)
		if !ok {
			continue
		}
		mm := s.ranges[name]
		if !mm.Valid || f < mm.Min {
			mm.Min = f
		}
		if !mm.Valid || f > mm.Max {
			mm.Max = f
		}
		mm.Valid = true
		s.ranges[name] = mm
	}
}

// NullCount returns the number of missing cells seen in a column.
func (s *StatsTracker) NullCount(name string) int64 {
	return s.nulls[name]
}

// MinMaxStats returns the ranges of numeric columns that had a value.
func (s *StatsTracker) MinMaxStats() map[string]MinMax {
	out := make(map[string]MinMax, len(s.ranges))
	for k, v := range s.ranges {
		out[k] = v
	}
	return out
}
