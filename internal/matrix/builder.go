// Package matrix turns the labelled feature table into a model-ready matrix.
//
// The Builder removes zero-information and leakage columns, types the rest as
// numeric or categorical, and fits a Plan (median/most-frequent imputation,
// optional scaling, one-hot encoding). The Plan is serialized with the run and
// replayed unchanged at inference.
package matrix

import (
	"fmt"
	"math"
	"sort"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/observability"
	"github.com/arkilian/churnfeat/pkg/types"
)

// LeakageColumns are never fed to the model: identifiers and raw times.
var LeakageColumns = []string{
	types.ColEntityID,
	types.FieldSessionID,
	types.ColRegistration,
	types.ColFirstTS,
	types.ColLastTS,
	types.FieldTimestamp,
}

// Options configures plan fitting.
type Options struct {
	// ScaleNumeric divides numeric columns by their standard deviation
	ScaleNumeric bool

	// WithMean also centers numeric columns before scaling
	WithMean bool

	// Stats receives column drops and encoding gaps; may be nil.
	Stats *observability.Stats
}

// DefaultOptions scales without centering.
func DefaultOptions() Options {
	return Options{ScaleNumeric: true}
}

// Dataset is the builder output.
type Dataset struct {
	// X is the pre-encoding feature table (entity order preserved)
	X *types.Table

	// Y holds the 0/1 labels aligned with X rows
	Y []int

	// EntityIDs identifies each row of X
	EntityIDs []string

	Plan *Plan

	// Encoded is X transformed by Plan
	Encoded [][]float64
}

// Builder fits transformation plans.
type Builder struct {
	opts Options
}

// NewBuilder creates a builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Build separates the target from table, removes constant, leakage and the
// caller's drop columns, and fits the plan. Requesting removal of an absent
// column is not an error. table is not modified.
func (b *Builder) Build(table *types.Table, target string, drop []string) (*Dataset, error) {
	if table.Len() == 0 {
		return nil, ferrors.NewEmptyDatasetError("matrix: feature table is empty")
	}
	if !table.HasColumn(target) {
		return nil, ferrors.NewSchemaError(fmt.Sprintf("matrix: target column %q absent", target))
	}

	stats := b.opts.Stats

	// Rows with a missing target cannot be used.
	var rows []types.Row
	for _, r := range table.Rows {
		if !types.IsMissing(r[target]) {
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil, ferrors.NewEmptyDatasetError("matrix: no rows carry a target value")
	}
	work := &types.Table{Columns: table.Columns, Rows: rows}

	var removed []string
	for _, c := range work.Columns {
		if c == target || c == types.ColEntityID {
			continue
		}
		if distinct(work, c) <= 1 {
			removed = append(removed, c)
			stats.ColumnDropped(c, observability.ColumnConstant)
		}
	}
	work = work.WithoutColumns(removed...)

	for _, c := range LeakageColumns {
		if work.HasColumn(c) {
			stats.ColumnDropped(c, observability.ColumnLeakage)
		}
	}
	for _, c := range drop {
		if work.HasColumn(c) && c != target {
			stats.ColumnDropped(c, observability.ColumnExplicit)
		}
	}

	ds := &Dataset{
		Y:         make([]int, len(rows)),
		EntityIDs: make([]string, len(rows)),
	}
	for i, r := range rows {
		ds.EntityIDs[i] = r.StringOr(types.ColEntityID, "")
		if y, ok := types.ToFloat(r[target]); ok && y != 0 {
			ds.Y[i] = 1
		}
	}

	exclude := append(append([]string{target}, LeakageColumns...), drop...)
	ds.X = work.WithoutColumns(exclude...)
	if len(ds.X.Columns) == 0 {
		return nil, ferrors.NewEmptyDatasetError("matrix: no feature columns remain after drops")
	}

	ds.Plan = b.fit(ds.X, target)

	encoded, gaps, err := ds.Plan.Transform(ds.X)
	if err != nil {
		return nil, ferrors.NewInternalError("matrix: plan does not fit its own training table", err)
	}
	if len(gaps) > 0 {
		return nil, ferrors.NewInternalError(fmt.Sprintf("matrix: %d encoding gaps on training table", len(gaps)), nil)
	}
	ds.Encoded = encoded
	return ds, nil
}

// fit learns a column plan for every column of x.
func (b *Builder) fit(x *types.Table, target string) *Plan {
	p := &Plan{
		Version:      PlanVersion,
		Target:       target,
		InputColumns: append([]string(nil), x.Columns...),
		Columns:      make([]ColumnPlan, len(x.Columns)),
	}

	for i, c := range x.Columns {
		values := x.Column(c)
		if isNumericColumn(values) {
			p.Columns[i] = b.fitNumeric(c, values)
		} else {
			p.Columns[i] = fitCategorical(c, values)
		}
	}

	for _, cp := range p.Columns {
		if cp.Kind == KindNumeric {
			p.FeatureNames = append(p.FeatureNames, cp.Name)
		}
	}
	for _, cp := range p.Columns {
		if cp.Kind == KindCategorical {
			for _, cat := range cp.Categories {
				p.FeatureNames = append(p.FeatureNames, cp.Name+"_"+types.Slug(cat))
			}
		}
	}
	return p
}

func (b *Builder) fitNumeric(name string, values []any) ColumnPlan {
	cp := ColumnPlan{Name: name, Kind: KindNumeric}

	var present []float64
	for _, v := range values {
		if f, ok := numeric(v); ok {
			present = append(present, f)
		}
	}
	cp.Median = median(present)

	if !b.opts.ScaleNumeric {
		return cp
	}

	imputed := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		f, ok := numeric(v)
		if !ok {
			f = cp.Median
		}
		imputed[i] = f
		sum += f
	}
	mean := sum / float64(len(imputed))

	var ss float64
	for _, f := range imputed {
		ss += (f - mean) * (f - mean)
	}
	std := math.Sqrt(ss / float64(len(imputed)))
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	cp.Scale = true
	cp.Std = std
	if b.opts.WithMean {
		cp.Mean = mean
	}
	return cp
}

func fitCategorical(name string, values []any) ColumnPlan {
	cp := ColumnPlan{Name: name, Kind: KindCategorical}

	counts := make(map[string]int)
	for _, v := range values {
		if s, ok := category(v); ok {
			counts[s]++
		}
	}

	cp.MostFrequent = types.Unknown
	best := 0
	for s, n := range counts {
		if n > best || (n == best && s < cp.MostFrequent) {
			cp.MostFrequent, best = s, n
		}
	}

	seen := make(map[string]bool)
	for _, v := range values {
		seen[cp.impute(v)] = true
	}
	for s := range seen {
		cp.Categories = append(cp.Categories, s)
	}
	sort.Strings(cp.Categories)
	return cp
}

// isNumericColumn reports whether every non-missing value is numeric.
func isNumericColumn(values []any) bool {
	for _, v := range values {
		if types.IsMissing(v) {
			continue
		}
		if !isNumericValue(v) {
			return false
		}
	}
	return true
}

// distinct counts distinct cell values in a column; missing counts as one value.
func distinct(t *types.Table, col string) int {
	seen := make(map[string]struct{})
	for _, r := range t.Rows {
		v := r[col]
		key := "\x00missing"
		if !types.IsMissing(v) {
			key = fmt.Sprintf("%T:%v", v, v)
		}
		seen[key] = struct{}{}
		if len(seen) > 1 {
			return len(seen)
		}
	}
	return len(seen)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
