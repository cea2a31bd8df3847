package matrix

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/pkg/types"
)

// PlanVersion is the serialized plan format version.
const PlanVersion = 1

// Kind is the treatment family of an input column.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// ColumnPlan is the fitted treatment of one input column.
type ColumnPlan struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Numeric: median imputation, then (x - Mean) / Std when Scale is set.
	Median float64 `json:"median,omitempty"`
	Scale  bool    `json:"scale,omitempty"`
	Mean   float64 `json:"mean,omitempty"`
	Std    float64 `json:"std,omitempty"`

	// Categorical: most-frequent imputation, then one-hot over Categories.
	MostFrequent string   `json:"most_frequent,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}

// Plan is the fitted transformation from pre-encoding feature columns to the
// numeric matrix. It is replayed unchanged at inference.
type Plan struct {
	Version int    `json:"version"`
	Target  string `json:"target"`

	// InputColumns is the pre-encoding column order expected from callers
	InputColumns []string `json:"input_columns"`

	// Columns holds one entry per input column, in InputColumns order
	Columns []ColumnPlan `json:"columns"`

	// FeatureNames names the encoded outputs: numeric columns first, then
	// one indicator per category of each categorical column
	FeatureNames []string `json:"feature_names"`

	// Vocabulary is the aggregation vocabulary the input columns were built from
	Vocabulary *types.Vocabulary `json:"vocabulary,omitempty"`
}

// EncodingGap is a categorical value that was not seen at fit time. It is
// encoded as an all-zero indicator block.
type EncodingGap struct {
	Row    int
	Column string
	Value  string
}

// Err returns the gap as a non-fatal PLAN:ENCODING_GAP error value.
func (g EncodingGap) Err() *ferrors.FeatureError {
	return ferrors.NewPlanError(ferrors.CodeEncodingGap,
		fmt.Sprintf("row %d: column %q value %q unseen at fit time", g.Row, g.Column, g.Value))
}

// Width returns the number of encoded features.
func (p *Plan) Width() int {
	return len(p.FeatureNames)
}

// Transform encodes every row of table. The table must carry exactly the
// plan's input columns, in any order.
func (p *Plan) Transform(table *types.Table) ([][]float64, []EncodingGap, error) {
	missing, extra := CheckColumns(table.Columns, p.InputColumns)
	if len(missing) > 0 || len(extra) > 0 {
		return nil, nil, MismatchError(missing, extra, p.InputColumns)
	}

	out := make([][]float64, len(table.Rows))
	var gaps []EncodingGap
	for i, r := range table.Rows {
		out[i] = p.encode(i, func(c string) any { return r[c] }, &gaps)
	}
	return out, gaps, nil
}

// TransformRecord encodes one aligned record. Its columns must equal the
// plan's input columns in order.
func (p *Plan) TransformRecord(rec Record) ([]float64, []EncodingGap, error) {
	if !sameOrder(rec.Columns, p.InputColumns) || len(rec.Values) != len(rec.Columns) {
		missing, extra := CheckColumns(rec.Columns, p.InputColumns)
		return nil, nil, MismatchError(missing, extra, p.InputColumns)
	}
	vals := make(map[string]any, len(rec.Columns))
	for i, c := range rec.Columns {
		vals[c] = rec.Values[i]
	}
	var gaps []EncodingGap
	vec := p.encode(0, func(c string) any { return vals[c] }, &gaps)
	return vec, gaps, nil
}

func (p *Plan) encode(row int, get func(string) any, gaps *[]EncodingGap) []float64 {
	vec := make([]float64, 0, p.Width())
	for _, cp := range p.Columns {
		if cp.Kind == KindNumeric {
			vec = append(vec, cp.apply(get(cp.Name)))
		}
	}
	for _, cp := range p.Columns {
		if cp.Kind != KindCategorical {
			continue
		}
		v := cp.impute(get(cp.Name))
		hit := false
		for _, c := range cp.Categories {
			if c == v {
				vec = append(vec, 1)
				hit = true
			} else {
				vec = append(vec, 0)
			}
		}
		if !hit {
			*gaps = append(*gaps, EncodingGap{Row: row, Column: cp.Name, Value: v})
		}
	}
	return vec
}

// apply imputes and scales one numeric value.
func (cp *ColumnPlan) apply(v any) float64 {
	f, ok := numeric(v)
	if !ok {
		f = cp.Median
	}
	if cp.Scale {
		f = (f - cp.Mean) / cp.Std
	}
	return f
}

// impute renders a categorical value, substituting the most frequent one when missing.
func (cp *ColumnPlan) impute(v any) string {
	s, ok := category(v)
	if !ok {
		return cp.MostFrequent
	}
	return s
}

// Validate checks the internal consistency of a loaded plan.
func (p *Plan) Validate() error {
	if p.Version != PlanVersion {
		return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
			fmt.Sprintf("plan version %d is not supported", p.Version))
	}
	if len(p.Columns) != len(p.InputColumns) {
		return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
			fmt.Sprintf("plan has %d column treatments for %d input columns", len(p.Columns), len(p.InputColumns)))
	}
	width := 0
	for i, cp := range p.Columns {
		if cp.Name != p.InputColumns[i] {
			return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
				fmt.Sprintf("plan column %d is %q, input column is %q", i, cp.Name, p.InputColumns[i]))
		}
		switch cp.Kind {
		case KindNumeric:
			if cp.Scale && cp.Std == 0 {
				return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
					fmt.Sprintf("plan column %q has zero scale", cp.Name))
			}
			width++
		case KindCategorical:
			width += len(cp.Categories)
		default:
			return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
				fmt.Sprintf("plan column %q has unknown kind %q", cp.Name, cp.Kind))
		}
	}
	if width != len(p.FeatureNames) {
		return ferrors.NewPlanError(ferrors.CodeColumnMismatch,
			fmt.Sprintf("plan encodes %d features but names %d", width, len(p.FeatureNames)))
	}
	return nil
}

// WriteJSON serializes the plan.
func (p *Plan) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("matrix: failed to encode plan: %w", err)
	}
	return nil
}

// ReadPlan decodes and validates a serialized plan.
func ReadPlan(r io.Reader) (*Plan, error) {
	var p Plan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("matrix: failed to decode plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// numeric converts a cell to float64. Missing and non-numeric cells report false.
func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return types.ToFloat(v)
}

// isNumericValue reports whether a non-missing cell is numerically typed.
func isNumericValue(v any) bool {
	switch v.(type) {
	case json.Number:
		return true
	case string, time.Time:
		return false
	}
	_, ok := types.ToFloat(v)
	return ok
}

// category renders a cell as a category label. Missing cells report false.
func category(v any) (string, bool) {
	if types.IsMissing(v) {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), true
	}
	return fmt.Sprint(v), true
}
