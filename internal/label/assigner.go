// Package label derives the binary churn target from an inactivity window.
package label

import (
	"fmt"
	"math"
	"time"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/pkg/types"
)

// Defaults.
const (
	DefaultThresholdDays = 30
	DefaultTarget        = "churn"
)

// Assigner appends the label column to a feature table.
type Assigner struct {
	// ThresholdDays is the inactivity window in whole days
	ThresholdDays int

	// Target is the label column name
	Target string
}

// New creates an assigner, substituting defaults for zero values.
func New(thresholdDays int, target string) *Assigner {
	if thresholdDays <= 0 {
		thresholdDays = DefaultThresholdDays
	}
	if target == "" {
		target = DefaultTarget
	}
	return &Assigner{ThresholdDays: thresholdDays, Target: target}
}

// IsChurned reports whether the whole-day gap between lastSeen and globalMax
// reaches the threshold.
func IsChurned(lastSeen, globalMax time.Time, thresholdDays int) bool {
	days := math.Floor(globalMax.Sub(lastSeen).Hours() / 24)
	return days >= float64(thresholdDays)
}

// Assign returns a copy of table with the target column appended as 0 or 1.
// The input table is not modified.
func (a *Assigner) Assign(table *types.Table, globalMax time.Time) (*types.Table, error) {
	a = New(a.ThresholdDays, a.Target)
	if table.Len() == 0 {
		return nil, ferrors.NewEmptyDatasetError("label: feature table is empty")
	}
	if !table.HasColumn(types.ColLastTS) {
		return nil, ferrors.NewSchemaError(fmt.Sprintf("label: column %q absent from feature table", types.ColLastTS))
	}
	if table.HasColumn(a.Target) {
		return nil, ferrors.NewSchemaError(fmt.Sprintf("label: target column %q already exists", a.Target))
	}

	out := table.Clone()
	out.Columns = append(out.Columns, a.Target)
	for i, r := range out.Rows {
		last, err := r.Time(types.ColLastTS)
		if err != nil {
			return nil, ferrors.NewSchemaError(fmt.Sprintf("label: row %d: %v", i, err))
		}
		var y float64
		if IsChurned(last, globalMax, a.ThresholdDays) {
			y = 1
		}
		r[a.Target] = y
	}
	return out, nil
}
