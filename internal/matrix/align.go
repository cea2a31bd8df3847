package matrix

import (
	"fmt"
	"sort"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

// Record is a single pre-encoding input with an explicit column order.
type Record struct {
	Columns []string
	Values  []any
}

// Align reorders raw to the expected column order. Missing keys become 0 and
// keys outside expected are dropped.
func Align(raw map[string]any, expected []string) Record {
	rec := Record{
		Columns: make([]string, len(expected)),
		Values:  make([]any, len(expected)),
	}
	copy(rec.Columns, expected)
	for i, c := range expected {
		v, ok := raw[c]
		if !ok {
			v = 0.0
		}
		rec.Values[i] = v
	}
	return rec
}

// CheckColumns compares present column names against expected. Both results
// are sorted.
func CheckColumns(present, expected []string) (missing, extra []string) {
	have := make(map[string]bool, len(present))
	for _, c := range present {
		have[c] = true
	}
	want := make(map[string]bool, len(expected))
	for _, c := range expected {
		want[c] = true
		if !have[c] {
			missing = append(missing, c)
		}
	}
	for c := range have {
		if !want[c] {
			extra = append(extra, c)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

// Keys returns the sorted keys of a raw record.
func Keys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MismatchError reports a column-set disagreement with the persisted order.
func MismatchError(missing, extra, expected []string) *ferrors.FeatureError {
	msg := fmt.Sprintf("input columns do not match the plan: %d missing, %d unexpected", len(missing), len(extra))
	if len(missing) == 0 && len(extra) == 0 {
		msg = "input columns are not in the plan's order"
	}
	return ferrors.NewPlanError(ferrors.CodeColumnMismatch, msg).WithDetails(map[string]interface{}{
		"missing":        nonNil(missing),
		"extra":          nonNil(extra),
		"expected_order": append([]string(nil), expected...),
	})
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
