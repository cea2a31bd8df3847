package matrix

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/observability"
	"github.com/arkilian/churnfeat/pkg/types"
)

var t0 = time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC)

func trainingTable() *types.Table {
	return &types.Table{
		Columns: []string{
			types.ColEntityID, types.ColEvents, types.ColFirstTS, types.ColLastTS,
			types.ColRegistration, "constant", "primary_os", "error_rate", "churn",
		},
		Rows: []types.Row{
			{types.ColEntityID: "1", types.ColEvents: 3.0, types.ColFirstTS: t0, types.ColLastTS: t0.Add(time.Hour),
				types.ColRegistration: t0.AddDate(0, -1, 0), "constant": 7.0, "primary_os": "windows", "error_rate": 0.0, "churn": 0.0},
			{types.ColEntityID: "2", types.ColEvents: 1.0, types.ColFirstTS: t0.Add(time.Minute), types.ColLastTS: t0.Add(2 * time.Hour),
				types.ColRegistration: t0.AddDate(0, -2, 0), "constant": 7.0, "primary_os": "mac", "error_rate": nil, "churn": 1.0},
			{types.ColEntityID: "3", types.ColEvents: 5.0, types.ColFirstTS: t0.Add(2 * time.Minute), types.ColLastTS: t0.Add(3 * time.Hour),
				types.ColRegistration: t0.AddDate(0, -3, 0), "constant": 7.0, "primary_os": nil, "error_rate": 0.5, "churn": 1.0},
		},
	}
}

func TestBuild_LeakageFreeAndTyped(t *testing.T) {
	stats := observability.NewStats()
	opts := DefaultOptions()
	opts.Stats = stats

	ds, err := NewBuilder(opts).Build(trainingTable(), "churn", []string{"not_a_column"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, c := range append(LeakageColumns, "churn", "constant") {
		if ds.X.HasColumn(c) {
			t.Errorf("column %q must not appear in X", c)
		}
	}
	if !reflect.DeepEqual(ds.X.Columns, []string{types.ColEvents, "primary_os", "error_rate"}) {
		t.Errorf("X columns = %v", ds.X.Columns)
	}
	if !reflect.DeepEqual(ds.Y, []int{0, 1, 1}) {
		t.Errorf("Y = %v", ds.Y)
	}
	if !reflect.DeepEqual(ds.EntityIDs, []string{"1", "2", "3"}) {
		t.Errorf("EntityIDs = %v", ds.EntityIDs)
	}

	wantNames := []string{types.ColEvents, "error_rate", "primary_os_mac", "primary_os_windows"}
	if !reflect.DeepEqual(ds.Plan.FeatureNames, wantNames) {
		t.Errorf("feature names = %v, want %v", ds.Plan.FeatureNames, wantNames)
	}

	os := ds.Plan.Columns[1]
	if os.Kind != KindCategorical || os.MostFrequent != "mac" {
		t.Errorf("primary_os plan = %+v (ties resolve to the smallest value)", os)
	}
	rate := ds.Plan.Columns[2]
	if rate.Kind != KindNumeric || rate.Median != 0.25 {
		t.Errorf("error_rate plan = %+v", rate)
	}

	// Entity 2's error_rate is imputed with the median before scaling.
	if got := ds.Encoded[1][1]; math.Abs(got-0.25/rate.Std) > 1e-12 {
		t.Errorf("imputed error_rate = %v", got)
	}
	// Entity 3's missing OS takes the most frequent value.
	if !reflect.DeepEqual(ds.Encoded[2][2:], []float64{1, 0}) {
		t.Errorf("imputed primary_os encoding = %v", ds.Encoded[2][2:])
	}

	reasons := map[string]string{}
	for _, d := range stats.DroppedColumns() {
		reasons[d.Column] = d.Reason
	}
	if reasons["constant"] != observability.ColumnConstant || reasons[types.ColFirstTS] != observability.ColumnLeakage {
		t.Errorf("dropped columns = %v", reasons)
	}
	if _, ok := reasons["not_a_column"]; ok {
		t.Error("absent drop column should be ignored")
	}
}

func TestBuild_Scaling(t *testing.T) {
	table := &types.Table{
		Columns: []string{types.ColEntityID, "x", "y"},
		Rows: []types.Row{
			{types.ColEntityID: "a", "x": 1.0, "y": 0.0},
			{types.ColEntityID: "b", "x": 3.0, "y": 1.0},
		},
	}

	ds, err := NewBuilder(Options{ScaleNumeric: true, WithMean: true}).Build(table, "y", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(ds.Encoded, [][]float64{{-1}, {1}}) {
		t.Errorf("standardized = %v, want [[-1] [1]]", ds.Encoded)
	}

	ds, err = NewBuilder(Options{ScaleNumeric: true}).Build(table, "y", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !reflect.DeepEqual(ds.Encoded, [][]float64{{1}, {3}}) {
		t.Errorf("scaled without mean = %v, want [[1] [3]]", ds.Encoded)
	}

	ds, err = NewBuilder(Options{}).Build(table, "y", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ds.Plan.Columns[0].Scale {
		t.Error("scaling disabled but plan scales")
	}
}

func TestBuild_Errors(t *testing.T) {
	b := NewBuilder(DefaultOptions())

	if _, err := b.Build(&types.Table{}, "churn", nil); !errors.Is(err, ferrors.ErrEmptyDataset) {
		t.Errorf("empty table: got %v", err)
	}
	if _, err := b.Build(trainingTable(), "label", nil); !errors.Is(err, ferrors.ErrSchema) {
		t.Errorf("missing target: got %v", err)
	}

	noTarget := trainingTable()
	for _, r := range noTarget.Rows {
		r["churn"] = nil
	}
	if _, err := b.Build(noTarget, "churn", nil); !errors.Is(err, ferrors.ErrEmptyDataset) {
		t.Errorf("no targets: got %v", err)
	}

	if _, err := b.Build(trainingTable(), "churn", []string{types.ColEvents, "primary_os", "error_rate"}); !errors.Is(err, ferrors.ErrEmptyDataset) {
		t.Errorf("no features: got %v", err)
	}
}

func TestPlan_UnseenCategoryEncodesToZeros(t *testing.T) {
	ds, err := NewBuilder(DefaultOptions()).Build(trainingTable(), "churn", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	rec := Align(map[string]any{types.ColEvents: 2.0, "primary_os": "plan9", "error_rate": 0.1}, ds.Plan.InputColumns)
	vec, gaps, err := ds.Plan.TransformRecord(rec)
	if err != nil {
		t.Fatalf("TransformRecord failed: %v", err)
	}
	if !reflect.DeepEqual(vec[2:], []float64{0, 0}) {
		t.Errorf("unseen category should encode to zeros, got %v", vec[2:])
	}
	if len(gaps) != 1 || gaps[0].Column != "primary_os" || gaps[0].Value != "plan9" {
		t.Fatalf("gaps = %+v", gaps)
	}
	if !errors.Is(gaps[0].Err(), ferrors.ErrEncodingGap) {
		t.Error("gap should carry the ENCODING_GAP code")
	}
}

func TestPlan_TransformRejectsColumnMismatch(t *testing.T) {
	ds, err := NewBuilder(DefaultOptions()).Build(trainingTable(), "churn", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	bad := ds.X.WithoutColumns("error_rate")
	bad.Columns = append(bad.Columns, "surprise")
	_, _, err = ds.Plan.Transform(bad)
	if !errors.Is(err, ferrors.ErrColumnMismatch) {
		t.Fatalf("expected column mismatch, got %v", err)
	}
	details := ferrors.GetDetails(err)
	if !reflect.DeepEqual(details["missing"], []string{"error_rate"}) || !reflect.DeepEqual(details["extra"], []string{"surprise"}) {
		t.Errorf("details = %v", details)
	}

	reordered := Record{Columns: []string{"primary_os", types.ColEvents, "error_rate"}, Values: []any{"mac", 1.0, 0.0}}
	if _, _, err := ds.Plan.TransformRecord(reordered); !errors.Is(err, ferrors.ErrColumnMismatch) {
		t.Errorf("out-of-order record: got %v", err)
	}
}

func TestPlan_JSONReplayIsExact(t *testing.T) {
	ds, err := NewBuilder(Options{ScaleNumeric: true, WithMean: true}).Build(trainingTable(), "churn", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := ds.Plan.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	loaded, err := ReadPlan(&buf)
	if err != nil {
		t.Fatalf("ReadPlan failed: %v", err)
	}

	replayed, _, err := loaded.Transform(ds.X)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !reflect.DeepEqual(replayed, ds.Encoded) {
		t.Errorf("replayed matrix differs:\n got %v\nwant %v", replayed, ds.Encoded)
	}
}

func TestReadPlan_RejectsInconsistentPlan(t *testing.T) {
	in := `{"version":1,"input_columns":["a"],"columns":[{"name":"b","kind":"numeric"}],"feature_names":["b"]}`
	if _, err := ReadPlan(bytes.NewBufferString(in)); !errors.Is(err, ferrors.ErrColumnMismatch) {
		t.Errorf("got %v", err)
	}
}

func TestCheckColumns(t *testing.T) {
	missing, extra := CheckColumns([]string{"b", "z", "a"}, []string{"a", "b", "c"})
	if !reflect.DeepEqual(missing, []string{"c"}) || !reflect.DeepEqual(extra, []string{"z"}) {
		t.Errorf("missing=%v extra=%v", missing, extra)
	}
}

// TestProperty_AlignRoundTrip checks that aligning any record against an
// expected column list yields exactly that list, in order.
func TestProperty_AlignRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("aligned keys equal expected order", prop.ForAll(
		func(keys []string, expected []string) bool {
			raw := make(map[string]any, len(keys))
			for i, k := range keys {
				raw[k] = float64(i)
			}
			expected = dedupe(expected)

			rec := Align(raw, expected)
			if !reflect.DeepEqual(rec.Columns, expected) || len(rec.Values) != len(expected) {
				return false
			}
			for i, c := range expected {
				want, ok := raw[c]
				if !ok {
					want = 0.0
				}
				if rec.Values[i] != want {
					return false
				}
			}
			missing, extra := CheckColumns(rec.Columns, expected)
			return len(missing) == 0 && len(extra) == 0
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func dedupe(s []string) []string {
	seen := make(map[string]bool, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
