package inference

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/churnfeat/internal/artifact"
	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/matrix"
	"github.com/arkilian/churnfeat/internal/storage"
	"github.com/arkilian/churnfeat/pkg/types"
)

type probModel struct{}

func (probModel) PredictProbability(x []float64) (float64, error) { return 0.25, nil }

type decisionModel struct{}

func (decisionModel) DecisionFunction(x []float64) (float64, error) { return 0, nil }

type labelModel struct{ y float64 }

func (m labelModel) Predict(x []float64) (float64, error) { return m.y, nil }

// bothModel exposes probability and decision; probability wins.
type bothModel struct {
	probModel
	decisionModel
}

type failingModel struct{}

func (failingModel) PredictProbability(x []float64) (float64, error) {
	return 0, errors.New("boom")
}

func trainPlan(t *testing.T) *matrix.Plan {
	t.Helper()
	table := &types.Table{
		Columns: []string{"entity_id", "events", "primary_os", "churn"},
		Rows: []types.Row{
			{"entity_id": "1", "events": 10.0, "primary_os": "ios", "churn": 0.0},
			{"entity_id": "2", "events": 20.0, "primary_os": "mac", "churn": 1.0},
			{"entity_id": "3", "events": 30.0, "primary_os": "ios", "churn": 1.0},
		},
	}
	ds, err := matrix.NewBuilder(matrix.Options{}).Build(table, "churn", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"events", "primary_os"}, ds.Plan.InputColumns)
	return ds.Plan
}

func publishRun(t *testing.T, runID string) (*artifact.Store, string) {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	st, err := storage.NewLocalStorage(filepath.Join(root, "store"))
	require.NoError(t, err)
	store := artifact.NewStore(st)

	plan := trainPlan(t)
	stage, err := artifact.NewStage(root)
	require.NoError(t, err)
	defer stage.Cleanup()

	require.NoError(t, stage.WriteJSON(artifact.SchemaFile, plan.InputColumns))
	f, err := stage.Create(artifact.PlanFile)
	require.NoError(t, err)
	require.NoError(t, plan.WriteJSON(f))
	require.NoError(t, f.Close())

	require.NoError(t, store.Publish(ctx, runID, stage, &artifact.Manifest{}))
	return store, root
}

func TestNewScorer_Dispatch(t *testing.T) {
	tests := []struct {
		name   string
		model  any
		method string
		score  float64
	}{
		{"probability", probModel{}, MethodProbability, 0.25},
		{"decision", decisionModel{}, MethodDecision, 0.5},
		{"label", labelModel{y: 1}, MethodLabel, 1},
		{"label clipped high", labelModel{y: 3}, MethodLabel, 1},
		{"label clipped low", labelModel{y: -2}, MethodLabel, 0},
		{"probability preferred", bothModel{}, MethodProbability, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewScorer(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.method, s.Method())
			got, err := s.Score(nil)
			require.NoError(t, err)
			assert.InDelta(t, tt.score, got, 1e-12)
		})
	}
}

func TestNewScorer_Unsupported(t *testing.T) {
	_, err := NewScorer(struct{}{})
	require.Error(t, err)
	assert.Equal(t, ferrors.CodeUnsupportedModel, ferrors.GetCode(err))

	_, err = New("r", trainPlan(t).InputColumns, trainPlan(t), "not a model")
	assert.Equal(t, ferrors.CodeUnsupportedModel, ferrors.GetCode(err), "rejected at construction")
}

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 1, Sigmoid(800), 1e-12)
	assert.InDelta(t, 0, Sigmoid(-800), 1e-12)
	assert.False(t, math.IsNaN(Sigmoid(-800)))
	assert.InDelta(t, 1-Sigmoid(2), Sigmoid(-2), 1e-12)
}

func TestArtifacts_ScoreAligned(t *testing.T) {
	plan := trainPlan(t)
	a, err := New("run-1", plan.InputColumns, plan, probModel{})
	require.NoError(t, err)

	pred, err := a.Score(map[string]any{"primary_os": "mac", "unexpected": 1.0}, true)
	require.NoError(t, err)
	assert.Equal(t, MethodProbability, pred.Method)
	assert.Equal(t, 0.25, pred.Score)
	assert.Equal(t, []string{"events", "primary_os"}, pred.Record.Columns)
	assert.Equal(t, []any{0.0, "mac"}, pred.Record.Values)
	assert.Equal(t, []float64{0, 0, 1}, pred.Features)
	assert.Empty(t, pred.Gaps)
}

func TestArtifacts_StrictMismatch(t *testing.T) {
	plan := trainPlan(t)
	a, err := New("run-1", plan.InputColumns, plan, probModel{})
	require.NoError(t, err)

	_, err = a.Score(map[string]any{"primary_os": "mac", "unexpected": 1.0}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrColumnMismatch))

	details := ferrors.GetDetails(err)
	assert.Equal(t, []string{"events"}, details["missing"])
	assert.Equal(t, []string{"unexpected"}, details["extra"])
	assert.Equal(t, []string{"events", "primary_os"}, details["expected_order"])

	pred, err := a.Score(map[string]any{"primary_os": "ios", "events": 20.0}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 1, 0}, pred.Features)
}

func TestArtifacts_UnseenCategory(t *testing.T) {
	plan := trainPlan(t)
	a, err := New("run-1", plan.InputColumns, plan, nil)
	require.NoError(t, err)
	assert.Equal(t, "", a.Method())

	_, vec, gaps, err := a.Encode(map[string]any{"events": 5.0, "primary_os": "linux"}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 0, 0}, vec)
	require.Len(t, gaps, 1)
	assert.Equal(t, "primary_os", gaps[0].Column)

	_, err = a.Score(map[string]any{}, true)
	assert.Equal(t, ferrors.CodeUnsupportedModel, ferrors.GetCode(err))
}

func TestArtifacts_ModelFailure(t *testing.T) {
	plan := trainPlan(t)
	a, err := New("run-1", plan.InputColumns, plan, failingModel{})
	require.NoError(t, err)
	_, err = a.Score(ZeroExample(plan.InputColumns), false)
	assert.Error(t, err)
}

func TestNew_SchemaMustMatchPlan(t *testing.T) {
	plan := trainPlan(t)
	_, err := New("r", []string{"primary_os", "events"}, plan, nil)
	assert.True(t, errors.Is(err, ferrors.ErrColumnMismatch))

	_, err = New("r", []string{"events"}, plan, nil)
	assert.True(t, errors.Is(err, ferrors.ErrColumnMismatch))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store, root := publishRun(t, "run-1")

	direct, err := Load(ctx, store, "run-1", decisionModel{}, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "primary_os"}, direct.Schema())
	assert.Equal(t, MethodDecision, direct.Method())
	assert.NotNil(t, direct.Manifest())

	cached, err := Load(ctx, store, "run-1", nil, LoadOptions{CacheDir: filepath.Join(root, "cache")})
	require.NoError(t, err)
	assert.Equal(t, direct.Plan(), cached.Plan())

	pred, err := direct.Score(ZeroExample(direct.Schema()), false)
	require.NoError(t, err)
	assert.Equal(t, 0.5, pred.Score)
}

func TestLoad_MissingRun(t *testing.T) {
	store, _ := publishRun(t, "run-1")
	_, err := Load(context.Background(), store, "run-2", probModel{}, LoadOptions{})
	require.Error(t, err)
	assert.True(t, artifact.IsNotFound(err))
}

func TestExamples(t *testing.T) {
	schema := []string{"events", "primary_os"}
	assert.Equal(t, map[string]any{"events": 0.0, "primary_os": 0.0}, ZeroExample(schema))

	row := types.Row{"entity_id": "7", "events": 3.0, "primary_os": nil}
	assert.Equal(t, map[string]any{"events": 3.0, "primary_os": 0.0}, ExampleFromRow(schema, row))
}
