// Package inference holds the immutable context built from a published run:
// the input schema, the transformation plan and a scorer resolved once at
// load. Records are aligned to the schema, encoded with the plan and scored.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/arkilian/churnfeat/internal/artifact"
	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/matrix"
	"github.com/arkilian/churnfeat/internal/storage"
	"github.com/arkilian/churnfeat/pkg/types"
)

// Artifacts is the loaded, read-only inference context of one run. It is safe
// for concurrent use.
type Artifacts struct {
	runID    string
	schema   []string
	plan     *matrix.Plan
	manifest *artifact.Manifest
	scorer   Scorer
}

// Prediction is the result of scoring one record.
type Prediction struct {
	Score    float64
	Method   string
	Record   matrix.Record
	Features []float64
	Gaps     []matrix.EncodingGap
}

// LoadOptions configures Load.
type LoadOptions struct {
	// CacheDir, when set, makes Load download the artifacts into a local
	// cache and verify them against the manifest.
	CacheDir string

	// Concurrency bounds parallel downloads (default 2).
	Concurrency int
}

// Load reads the schema and plan of a completed run and resolves the scorer
// for model. A nil model yields an encode-only context.
func Load(ctx context.Context, store *artifact.Store, runID string, model any, opts LoadOptions) (*Artifacts, error) {
	m, err := store.Manifest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("inference: run %s is not available: %w", runID, err)
	}

	var schema []string
	var plan *matrix.Plan
	if opts.CacheDir != "" {
		schema, plan, err = loadCached(ctx, store.Storage(), m, opts)
	} else {
		schema, plan, err = loadDirect(ctx, store, runID)
	}
	if err != nil {
		return nil, err
	}

	a, err := New(runID, schema, plan, model)
	if err != nil {
		return nil, err
	}
	a.manifest = m
	return a, nil
}

func loadDirect(ctx context.Context, store *artifact.Store, runID string) ([]string, *matrix.Plan, error) {
	var schema []string
	if err := store.ReadJSON(ctx, runID, artifact.SchemaFile, &schema); err != nil {
		return nil, nil, err
	}

	r, err := store.Storage().Open(ctx, artifact.RunPath(runID, artifact.PlanFile))
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	plan, err := matrix.ReadPlan(r)
	if err != nil {
		return nil, nil, err
	}
	return schema, plan, nil
}

func loadCached(ctx context.Context, st storage.ObjectStorage, m *artifact.Manifest, opts LoadOptions) ([]string, *matrix.Plan, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	schemaPath := artifact.RunPath(m.RunID, artifact.SchemaFile)
	planPath := artifact.RunPath(m.RunID, artifact.PlanFile)

	res, err := storage.NewFetcher(st, concurrency, opts.CacheDir).Fetch(ctx, []string{schemaPath, planPath})
	if err != nil {
		return nil, nil, err
	}
	for name, p := range map[string]string{artifact.SchemaFile: schemaPath, artifact.PlanFile: planPath} {
		if err := m.Verify(name, res.LocalPaths[p]); err != nil {
			return nil, nil, err
		}
	}

	data, err := os.ReadFile(res.LocalPaths[schemaPath])
	if err != nil {
		return nil, nil, fmt.Errorf("inference: failed to read schema: %w", err)
	}
	var schema []string
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, nil, fmt.Errorf("inference: failed to decode schema: %w", err)
	}

	f, err := os.Open(res.LocalPaths[planPath])
	if err != nil {
		return nil, nil, fmt.Errorf("inference: failed to open plan: %w", err)
	}
	defer f.Close()
	plan, err := matrix.ReadPlan(f)
	if err != nil {
		return nil, nil, err
	}
	return schema, plan, nil
}

// New builds a context from an in-memory schema and plan. The schema must be
// the plan's input column order.
func New(runID string, schema []string, plan *matrix.Plan, model any) (*Artifacts, error) {
	if plan == nil {
		return nil, ferrors.NewInternalError("inference: nil plan", nil)
	}
	missing, extra := matrix.CheckColumns(schema, plan.InputColumns)
	if len(missing) > 0 || len(extra) > 0 || len(schema) != len(plan.InputColumns) {
		return nil, matrix.MismatchError(missing, extra, plan.InputColumns)
	}
	for i := range schema {
		if schema[i] != plan.InputColumns[i] {
			return nil, matrix.MismatchError(nil, nil, plan.InputColumns)
		}
	}

	a := &Artifacts{
		runID:  runID,
		schema: append([]string(nil), schema...),
		plan:   plan,
	}
	if model != nil {
		scorer, err := NewScorer(model)
		if err != nil {
			return nil, err
		}
		a.scorer = scorer
	}
	return a, nil
}

// RunID returns the run the context was loaded from.
func (a *Artifacts) RunID() string { return a.runID }

// Schema returns a copy of the pre-encoding column order.
func (a *Artifacts) Schema() []string {
	return append([]string(nil), a.schema...)
}

// Plan returns the transformation plan. Callers must not modify it.
func (a *Artifacts) Plan() *matrix.Plan { return a.plan }

// Manifest returns the run manifest, or nil for contexts built with New.
func (a *Artifacts) Manifest() *artifact.Manifest { return a.manifest }

// Method returns the resolved scoring method, or "" when encode-only.
func (a *Artifacts) Method() string {
	if a.scorer == nil {
		return ""
	}
	return a.scorer.Method()
}

// Encode aligns raw to the schema and encodes it. With align false the
// record's keys must equal the schema exactly, otherwise a
// PLAN:COLUMN_MISMATCH error lists the missing and extra columns and the
// expected order. With align true missing columns become 0 and extras are
// dropped.
func (a *Artifacts) Encode(raw map[string]any, align bool) (matrix.Record, []float64, []matrix.EncodingGap, error) {
	if !align {
		missing, extra := matrix.CheckColumns(matrix.Keys(raw), a.schema)
		if len(missing) > 0 || len(extra) > 0 {
			return matrix.Record{}, nil, nil, matrix.MismatchError(missing, extra, a.schema)
		}
	}
	rec := matrix.Align(raw, a.schema)
	vec, gaps, err := a.plan.TransformRecord(rec)
	if err != nil {
		return matrix.Record{}, nil, nil, err
	}
	return rec, vec, gaps, nil
}

// Score encodes raw and scores it with the resolved model.
func (a *Artifacts) Score(raw map[string]any, align bool) (*Prediction, error) {
	if a.scorer == nil {
		return nil, ferrors.NewPlanError(ferrors.CodeUnsupportedModel, "no model loaded for run "+a.runID)
	}
	rec, vec, gaps, err := a.Encode(raw, align)
	if err != nil {
		return nil, err
	}
	score, err := a.scorer.Score(vec)
	if err != nil {
		return nil, fmt.Errorf("inference: model failed: %w", err)
	}
	return &Prediction{
		Score:    clip01(score),
		Method:   a.scorer.Method(),
		Record:   rec,
		Features: vec,
		Gaps:     gaps,
	}, nil
}

// ZeroExample returns a minimal payload with every schema column set to 0.
func ZeroExample(schema []string) map[string]any {
	ex := make(map[string]any, len(schema))
	for _, c := range schema {
		ex[c] = 0.0
	}
	return ex
}

// ExampleFromRow builds a payload from a feature row, keeping only schema
// columns. Absent or missing cells become 0.
func ExampleFromRow(schema []string, row types.Row) map[string]any {
	ex := ZeroExample(schema)
	for _, c := range schema {
		if v, ok := row[c]; ok && !types.IsMissing(v) {
			ex[c] = v
		}
	}
	return ex
}
