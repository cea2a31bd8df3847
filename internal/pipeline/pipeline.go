// Package pipeline runs the feature-engineering stages end to end and
// publishes the run's artifacts once every stage has succeeded.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arkilian/churnfeat/internal/aggregate"
	"github.com/arkilian/churnfeat/internal/artifact"
	"github.com/arkilian/churnfeat/internal/featurestore"
	"github.com/arkilian/churnfeat/internal/ingest"
	"github.com/arkilian/churnfeat/internal/label"
	"github.com/arkilian/churnfeat/internal/matrix"
	"github.com/arkilian/churnfeat/internal/normalize"
	"github.com/arkilian/churnfeat/internal/observability"
	"github.com/arkilian/churnfeat/pkg/types"
)

// Stage names used in logs and metrics.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageAggregate = "aggregate"
	StageLabel     = "label"
	StageMatrix    = "matrix"
	StagePublish   = "publish"
)

// Options configures a pipeline.
type Options struct {
	// Aliases renames raw keys (see ingest.Options)
	Aliases map[string]string

	// DropColumns are raw columns removed before normalization
	DropColumns []string

	ThresholdDays  int
	Target         string
	PlayEventTypes []string
	OKStatus       int
	Workers        int

	// FeatureDrop lists extra feature columns excluded from X
	FeatureDrop []string

	Matrix matrix.Options

	// StagingDir holds artifacts until they are published
	StagingDir string
}

// Pipeline chains the stages. It is safe to run repeatedly; each run gets a
// fresh run id.
type Pipeline struct {
	opts     Options
	assigner *label.Assigner
	store    *artifact.Store
	logger   *slog.Logger
	stats    *observability.Stats

	now   func() time.Time
	runID func() (string, error)
}

// Output is what the stages produce before anything is published.
type Output struct {
	RecordsRead int
	Events      *types.EventLog
	Features    *types.Table
	Dataset     *matrix.Dataset
	GlobalMax   time.Time
}

// Result describes a published run.
type Result struct {
	RunID    string
	Output   *Output
	Manifest *artifact.Manifest
	Snapshot *featurestore.Info
}

// New creates a pipeline. A nil stats gets a fresh collector.
func New(opts Options, store *artifact.Store, logger *slog.Logger, stats *observability.Stats) *Pipeline {
	if stats == nil {
		stats = observability.NewStats()
	}
	return &Pipeline{
		opts:     opts,
		assigner: label.New(opts.ThresholdDays, opts.Target),
		store:    store,
		logger:   logger,
		stats:    stats,
		now:      time.Now,
		runID:    newRunID,
	}
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Stats returns the collector the pipeline reports to.
func (p *Pipeline) Stats() *observability.Stats {
	return p.stats
}

// RunFile reads an NDJSON log and runs the pipeline on it.
func (p *Pipeline) RunFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	raw, err := ingest.ReadFile(ctx, path, ingest.Options{Aliases: p.opts.Aliases})
	if err != nil {
		return nil, err
	}
	p.stats.ObserveStage(StageIngest, start)
	p.logger.Info("input read", "path", path, "records", len(raw.Records), "columns", len(raw.Columns))
	return p.Run(ctx, raw)
}

// Run computes every stage and publishes the artifacts under a new run id.
// Nothing is published when any stage fails.
func (p *Pipeline) Run(ctx context.Context, raw *ingest.Log) (*Result, error) {
	runID, err := p.runID()
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to allocate run id: %w", err)
	}
	logger := p.logger.With("run_id", runID)

	out, err := p.compute(ctx, raw, logger)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	start := time.Now()
	res, err := p.publish(ctx, runID, out)
	if err != nil {
		logger.Error("publish failed", "error", err)
		return nil, err
	}
	p.stats.ObserveStage(StagePublish, start)
	logger.Info("run published",
		"entities", res.Manifest.Entities,
		"positives", res.Manifest.Positives,
		"features", res.Manifest.Features)
	return res, nil
}

// Compute runs the stages without publishing.
func (p *Pipeline) Compute(ctx context.Context, raw *ingest.Log) (*Output, error) {
	return p.compute(ctx, raw, p.logger)
}

func (p *Pipeline) compute(ctx context.Context, raw *ingest.Log, logger *slog.Logger) (*Output, error) {
	start := time.Now()
	events, err := normalize.New(normalize.Options{
		DropColumns: p.opts.DropColumns,
		Stats:       p.stats,
	}).Normalize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageNormalize, err)
	}
	p.stats.ObserveStage(StageNormalize, start)
	logger.Info("stage done", "stage", StageNormalize, "events", events.Len(), "fields", events.Fields())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	agg, err := aggregate.NewEngine(aggregate.Options{
		Workers:        p.opts.Workers,
		PlayEventTypes: p.opts.PlayEventTypes,
		OKStatus:       p.opts.OKStatus,
	}).Aggregate(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageAggregate, err)
	}
	p.stats.ObserveStage(StageAggregate, start)
	p.stats.Entities(agg.Table.Len())
	logger.Info("stage done", "stage", StageAggregate,
		"entities", agg.Table.Len(), "columns", len(agg.Table.Columns), "global_max", agg.GlobalMax)

	start = time.Now()
	labelled, err := p.assigner.Assign(agg.Table, agg.GlobalMax)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageLabel, err)
	}
	p.stats.ObserveStage(StageLabel, start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	mopts := p.opts.Matrix
	mopts.Stats = p.stats
	ds, err := matrix.NewBuilder(mopts).Build(labelled, p.assigner.Target, p.opts.FeatureDrop)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageMatrix, err)
	}
	ds.Plan.Vocabulary = agg.Vocabulary
	p.stats.ObserveStage(StageMatrix, start)
	logger.Info("stage done", "stage", StageMatrix,
		"rows", len(ds.Y), "input_columns", len(ds.Plan.InputColumns), "features", ds.Plan.Width())

	return &Output{
		RecordsRead: len(raw.Records),
		Events:      events,
		Features:    labelled,
		Dataset:     ds,
		GlobalMax:   agg.GlobalMax,
	}, nil
}

// FeaturizeFile reads the NDJSON log at path and featurizes it with vocab.
func (p *Pipeline) FeaturizeFile(ctx context.Context, path string, vocab *types.Vocabulary) (*types.Table, error) {
	raw, err := ingest.ReadFile(ctx, path, ingest.Options{Aliases: p.opts.Aliases})
	if err != nil {
		return nil, err
	}
	p.logger.Info("serving log read", "path", path, "records", len(raw.Records))
	return p.Featurize(ctx, raw, vocab)
}

// Featurize normalizes and aggregates raw with a fixed vocabulary, producing
// the unlabelled feature table a trained plan expects. The raw drop set is
// not applied, so serving logs need not carry the columns dropped in
// training.
func (p *Pipeline) Featurize(ctx context.Context, raw *ingest.Log, vocab *types.Vocabulary) (*types.Table, error) {
	events, err := normalize.New(normalize.Options{Stats: p.stats}).Normalize(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageNormalize, err)
	}
	agg, err := aggregate.NewEngine(aggregate.Options{
		Vocabulary:     vocab,
		Workers:        p.opts.Workers,
		PlayEventTypes: p.opts.PlayEventTypes,
		OKStatus:       p.opts.OKStatus,
	}).Aggregate(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: %w", StageAggregate, err)
	}
	return agg.Table, nil
}

func (p *Pipeline) publish(ctx context.Context, runID string, out *Output) (*Result, error) {
	stage, err := artifact.NewStage(p.opts.StagingDir)
	if err != nil {
		return nil, err
	}
	defer stage.Cleanup()

	f, err := stage.Create(artifact.EventsFile)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteEvents(f, out.Events); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("pipeline: failed to close events: %w", err)
	}

	snapshot, err := featurestore.Write(ctx, stage.Path(artifact.FeaturesFile), out.Features)
	if err != nil {
		return nil, err
	}

	plan := out.Dataset.Plan
	if err := stage.WriteJSON(artifact.SchemaFile, plan.InputColumns); err != nil {
		return nil, err
	}
	pf, err := stage.Create(artifact.PlanFile)
	if err != nil {
		return nil, err
	}
	if err := plan.WriteJSON(pf); err != nil {
		pf.Close()
		return nil, err
	}
	if err := pf.Close(); err != nil {
		return nil, fmt.Errorf("pipeline: failed to close plan: %w", err)
	}

	m := &artifact.Manifest{
		CreatedAt:     p.now().UTC(),
		Target:        plan.Target,
		ThresholdDays: p.assigner.ThresholdDays,
		RecordsRead:   out.RecordsRead,
		Events:        out.Events.Len(),
		Entities:      out.Features.Len(),
		Positives:     positives(out.Dataset.Y),
		InputColumns:  len(plan.InputColumns),
		Features:      plan.Width(),
	}
	for _, d := range p.stats.DroppedColumns() {
		m.Dropped = append(m.Dropped, artifact.DroppedColumn{Column: d.Column, Reason: d.Reason})
	}

	if err := p.store.Publish(ctx, runID, stage, m); err != nil {
		return nil, err
	}
	return &Result{RunID: runID, Output: out, Manifest: m, Snapshot: snapshot}, nil
}

func positives(y []int) int {
	n := 0
	for _, v := range y {
		n += v
	}
	return n
}
