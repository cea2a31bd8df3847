// Package app wires configuration, storage, logging and the pipeline into
// the operations exposed by the churnfeat binary.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arkilian/churnfeat/internal/artifact"
	"github.com/arkilian/churnfeat/internal/config"
	"github.com/arkilian/churnfeat/internal/inference"
	"github.com/arkilian/churnfeat/internal/matrix"
	"github.com/arkilian/churnfeat/internal/observability"
	"github.com/arkilian/churnfeat/internal/pipeline"
	"github.com/arkilian/churnfeat/internal/storage"
	"github.com/arkilian/churnfeat/pkg/types"
)

// App holds the shared resources of one invocation.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	stats  *observability.Stats

	storage   storage.ObjectStorage
	artifacts *artifact.Store
}

// AlignResult is a record aligned to a run's schema and encoded with its plan.
type AlignResult struct {
	RunID        string               `json:"run_id"`
	Columns      []string             `json:"columns"`
	Values       []any                `json:"values"`
	FeatureNames []string             `json:"feature_names"`
	Features     []float64            `json:"features"`
	Gaps         []matrix.EncodingGap `json:"encoding_gaps,omitempty"`
}

// FeaturizeResult holds the encoded feature vectors of a serving log.
type FeaturizeResult struct {
	RunID        string          `json:"run_id"`
	FeatureNames []string        `json:"feature_names"`
	Entities     []EntityFeature `json:"entities"`
}

// EntityFeature is one entity's encoded feature vector.
type EntityFeature struct {
	EntityID string               `json:"entity_id"`
	Features []float64            `json:"features"`
	Gaps     []matrix.EncodingGap `json:"encoding_gaps,omitempty"`
}

// New resolves and validates cfg, creates local directories and opens the
// artifact storage.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		stats:  observability.NewStats(),
	}
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	a.artifacts = artifact.NewStore(a.storage)
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		s3Cfg.Prefix = a.cfg.Storage.S3.Prefix
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

// Stats returns the run statistics collected so far.
func (a *App) Stats() *observability.Stats {
	return a.stats
}

// Artifacts returns the artifact store.
func (a *App) Artifacts() *artifact.Store {
	return a.artifacts
}

// Build runs the pipeline on the configured input and publishes a new run.
func (a *App) Build(ctx context.Context) (*pipeline.Result, error) {
	if a.cfg.Data.Input == "" {
		return nil, fmt.Errorf("no input log configured")
	}

	p := pipeline.New(a.pipelineOptions(), a.artifacts, a.logger, a.stats)
	res, err := p.RunFile(ctx, a.cfg.Data.Input)
	if werr := a.writeMetrics(); werr != nil {
		a.logger.Warn("metrics not written", "error", werr)
	}
	return res, err
}

func (a *App) pipelineOptions() pipeline.Options {
	f := a.cfg.Features
	return pipeline.Options{
		Aliases:        a.cfg.Data.Aliases,
		DropColumns:    a.cfg.Data.DropColumns,
		ThresholdDays:  f.InactivityDays,
		Target:         f.Target,
		PlayEventTypes: f.PlayEventTypes,
		OKStatus:       f.OKStatus,
		Workers:        f.Workers,
		FeatureDrop:    f.Drop,
		Matrix: matrix.Options{
			ScaleNumeric: a.cfg.Matrix.ScaleNumeric,
			WithMean:     a.cfg.Matrix.WithMean,
		},
		StagingDir: a.cfg.StagingDir(),
	}
}

func (a *App) writeMetrics() error {
	if a.cfg.Metrics.Textfile == "" {
		return nil
	}
	return a.stats.WriteTextfile(a.cfg.Metrics.Textfile)
}

// Load opens the inference context of a run; an empty runID selects the
// latest completed run.
func (a *App) Load(ctx context.Context, runID string, model any) (*inference.Artifacts, error) {
	if runID == "" {
		latest, err := a.artifacts.Latest(ctx)
		if err != nil {
			return nil, err
		}
		runID = latest
	}
	return inference.Load(ctx, a.artifacts, runID, model, inference.LoadOptions{
		CacheDir: a.cfg.Storage.CacheDir,
	})
}

// Align aligns raw to a run's schema and encodes it. With strict set a
// column mismatch is an error instead of being repaired.
func (a *App) Align(ctx context.Context, runID string, raw map[string]any, strict bool) (*AlignResult, error) {
	arts, err := a.Load(ctx, runID, nil)
	if err != nil {
		return nil, err
	}

	rec, vec, gaps, err := arts.Encode(raw, !strict)
	if err != nil {
		return nil, err
	}
	for _, g := range gaps {
		a.stats.EncodingGap(g.Column)
		a.logger.Warn("unseen category", "run_id", arts.RunID(), "column", g.Column, "value", g.Value)
	}

	return &AlignResult{
		RunID:        arts.RunID(),
		Columns:      rec.Columns,
		Values:       rec.Values,
		FeatureNames: arts.Plan().FeatureNames,
		Features:     vec,
		Gaps:         gaps,
	}, nil
}

// Featurize aggregates the serving log at path with the vocabulary of a run
// and encodes every entity with the run's plan.
func (a *App) Featurize(ctx context.Context, runID, path string) (*FeaturizeResult, error) {
	if path == "" {
		return nil, fmt.Errorf("no serving log given")
	}
	arts, err := a.Load(ctx, runID, nil)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(a.pipelineOptions(), a.artifacts, a.logger, a.stats)
	table, err := p.FeaturizeFile(ctx, path, arts.Plan().Vocabulary)
	if err != nil {
		return nil, err
	}

	out := &FeaturizeResult{
		RunID:        arts.RunID(),
		FeatureNames: arts.Plan().FeatureNames,
		Entities:     make([]EntityFeature, 0, table.Len()),
	}
	for _, row := range table.Rows {
		entity := row.StringOr(types.ColEntityID, "")
		_, vec, gaps, err := arts.Encode(row, true)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", entity, err)
		}
		for _, g := range gaps {
			a.stats.EncodingGap(g.Column)
			a.logger.Warn("unseen category", "run_id", arts.RunID(), "entity_id", entity, "column", g.Column, "value", g.Value)
		}
		out.Entities = append(out.Entities, EntityFeature{EntityID: entity, Features: vec, Gaps: gaps})
	}
	return out, nil
}

// Example returns a zero-filled payload for a run's schema.
func (a *App) Example(ctx context.Context, runID string) (map[string]any, error) {
	arts, err := a.Load(ctx, runID, nil)
	if err != nil {
		return nil, err
	}
	return inference.ZeroExample(arts.Schema()), nil
}
