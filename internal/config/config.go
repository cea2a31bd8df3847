// Package config provides configuration for churnfeat runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/ingest"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHURNFEAT_"

// Config holds the configuration of a pipeline run.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir" validate:"required"`

	Data     DataConfig     `json:"data" yaml:"data"`
	Features FeaturesConfig `json:"features" yaml:"features"`
	Matrix   MatrixConfig   `json:"matrix" yaml:"matrix"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// DataConfig describes the raw input log.
type DataConfig struct {
	// Input is the NDJSON event log
	Input string `json:"input" yaml:"input"`

	// Aliases renames source keys to canonical field names
	Aliases map[string]string `json:"aliases" yaml:"aliases"`

	// DropColumns are raw columns removed before normalization. Every one
	// must exist in the log.
	DropColumns []string `json:"drop_columns" yaml:"drop_columns"`
}

// FeaturesConfig controls aggregation and labelling.
type FeaturesConfig struct {
	// InactivityDays is the churn threshold
	InactivityDays int `json:"inactivity_days" yaml:"inactivity_days" validate:"gte=1"`

	// Target is the label column name
	Target string `json:"target" yaml:"target" validate:"required"`

	// PlayEventTypes are the event types counted as plays
	PlayEventTypes []string `json:"play_event_types" yaml:"play_event_types" validate:"min=1,dive,required"`

	// OKStatus is the status code counted as success
	OKStatus int `json:"ok_status" yaml:"ok_status" validate:"gte=100,lte=599"`

	// Workers bounds the parallel shard reduction (0 = GOMAXPROCS)
	Workers int `json:"workers" yaml:"workers" validate:"gte=0"`

	// Drop lists extra feature columns removed before fitting
	Drop []string `json:"drop" yaml:"drop"`
}

// MatrixConfig controls feature-matrix fitting.
type MatrixConfig struct {
	ScaleNumeric bool `json:"scale_numeric" yaml:"scale_numeric"`
	WithMean     bool `json:"with_mean" yaml:"with_mean"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" validate:"oneof=local s3"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// CacheDir holds artifacts downloaded for inference
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures run statistics export.
type MetricsConfig struct {
	// Textfile is written in the node-exporter textfile format after a run
	Textfile string `json:"textfile" yaml:"textfile"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/churnfeat",
		Data: DataConfig{
			Aliases: ingest.DefaultAliases(),
		},
		Features: FeaturesConfig{
			InactivityDays: 30,
			Target:         "churn",
			PlayEventTypes: []string{"nextsong", "play"},
			OKStatus:       200,
		},
		Matrix: MatrixConfig{
			ScaleNumeric: true,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/churnfeat"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// StagingDir returns the directory run artifacts are staged in.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration. Failures are CONFIG:INVALID_CONFIG.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return ferrors.NewConfigError("invalid fields: "+strings.Join(fields, ", "), err)
		}
		return ferrors.NewConfigError("validation failed", err)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return ferrors.NewConfigError("s3.bucket is required when storage type is s3", nil)
	}
	for _, d := range c.Features.Drop {
		if d == c.Features.Target {
			return ferrors.NewConfigError(fmt.Sprintf("features.drop must not name the target %q", d), nil)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.NewConfigError("failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, ferrors.NewConfigError("failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, ferrors.NewConfigError("failed to parse JSON config", err)
		}
	default:
		return nil, ferrors.NewConfigError(fmt.Sprintf("unsupported config file format: %s", ext), nil)
	}

	return cfg, nil
}

// LoadFromEnv applies CHURNFEAT_* environment variables to cfg. Malformed
// numbers and booleans are reported rather than ignored.
func LoadFromEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = splitList(v)
		}
	}

	var errs []error
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	str("INPUT", &cfg.Data.Input)
	list("DROP_COLUMNS", &cfg.Data.DropColumns)

	num("INACTIVITY_DAYS", &cfg.Features.InactivityDays)
	str("TARGET", &cfg.Features.Target)
	list("PLAY_EVENT_TYPES", &cfg.Features.PlayEventTypes)
	num("OK_STATUS", &cfg.Features.OKStatus)
	num("WORKERS", &cfg.Features.Workers)
	list("FEATURE_DROP", &cfg.Features.Drop)

	flag("SCALE_NUMERIC", &cfg.Matrix.ScaleNumeric)
	flag("WITH_MEAN", &cfg.Matrix.WithMean)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("CACHE_DIR", &cfg.Storage.CacheDir)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("S3_PREFIX", &cfg.Storage.S3.Prefix)
	flag("S3_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("METRICS_TEXTFILE", &cfg.Metrics.Textfile)

	if len(errs) > 0 {
		return ferrors.NewConfigError("invalid environment", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.StagingDir(),
		c.Storage.CacheDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
