// Package main implements the churnfeat binary. It builds feature runs from
// raw event logs and aligns serving payloads to a published run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arkilian/churnfeat/internal/app"
	"github.com/arkilian/churnfeat/internal/config"
	ferrors "github.com/arkilian/churnfeat/internal/errors"
	"github.com/arkilian/churnfeat/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code. Deferred
// cleanup, including flushing the logger, completes before main exits.
func run(args []string, stdout, stderr io.Writer) int {
	var (
		configFile  string
		dataDir     string
		mode        string
		input       string
		runID       string
		recordFile  string
		strict      bool
		showVersion bool
		showHelp    bool
	)

	flags := flag.NewFlagSet("churnfeat", flag.ContinueOnError)
	flags.SetOutput(stderr)

	flags.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&dataDir, "data-dir", "", "Base directory for all local files")
	flags.StringVar(&mode, "mode", "build", "Mode: build, align, example, featurize")
	flags.StringVar(&input, "input", "", "NDJSON event log (build and featurize modes)")
	flags.StringVar(&runID, "run", "", "Run id (align, example and featurize modes; default latest)")
	flags.StringVar(&recordFile, "record", "", "JSON payload to align (align mode; - for stdin)")
	flags.BoolVar(&strict, "strict", false, "Reject payloads whose columns differ from the run schema")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	flags.BoolVar(&showHelp, "help", false, "Show help message")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "churnfeat - churn feature engineering\n\n")
		fmt.Fprintf(stderr, "Usage: churnfeat [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		flags.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  churnfeat -mode build -config churnfeat.yaml -input events.json\n")
		fmt.Fprintf(stderr, "  churnfeat -mode example -run <run-id> > payload.json\n")
		fmt.Fprintf(stderr, "  churnfeat -mode align -run <run-id> -record payload.json -strict\n")
		fmt.Fprintf(stderr, "  churnfeat -mode featurize -run <run-id> -input serving.json\n")
		fmt.Fprintf(stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(stderr, "  CHURNFEAT_DATA_DIR         Base directory for local files\n")
		fmt.Fprintf(stderr, "  CHURNFEAT_INPUT            NDJSON event log\n")
		fmt.Fprintf(stderr, "  CHURNFEAT_INACTIVITY_DAYS  Churn threshold in days\n")
		fmt.Fprintf(stderr, "  CHURNFEAT_STORAGE_TYPE     Storage type (local, s3)\n")
		fmt.Fprintf(stderr, "  CHURNFEAT_LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if showHelp {
		flags.Usage()
		return 0
	}

	if showVersion {
		fmt.Fprintf(stdout, "churnfeat version %s (commit: %s)\n", version, commit)
		return 0
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Failed to read .env: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configFile, dataDir, input)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, sync, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fail(stderr, err)
	}

	var out any
	switch mode {
	case "build":
		res, err := application.Build(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Println(res.RunID)
		return 0

	case "example":
		out, err = application.Example(ctx, runID)

	case "align":
		raw, rerr := readRecord(recordFile)
		if rerr != nil {
			fmt.Fprintf(stderr, "Failed to read record: %v\n", rerr)
			return 1
		}
		out, err = application.Align(ctx, runID, raw, strict)

	case "featurize":
		out, err = application.Featurize(ctx, runID, input)

	default:
		fmt.Fprintf(stderr, "Unknown mode %q (must be build, align, example or featurize)\n", mode)
		return 2
	}
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, out); err != nil {
		fmt.Fprintf(stderr, "Failed to write output: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, input string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Command line flags have the highest priority
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if input != "" {
		cfg.Data.Input = input
	}

	return cfg, nil
}

func readRecord(path string) (map[string]any, error) {
	var data []byte
	var err error
	switch path {
	case "":
		return nil, fmt.Errorf("-record is required in align mode")
	case "-":
		data, err = io.ReadAll(os.Stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	return raw, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fail reports err, printing structured details for feature errors, and
// returns the failure exit code.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "error: %v\n", err)
	if details := ferrors.GetDetails(err); details != nil {
		if perr := printJSON(stderr, details); perr != nil {
			fmt.Fprintf(stderr, "Failed to write error details: %v\n", perr)
		}
	}
	return 1
}
