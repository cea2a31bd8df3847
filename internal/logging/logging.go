// Package logging builds the process logger: log/slog on top of zap.
package logging

import (
	"io"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error (default info)
	Level string

	// Format is json or console (default json)
	Format string

	// Output defaults to stderr
	Output io.Writer
}

// New returns a slog logger backed by a zap core, and a function flushing it.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, ferrors.NewConfigError("invalid log level", err)
		}
		level = l
	}

	var enc zapcore.Encoder
	switch opts.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, nil, ferrors.NewConfigError("invalid log format "+opts.Format, nil)
	}

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.Output != nil {
		ws = zapcore.AddSync(opts.Output)
	}

	zapLogger := zap.New(zapcore.NewCore(enc, ws, level))
	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger.Sync, nil
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}
