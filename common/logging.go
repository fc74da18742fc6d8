package common

import (
	"log/slog"
	"os"
)

var (
	// PackageName is used as the default service tag.
	PackageName = "esp-secure-provisioning"

	// Version is overridden at build time via -ldflags.
	Version = "dev"
)

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger builds the process-wide slog logger and installs it as the default.
// Logs go to stderr so that stdout stays reserved for operator-facing output.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}

	slog.SetDefault(logger)
	return logger
}
