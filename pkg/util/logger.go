package util

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Development gets a readable text
// handler at debug level; everything else logs JSON for ingestion, with
// the service name stamped on every record so the server and worker can
// be told apart in shared log streams.
func NewLogger(env, service string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", service)
}
