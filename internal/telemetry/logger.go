// Package telemetry provides logging and metrics for build passes.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const passIDKey contextKey = "pass_id"

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger creates a structured logger writing text or JSON.
func NewLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Level returns the log level for the quiet and verbose switches. Quiet
// wins.
func Level(quiet, verbose bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelWarn
	case verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// WithPassID adds a pass ID to the context.
// If id is empty, a new ULID is generated.
func WithPassID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = ulid.Make().String()
	}
	return context.WithValue(ctx, passIDKey, id)
}

// PassID retrieves the pass ID from context.
func PassID(ctx context.Context) string {
	if id, ok := ctx.Value(passIDKey).(string); ok {
		return id
	}
	return ""
}

// PassLogger returns a logger with pass-scoped fields.
func PassLogger(logger *slog.Logger, ctx context.Context, repoDir string) *slog.Logger {
	attrs := []any{
		slog.String("repo", repoDir),
	}
	if id := PassID(ctx); id != "" {
		attrs = append(attrs, slog.String("pass_id", id))
	}
	return logger.With(attrs...)
}
