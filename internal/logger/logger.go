package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/config"
)

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New creates a zerolog.Logger with the specified level writing JSON to stdout.
// If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	return build(os.Stdout, level)
}

// NewFromConfig creates a zerolog.Logger from the logging section of the
// configuration. Output "file" writes to a rotating file, anything else
// writes to stdout.
func NewFromConfig(cfg config.LoggingConfig) zerolog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Output == "file" && cfg.FilePath != "" {
		w = NewFileWriter(FileConfig{
			Path:      cfg.FilePath,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
	}
	return build(w, cfg.Level)
}

func build(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "mailrunner").
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns an empty string if not set.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext retrieves the logger from the context, attaching the
// correlation ID when one is present. Without a stored logger an
// info-level stdout logger is returned.
func FromContext(ctx context.Context) zerolog.Logger {
	log, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}

	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
