// Package observability provides structured logging, lightweight metrics
// and request correlation for billcycle.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogFormat specifies the output format for logs.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is text or json.
	Format LogFormat
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource adds source file and line to records.
	AddSource bool
	// ServiceName and ServiceVersion are attached to every record.
	ServiceName    string
	ServiceVersion string
}

// DefaultLogConfig returns development settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:          "info",
		Format:         LogFormatText,
		Output:         os.Stderr,
		ServiceName:    "billcycle",
		ServiceVersion: "dev",
	}
}

// NewLogger creates a structured logger that also stamps correlation data
// carried in the context onto each record.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", cfg.ServiceVersion))
	}
	return slog.New(&contextHandler{handler: handler.WithAttrs(attrs)})
}

// LoggerFromEnv builds a logger from LOG_LEVEL,
// LOG_FORMAT and APP_ENV (production switches to JSON).
func LoggerFromEnv() *slog.Logger {
	cfg := DefaultLogConfig()
	if os.Getenv("APP_ENV") == "production" {
		cfg.Format = LogFormatJSON
		cfg.Output = os.Stdout
		cfg.AddSource = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = LogFormat(format)
	}
	if version := os.Getenv("BILLCYCLE_VERSION"); version != "" {
		cfg.ServiceVersion = version
	}
	return NewLogger(cfg)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler adds correlation, request and user IDs from the context.
type contextHandler struct {
	handler slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := CorrelationIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(CorrelationIDKey, id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(RequestIDKey, id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(UserIDKey, id))
	}
	return h.handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{handler: h.handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{handler: h.handler.WithGroup(name)}
}

// LogOperation returns a logger scoped to one operation.
func LogOperation(logger *slog.Logger, operation string, attrs ...any) *slog.Logger {
	return logger.With(append([]any{OperationKey, operation}, attrs...)...)
}
