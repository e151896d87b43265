package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"cluster-chaos/internal/config"
)

type Logger struct {
	*slog.Logger
	config *config.LoggingConfig
}

type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	ActionIDKey      ContextKey = "action_id"
	ActionKindKey    ContextKey = "action_kind"
	ServiceKey       ContextKey = "service"
)

// NewLogger creates a new structured logger using slog
func NewLogger(cfg *config.LoggingConfig) *Logger {
	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			writer = file
		} else {
			writer = os.Stdout
			slog.Warn("Failed to open log file, using stdout", "error", err, "file", cfg.Output)
		}
	}

	logger := NewWithWriter(cfg, writer)
	slog.SetDefault(logger.Logger)
	return logger
}

// NewWithWriter builds a logger that writes to w without touching the
// process-wide default logger.
func NewWithWriter(cfg *config.LoggingConfig, w io.Writer) *Logger {
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case "console":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: time.Kitchen,
		})
	case "text":
		handler = slog.NewTextHandler(w, handlerOptions(level))
	default:
		handler = slog.NewJSONHandler(w, handlerOptions(level))
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// NewNopLogger discards everything. Used by tests and library callers that
// do not care about logs.
func NewNopLogger() *Logger {
	cfg := TestLoggingConfig()
	return NewWithWriter(&cfg, io.Discard)
}

// ParseLevel maps a config level name onto slog
func ParseLevel(name string) slog.Level {
	switch name {
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

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	for _, key := range []ContextKey{CorrelationIDKey, RequestIDKey, ActionIDKey, ActionKindKey, ServiceKey} {
		if v := ctx.Value(key); v != nil {
			logger = logger.With(string(key), v)
		}
	}

	return &Logger{
		Logger: logger,
		config: l.config,
	}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	var args []interface{}
	for key, value := range fields {
		args = append(args, key, value)
	}

	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithField creates a new logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		config: l.config,
	}
}

// WithComponent tags every record with the emitting component
func (l *Logger) WithComponent(name string) *Logger {
	return l.WithField("component", name)
}

// WithError creates a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
		config: l.config,
	}
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Debug(msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Info(msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Warn(msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(msg, args...)
}

// RequestStart logs the start of a request
func (l *Logger) RequestStart(ctx context.Context, method, path, userAgent string) {
	l.WithContext(ctx).Debug("Request started",
		"method", method,
		"path", path,
		"user_agent", userAgent,
	)
}

// RequestEnd logs the end of a request
func (l *Logger) RequestEnd(ctx context.Context, method, path string, statusCode int, duration time.Duration, size int64) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	l.WithContext(ctx).Log(ctx, level, "Request completed",
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"response_size", size,
	)
}

// ActionFinished logs the outcome of a chaos action
func (l *Logger) ActionFinished(ctx context.Context, kind string, duration time.Duration, err error) {
	logger := l.WithContext(ctx).With(
		"kind", kind,
		"duration_ms", duration.Milliseconds(),
	)

	if err != nil {
		logger.Error("Action failed", "error", err.Error())
	} else {
		logger.Info("Action completed")
	}
}

// ClusterEvent logs a state change the engine caused or observed on the cluster
func (l *Logger) ClusterEvent(ctx context.Context, event, target string, details map[string]interface{}) {
	args := []interface{}{
		"event", event,
		"target", target,
	}

	for key, value := range details {
		args = append(args, key, value)
	}

	l.WithContext(ctx).Info("Cluster event", args...)
}

// RetryAttempt logs one failed attempt of a retried cluster call
func (l *Logger) RetryAttempt(ctx context.Context, operation string, attempt int, outcome string, err error) {
	l.WithContext(ctx).Debug("Cluster call attempt failed",
		"operation", operation,
		"attempt", attempt,
		"outcome", outcome,
		"error", err,
	)
}
