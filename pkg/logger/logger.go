package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"mindgarden/backend/pkg/identity"
)

// Config contains logger configuration options
type Config struct {
	// Level is one of debug, info, warn or error. Anything else means info.
	Level string
	// JSON selects the JSON handler; otherwise records are logfmt text
	JSON bool
	// Output defaults to os.Stderr
	Output    io.Writer
	AddSource bool
	// Service is attached to every record when set
	Service string
}

// DefaultConfig returns the production logger configuration
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		JSON:    true,
		Output:  os.Stderr,
		Service: "mindgarden",
	}
}

// Logger wraps slog with the request and user scoping used across handlers
// and services
type Logger struct {
	*slog.Logger
}

var global atomic.Pointer[Logger]

// New creates a logger
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(config.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: config.AddSource}

	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if config.JSON {
		handler = slog.NewJSONHandler(out, opts)
	}

	base := slog.New(handler)
	if config.Service != "" {
		base = base.With("service", config.Service)
	}
	return &Logger{Logger: base}
}

// SetGlobal makes l the fallback returned by FromContext
func SetGlobal(l *Logger) {
	global.Store(l)
}

// GetGlobal returns the logger set by SetGlobal, or nil
func GetGlobal() *Logger {
	return global.Load()
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

// LogError logs msg at error level with err under the "error" key
func (l *Logger) LogError(err error, msg string, args ...any) {
	if err != nil {
		args = append([]any{"error", err.Error()}, args...)
	}
	l.Error(msg, args...)
}

// WithRequestID scopes the logger to one request
func (l *Logger) WithRequestID(requestID string) *Logger {
	if requestID == "" {
		return l
	}
	return &Logger{Logger: l.With("request_id", requestID)}
}

// WithUserID scopes the logger to one user
func (l *Logger) WithUserID(userID string) *Logger {
	if userID == "" {
		return l
	}
	return &Logger{Logger: l.With("user_id", userID)}
}

// WithContext adds the request and user IDs carried by ctx
func (l *Logger) WithContext(ctx context.Context) *Logger {
	scoped := l.WithRequestID(identity.RequestID(ctx))
	if userID, ok := identity.UserID(ctx); ok {
		scoped = scoped.WithUserID(userID)
	}
	return scoped
}

// LogRequest writes the access log line of one HTTP request
func (l *Logger) LogRequest(method, path string, status int, latency time.Duration) {
	l.Info("request completed",
		"method", method,
		"path", path,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)
}
