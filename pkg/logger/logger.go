// Package logger provides the structured logger shared by every component.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LoggingConfig selects level, encoding and destination.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// Logger wraps logrus so callers get field-based logging plus a few
// request-scoped helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info and
// unknown outputs to stdout.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	l.SetOutput(openOutput(cfg))
	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger tagged with a component name.
func NewDefault(component string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	log.component = component
	return log
}

// Discard returns a logger that drops everything. Tests use it to keep output quiet.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

// Named returns a logger sharing the same backend with a different component tag.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component returns the component tag, if any.
func (l *Logger) Component() string { return l.component }

// WithField starts an entry carrying the component tag.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.base().WithField(key, value)
}

// WithFields starts an entry carrying the component tag plus fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.base().WithFields(logrus.Fields(fields))
}

// WithError starts an entry carrying the component tag and an error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.base().WithError(err)
}

// WithContext attaches trace and user identifiers found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.base()
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	if id := UserID(ctx); id != "" {
		entry = entry.WithField("user_id", id)
	}
	return entry
}

// LogRequest writes one line per handled HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request handled")
	}
}

// LogSecurityEvent records authentication and abuse related events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(logrus.Fields(fields)).WithField("security_event", event).Warn("security event")
}

func (l *Logger) base() *logrus.Entry {
	entry := logrus.NewEntry(l.Logger)
	if l.component != "" {
		entry = entry.WithField("component", l.component)
	}
	return entry
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "studiodesk"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("2006-01-02"))
		if dir := filepath.Dir(prefix); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
	roleKey
)

// NewTraceID returns a fresh request identifier.
func NewTraceID() string { return uuid.NewString() }

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID returns the trace id stored on ctx, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithUser stores the authenticated principal and role on the context.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// UserID returns the authenticated principal id, if any.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// Role returns the authenticated principal role, if any.
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}
