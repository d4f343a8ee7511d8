// Package logger configures the process-wide slog logger. Only time, level
// and msg sit at the root of each record; every other attribute is scoped
// under a top-level `data` group.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Level     string
	Format    string
	AddSource bool
	Service   string
	Env       string
	Version   string
	Output    string
}

type ctxKey int

const (
	ctxKeyLogger ctxKey = iota
	ctxKeyRequestID
)

var (
	levelVar      slog.LevelVar
	defaultLogger *slog.Logger
)

func Default() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return slog.Default()
}

// InitFromEnv reads LOG_* variables and installs the result as slog's default.
func InitFromEnv(service string) *slog.Logger {
	return Init(Config{
		Level:     getenvDefault("LOG_LEVEL", "info"),
		Format:    getenvDefault("LOG_FORMAT", "json"),
		AddSource: getenvBool("LOG_ADD_SOURCE", false),
		Service:   getenvDefault("LOG_SERVICE", service),
		Env:       getenvDefault("LOG_ENV", getenvDefault("ENV", os.Getenv("APP_ENV"))),
		Version:   os.Getenv("VERSION"),
		Output:    getenvDefault("LOG_OUTPUT", "stdout"),
	})
}

func Init(cfg Config) *slog.Logger {
	levelVar.Set(parseLevel(cfg.Level, slog.LevelInfo))

	opts := &slog.HandlerOptions{Level: &levelVar, AddSource: cfg.AddSource}
	w := resolveWriter(cfg.Output)

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = filepath.Base(os.Args[0])
	}

	base := slog.New(h).WithGroup("data").With("service", service)
	if cfg.Env != "" {
		base = base.With("env", cfg.Env)
	}
	if cfg.Version != "" {
		base = base.With("version", cfg.Version)
	}

	defaultLogger = base
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// SetLevel changes the level at runtime; unknown names are ignored.
func SetLevel(level string) {
	levelVar.Set(parseLevel(level, levelVar.Level()))
}

func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// FromContext returns the request-scoped logger when one was stored, tagged
// with the request id if present.
func FromContext(ctx context.Context) *slog.Logger {
	l := Default()
	if ctx == nil {
		return l
	}
	if lg, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok && lg != nil {
		l = lg
	}
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func parseLevel(level string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "":
		return slog.LevelInfo
	}
	return def
}

func resolveWriter(output string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}
