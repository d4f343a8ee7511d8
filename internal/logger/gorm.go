package logger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM output through slog. Record-not-found is a normal
// outcome for short-code lookups and is never logged as an error.
type GormLogger struct {
	logLevel      gormlogger.LogLevel
	slowThreshold time.Duration
}

func NewGormLogger(level string) *GormLogger {
	lvl := gormlogger.Warn
	switch level {
	case "silent":
		lvl = gormlogger.Silent
	case "error":
		lvl = gormlogger.Error
	case "info":
		lvl = gormlogger.Info
	}
	return &GormLogger{logLevel: lvl, slowThreshold: 200 * time.Millisecond}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{logLevel: level, slowThreshold: g.slowThreshold}
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Info {
		FromContext(ctx).Info("gorm info", "msg_detail", msg, "data", data)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Warn {
		FromContext(ctx).Warn("gorm warn", "msg_detail", msg, "data", data)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= gormlogger.Error {
		FromContext(ctx).Error("gorm error", "msg_detail", msg, "data", data)
	}
}

// Trace logs SQL with rows affected and elapsed time.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.logLevel == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	attrs := []any{
		"sql", sql,
		"rows", rows,
		"elapsed_ms", float64(elapsed.Microseconds()) / 1000.0,
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, gorm.ErrRecordNotFound) {
		if g.logLevel >= gormlogger.Error {
			FromContext(ctx).Error("gorm trace", append(attrs, "err", err)...)
		}
		return
	}

	if g.slowThreshold > 0 && elapsed > g.slowThreshold {
		if g.logLevel >= gormlogger.Warn {
			attrs = append(attrs, "slow", true, "threshold_ms", float64(g.slowThreshold.Microseconds())/1000.0)
			FromContext(ctx).Warn("gorm trace slow", attrs...)
		}
		return
	}

	if g.logLevel >= gormlogger.Info {
		FromContext(ctx).Debug("gorm trace", attrs...)
	}
}
