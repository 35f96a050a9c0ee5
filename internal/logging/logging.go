// Package logging defines the logging seam every pipeline component
// depends on. C2–C7 only ever see the Logger interface; this package's
// zap adapter is the one concrete backend this repository ships.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the minimal structured-logging surface the pipeline needs.
// It is intentionally small: printf-style messages plus a With(...) for
// attaching fields to a derived logger, mirroring how the pack's services
// wrap zap behind a narrow interface rather than importing it everywhere.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields ...Field) Logger
}

// Field is a key/value pair attached to a derived logger.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap builds a Logger backed by a zap.Logger configured for the given
// level and format ("json" or "console"), matching the conventions in
// CloudPasture-kubevirt-shepherd/internal/config (LogConfig.Level/Format).
func NewZap(level string, format string) (Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: l.Sugar()}, nil
}

// NewNop returns a Logger that discards everything, used in tests.
func NewNop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) With(fields ...Field) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return &zapLogger{sugar: l.sugar.With(args...)}
}
