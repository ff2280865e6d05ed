package logging

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Process-wide level control. Higher values enable more verbose V levels.
var globalLevel = zap.NewAtomicLevel()

type sinkConfig struct {
	encoder zapcore.Encoder
	sink    zapcore.WriteSyncer
	level   zapcore.LevelEnabler
}

type Sink struct {
	core    zapcore.Core
	cleanup func() error
}

// New builds a logr.Logger over the given sinks. With no sinks the logger
// discards everything. The returned func flushes buffered output.
func New(name string, sinks ...Sink) (logr.Logger, func() error) {
	cores := make([]zapcore.Core, 0, len(sinks))
	cleanups := make([]func() error, 0, len(sinks)+1)
	for _, s := range sinks {
		if s.core == nil {
			continue
		}
		cores = append(cores, s.core)
		if s.cleanup != nil {
			cleanups = append(cleanups, s.cleanup)
		}
	}
	zl := zap.New(zapcore.NewTee(cores...))
	cleanups = append(cleanups, zl.Sync)
	return zapr.NewLogger(zl).WithName(name), firstError(cleanups...)
}

func WithConsoleSink(w io.Writer, opts ...func(*sinkConfig)) Sink {
	return newSink(zapcore.NewConsoleEncoder(encoderConfig()), w, opts...)
}

func WithJSONSink(w io.Writer, opts ...func(*sinkConfig)) Sink {
	return newSink(zapcore.NewJSONEncoder(encoderConfig()), w, opts...)
}

// WithLevel pins a sink to a fixed verbosity.
func WithLevel(level int8) func(*sinkConfig) {
	return func(c *sinkConfig) {
		c.level = zap.NewAtomicLevelAt(zapcore.Level(-level))
	}
}

// SetLevel changes verbosity of sinks using the shared level. Zap levels grow
// more verbose as they get smaller so V(2) needs -2.
func SetLevel(level int8) {
	globalLevel.SetLevel(zapcore.Level(-level))
}

func Discard() logr.Logger {
	return logr.Discard()
}

// Underlying exposes the zap logger behind a logr.Logger built by New.
func Underlying(l logr.Logger) (*zap.Logger, error) {
	if u, ok := l.GetSink().(zapr.Underlier); ok {
		return u.GetUnderlying(), nil
	}
	return nil, errors.New("not a zapr logger")
}

func newSink(enc zapcore.Encoder, w io.Writer, opts ...func(*sinkConfig)) Sink {
	conf := sinkConfig{
		encoder: enc,
		sink:    zapcore.Lock(zapcore.AddSync(w)),
		level:   globalLevel,
	}
	for _, opt := range opts {
		opt(&conf)
	}
	return Sink{
		core:    zapcore.NewCore(conf.encoder, conf.sink, conf.level),
		cleanup: conf.sink.Sync,
	}
}

func encoderConfig() zapcore.EncoderConfig {
	conf := zap.NewProductionEncoderConfig()
	conf.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	conf.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		switch {
		case level >= zapcore.ErrorLevel:
			enc.AppendString("error")
		case level == zapcore.WarnLevel:
			enc.AppendString("warn")
		default:
			enc.AppendString("info-" + strconv.Itoa(-int(level)))
		}
	}
	return conf
}

func firstError(fns ...func() error) func() error {
	return func() error {
		var first error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}
