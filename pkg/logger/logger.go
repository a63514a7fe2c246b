// Package logger builds the loggers used across the engram services. Long-
// running services get a zap logger: colorized console output for
// interactive runs, JSON when logs are shipped (the api.log_json config
// key). Interactive CLI commands use the slog path in pretty.go instead.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option configures a logger built with New.
type Option func(*settings)

type settings struct {
	level   zapcore.Level
	json    bool
	writers []io.Writer
}

// WithDebug sets the log level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(s *settings) {
		if debug {
			s.level = zap.DebugLevel
		} else {
			s.level = zap.InfoLevel
		}
	}
}

// WithJSON switches to the JSON encoder for deployments whose logs are
// collected rather than read off a terminal.
func WithJSON(json bool) Option {
	return func(s *settings) {
		s.json = json
	}
}

// WithWriters sets the output writers. Defaults to os.Stdout.
func WithWriters(w ...io.Writer) Option {
	return func(s *settings) {
		if len(w) > 0 {
			s.writers = w
		}
	}
}

// New builds a zap logger from the options.
func New(opts ...Option) *zap.Logger {
	s := &settings{
		level:   zap.InfoLevel,
		writers: []io.Writer{os.Stdout},
	}
	for _, opt := range opts {
		opt(s)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if s.json {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(s.writers))
	for _, writer := range s.writers {
		syncers = append(syncers, zapcore.AddSync(writer))
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.NewMultiWriteSyncer(syncers...),
		s.level,
	)

	return zap.New(core, zap.AddCaller())
}
