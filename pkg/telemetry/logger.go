package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog.Logger with the run-scoped fields used across the
// service.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
	closer io.Closer
}

type loggerContextKey struct{}

// NewLogger creates a logger. Output other than stdout/stderr is treated as
// a file path and rotated by size.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var (
		writer io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		rotated := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		}
		writer, closer = rotated, rotated
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: getTimeFormat(cfg.TimeFormat),
			NoColor:    closer != nil,
		}
	}

	switch cfg.TimeFormat {
	case "unix":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	case "unixms":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	default:
		zerolog.TimeFieldFormat = time.RFC3339
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}
	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}

	return &Logger{zlog: zlog, config: cfg, closer: closer}, nil
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Zerolog returns the underlying zerolog logger for packages that take one
// directly.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close releases a rotated log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// NewComponentLogger creates a child logger for a specific component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(l.zlog.With().Str("component", component).Logger())
}

// WithContext adds the logger to the context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext retrieves the logger from the context, or a stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (l *Logger) with(z zerolog.Logger) *Logger {
	return &Logger{zlog: z, config: l.config, closer: l.closer}
}

// WithField returns a logger with a single additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(l.zlog.With().Interface(key, value).Logger())
}

// WithRunID adds a run_id field.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(l.zlog.With().Str("run_id", runID).Logger())
}

// WithEquipment adds an equipment_id field.
func (l *Logger) WithEquipment(equipmentID string) *Logger {
	return l.with(l.zlog.With().Str("equipment_id", equipmentID).Logger())
}

// WithAction adds an action field.
func (l *Logger) WithAction(action string) *Logger {
	return l.with(l.zlog.With().Str("action", action).Logger())
}

// WithError adds error information.
func (l *Logger) WithError(err error) *Logger {
	return l.with(l.zlog.With().Err(err).Logger())
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }

func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }

func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func getTimeFormat(format string) string {
	if format == "unix" {
		return "unix"
	}
	return time.RFC3339
}
