package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	DebugWithFields(msg string, fields map[string]interface{})
	InfoWithFields(msg string, fields map[string]interface{})
	WarnWithFields(msg string, fields map[string]interface{})
	ErrorWithFields(msg string, fields map[string]interface{})
}

// Config controls logger output
type Config struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

type zerologLogger struct {
	logger zerolog.Logger
}

var (
	defaultLogger Logger = newDefault()
	mu            sync.RWMutex
)

func newDefault() Logger {
	zl := zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
	return &zerologLogger{logger: zl}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
}

// Initialize configures the package-level logger
func Initialize(cfg *Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = consoleWriter(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		output = zerolog.MultiLevelWriter(consoleWriter(os.Stderr), f)
	}

	zl := zerolog.New(output).With().Timestamp().Str("app", "yalje").Logger()

	mu.Lock()
	defaultLogger = &zerologLogger{logger: zl}
	mu.Unlock()
	return nil
}

// GetLogger returns the package-level logger
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func (z *zerologLogger) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *zerologLogger) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *zerologLogger) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *zerologLogger) Error(msg string) { z.logger.Error().Msg(msg) }

func (z *zerologLogger) WithField(key string, value interface{}) Logger {
	return &zerologLogger{logger: z.logger.With().Interface(key, value).Logger()}
}

func (z *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	ctx := z.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &zerologLogger{logger: ctx.Logger()}
}

func (z *zerologLogger) WithError(err error) Logger {
	return &zerologLogger{logger: z.logger.With().Err(err).Logger()}
}

func (z *zerologLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	z.logger.Debug().Fields(fields).Msg(msg)
}

func (z *zerologLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	z.logger.Info().Fields(fields).Msg(msg)
}

func (z *zerologLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	z.logger.Warn().Fields(fields).Msg(msg)
}

func (z *zerologLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	z.logger.Error().Fields(fields).Msg(msg)
}

// Convenience package-level helpers mirroring the Logger interface

func Debug(msg string) { GetLogger().Debug(msg) }
func Info(msg string)  { GetLogger().Info(msg) }
func Warn(msg string)  { GetLogger().Warn(msg) }
func Error(msg string) { GetLogger().Error(msg) }

func WithField(key string, value interface{}) Logger { return GetLogger().WithField(key, value) }
func WithError(err error) Logger                     { return GetLogger().WithError(err) }
