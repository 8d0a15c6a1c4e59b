// Package logging provides structured logging for the LDS bridge.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Level represents a log level.
type Level = log.Level

// Log levels.
const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logger wraps charmbracelet/log and remembers how it was built so that
// component loggers share the parent's output and format.
type Logger struct {
	*log.Logger
	cfg Config
}

// Config holds logger configuration.
type Config struct {
	Level      string    `yaml:"level"`
	Format     string    `yaml:"format"`
	TimeFormat string    `yaml:"time_format"`
	Prefix     string    `yaml:"-"`
	Output     io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     FormatText,
		TimeFormat: time.TimeOnly,
		Output:     os.Stderr,
	}
}

// New creates a new logger with the given configuration.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.Output == nil {
		c.Output = os.Stderr
	}
	if c.TimeFormat == "" {
		c.TimeFormat = time.TimeOnly
	}

	return &Logger{Logger: build(c), cfg: c}
}

func build(c Config) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      c.TimeFormat,
		Prefix:          c.Prefix,
	}
	if strings.EqualFold(c.Format, FormatJSON) {
		opts.Formatter = log.JSONFormatter
	}

	logger := log.NewWithOptions(c.Output, opts)
	logger.SetLevel(ParseLevel(c.Level))
	return logger
}

// Discard returns a logger that writes nothing. Used by tests and by
// components constructed without a logger.
func Discard() *Logger {
	return New(&Config{Level: "fatal", Output: io.Discard})
}

// ParseLevel parses a string level into a log.Level.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// With returns a new logger with the given key-value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), cfg: l.cfg}
}

// WithPrefix returns a new logger with the given prefix, keeping the
// parent's output, format and level.
func (l *Logger) WithPrefix(prefix string) *Logger {
	c := l.cfg
	c.Prefix = prefix
	child := build(c)
	child.SetLevel(l.GetLevel())
	return &Logger{Logger: child, cfg: c}
}

// Component returns a logger for a specific component.
func (l *Logger) Component(name string) *Logger {
	return l.WithPrefix(name)
}

// Swap returns a component logger tagged with a swap id.
func (l *Logger) Swap(component, id string) *Logger {
	return l.Component(component).With("swap", id)
}

var defaultLogger = New(DefaultConfig())

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// GetDefault returns the default logger.
func GetDefault() *Logger {
	return defaultLogger
}

// OrDefault returns l, or a component of the default logger when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l != nil {
		return l
	}
	return defaultLogger.Component(component)
}

func Debug(msg interface{}, keyvals ...interface{}) { defaultLogger.Debug(msg, keyvals...) }
func Info(msg interface{}, keyvals ...interface{})  { defaultLogger.Info(msg, keyvals...) }
func Warn(msg interface{}, keyvals ...interface{})  { defaultLogger.Warn(msg, keyvals...) }
func Error(msg interface{}, keyvals ...interface{}) { defaultLogger.Error(msg, keyvals...) }
func Fatal(msg interface{}, keyvals ...interface{}) { defaultLogger.Fatal(msg, keyvals...) }

func Infof(format string, args ...interface{})  { defaultLogger.Infof(format, args...) }
func Fatalf(format string, args ...interface{}) { defaultLogger.Fatalf(format, args...) }
