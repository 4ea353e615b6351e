package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for general informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) LogLevel {
	switch {
	case l <= zapcore.DebugLevel:
		return DEBUG
	case l == zapcore.InfoLevel:
		return INFO
	case l == zapcore.WarnLevel:
		return WARN
	default:
		return ERROR
	}
}

// ParseLevel converts a LOG_LEVEL value; unknown values map to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Format selects the zap encoder
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Options configures a Logger
type Options struct {
	Level        LogLevel
	Output       io.Writer
	EnableColors bool
	Format       Format
	Prefix       string
}

// Logger is a printf-style logger backed by zap. Children created with
// WithPrefix or With share the parent's level.
type Logger struct {
	level  zap.AtomicLevel
	sugar  *zap.SugaredLogger
	prefix string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger with configuration from environment variables
// Environment variables:
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR. Default: INFO
//   - LOG_COLOR: colored level names in console output (true/false). Default: true
//   - LOG_FORMAT: console or json. Default: console
func Init() {
	once.Do(func() {
		opts := Options{
			Level:        ParseLevel(os.Getenv("LOG_LEVEL")),
			Output:       os.Stdout,
			EnableColors: true,
			Format:       FormatConsole,
		}
		if colorStr := os.Getenv("LOG_COLOR"); colorStr == "false" || colorStr == "0" {
			opts.EnableColors = false
		}
		if strings.EqualFold(os.Getenv("LOG_FORMAT"), string(FormatJSON)) {
			opts.Format = FormatJSON
		}
		defaultLogger = NewWithOptions(opts)
	})
}

// New creates a console Logger
func New(level LogLevel, output io.Writer, enableColors bool, prefix string) *Logger {
	return NewWithOptions(Options{
		Level:        level,
		Output:       output,
		EnableColors: enableColors,
		Format:       FormatConsole,
		Prefix:       prefix,
	})
}

// NewWithOptions creates a Logger from Options
func NewWithOptions(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		if opts.EnableColors {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(opts.Level.zapLevel())
	core := zapcore.NewCore(encoder, zapcore.AddSync(opts.Output), level)

	// Skip Logger.log and the exported wrapper so the caller is reported
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	if opts.Prefix != "" {
		base = base.Named(opts.Prefix)
	}

	return &Logger{
		level:  level,
		sugar:  base.Sugar(),
		prefix: opts.Prefix,
	}
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return fromZapLevel(l.level.Level())
}

// IsLevelEnabled checks if a specific log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	return l.level.Enabled(level.zapLevel())
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	switch level {
	case DEBUG:
		l.sugar.Debugf(format, args...)
	case INFO:
		l.sugar.Infof(format, args...)
	case WARN:
		l.sugar.Warnf(format, args...)
	default:
		l.sugar.Errorf(format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

// WithPrefix creates a child logger named prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		level:  l.level,
		sugar:  l.sugar.Named(prefix),
		prefix: prefix,
	}
}

// With creates a child logger that adds a structured field to every entry
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		level:  l.level,
		sugar:  l.sugar.With(key, value),
		prefix: l.prefix,
	}
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Global convenience functions that use the default logger

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	Init()
	return defaultLogger
}

// SetDefault replaces the default logger (used by tests and main)
func SetDefault(l *Logger) {
	Init()
	defaultLogger = l
}

// SetLevel sets the log level for the default logger
func SetLevel(level LogLevel) {
	GetDefault().SetLevel(level)
}

// GetLevel returns the current log level of the default logger
func GetLevel() LogLevel {
	return GetDefault().GetLevel()
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return GetDefault().IsLevelEnabled(DEBUG)
}

// Debug logs a debug message using the default logger
func Debug(format string, args ...any) {
	GetDefault().log(DEBUG, format, args...)
}

// Info logs an info message using the default logger
func Info(format string, args ...any) {
	GetDefault().log(INFO, format, args...)
}

// Warn logs a warning message using the default logger
func Warn(format string, args ...any) {
	GetDefault().log(WARN, format, args...)
}

// Error logs an error message using the default logger
func Error(format string, args ...any) {
	GetDefault().log(ERROR, format, args...)
}

// WithPrefix creates a new logger with a prefix from the default logger
func WithPrefix(prefix string) *Logger {
	return GetDefault().WithPrefix(prefix)
}
