// Package logger wraps zerolog with key/value helpers and file rotation.
// Callers must never pass private keys, seeds or mnemonics as fields.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config represents logger configuration
type Config struct {
	ConsoleOutput  bool   `yaml:"console_output"`
	ConsoleColor   bool   `yaml:"console_color"`
	FileOutput     bool   `yaml:"file_output"`
	FileName       string `yaml:"file_name"`
	FileMaxSize    string `yaml:"file_max_size"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
}

// DefaultConfig returns console logging at info level
func DefaultConfig() Config {
	return Config{
		ConsoleOutput:  true,
		ConsoleColor:   true,
		FileOutput:     false,
		FileName:       "trtl-signer.log",
		FileMaxSize:    "10MB",
		FileMaxBackups: 3,
		Level:          string(LevelInfo),
		Format:         FormatText,
	}
}

// Logger wraps zerolog functionality with isolated dependencies
type Logger struct {
	zlog zerolog.Logger
}

var globalLogger *Logger

// Init initializes the global logger with given configuration
func Init(config Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// SetDefault replaces the global logger
func SetDefault(l *Logger) {
	globalLogger = l
}

// Default returns the global logger, or a logger that discards everything
// when Init has not been called
func Default() *Logger {
	if globalLogger != nil {
		return globalLogger
	}
	return &Logger{zlog: zerolog.Nop()}
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	level, err := parseLogLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer

	if config.ConsoleOutput {
		writers = append(writers, consoleWriter(os.Stdout, config))
	}

	if config.FileOutput {
		if config.FileName == "" {
			return nil, fmt.Errorf("file_name is required when file_output is enabled")
		}

		maxSizeMB, err := parseMaxSize(config.FileMaxSize)
		if err != nil {
			return nil, fmt.Errorf("invalid file_max_size: %w", err)
		}

		logFilePath, err := resolveLogPath(config.FileName)
		if err != nil {
			return nil, err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    maxSizeMB,
			MaxBackups: config.FileMaxBackups,
			Compress:   true,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	return &Logger{zlog: zerolog.New(writer).Level(level).With().Timestamp().Logger()}, nil
}

// NewWithWriter builds a JSON logger over w
func NewWithWriter(w io.Writer, level string) (*Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return &Logger{zlog: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}, nil
}

// With returns a child logger tagged with a component field
func (l *Logger) With(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

func consoleWriter(out io.Writer, config Config) io.Writer {
	if config.Format == FormatJSON {
		return out
	}
	cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !config.ConsoleColor}
	if config.ConsoleColor {
		cw.FormatLevel = func(i interface{}) string {
			level := strings.ToUpper(fmt.Sprintf("%s", i))
			switch level {
			case "DEBUG":
				return "\033[36mDEBUG\033[0m"
			case "INFO":
				return "\033[32mINFO\033[0m"
			case "WARN":
				return "\033[33mWARN\033[0m"
			case "ERROR":
				return "\033[31mERROR\033[0m"
			default:
				return level
			}
		}
	}
	return cw
}

// resolveLogPath places relative log files next to the executable
func resolveLogPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable directory: %w", err)
	}
	return filepath.Join(filepath.Dir(execPath), name), nil
}

// ParseLevel reports whether levelStr is a known level
func ParseLevel(levelStr string) error {
	_, err := parseLogLevel(levelStr)
	return err
}

func parseLogLevel(levelStr string) (zerolog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseMaxSize converts size string (e.g., "10MB") to megabytes
func parseMaxSize(sizeStr string) (int, error) {
	if sizeStr == "" {
		return 10, nil
	}

	trimmed := strings.TrimSuffix(strings.ToUpper(sizeStr), "MB")
	size, err := strconv.Atoi(trimmed)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}
	return size, nil
}

// Debug logs a debug message on the global logger
func Debug(msg string, fields ...interface{}) {
	if globalLogger != nil {
		globalLogger.Debug(msg, fields...)
	}
}

// Info logs an info message on the global logger
func Info(msg string, fields ...interface{}) {
	if globalLogger != nil {
		globalLogger.Info(msg, fields...)
	}
}

// Warn logs a warning message on the global logger
func Warn(msg string, fields ...interface{}) {
	if globalLogger != nil {
		globalLogger.Warn(msg, fields...)
	}
}

// Error logs an error message on the global logger
func Error(msg string, fields ...interface{}) {
	if globalLogger != nil {
		globalLogger.Error(msg, fields...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...interface{}) {
	if globalLogger != nil {
		globalLogger.Fatal(msg, fields...)
	}
	os.Exit(1)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.zlog.Debug().Fields(fieldsToMap(fields...)).Msg(msg)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.zlog.Info().Fields(fieldsToMap(fields...)).Msg(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.zlog.Warn().Fields(fieldsToMap(fields...)).Msg(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.zlog.Error().Fields(fieldsToMap(fields...)).Msg(msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.zlog.Fatal().Fields(fieldsToMap(fields...)).Msg(msg)
}

// fieldsToMap converts variadic key/value pairs to a map for zerolog.
// Non-string keys and a trailing key without value are dropped.
func fieldsToMap(fields ...interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}

	fieldMap := make(map[string]interface{}, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			fieldMap[key] = fields[i+1]
		}
	}
	return fieldMap
}
