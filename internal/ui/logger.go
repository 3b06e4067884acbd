package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/term"
)

// successLevel is written as the level field of success events
const successLevel = "success"

// Logger provides color-coded console logging mirrored to optional log files
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	mu      sync.Mutex
	console io.Writer
	sinks   []io.WriteCloser
	zl      zerolog.Logger
	file    zerolog.Logger
	colors  map[string]*color.Color
}

// NewLogger creates a new logger writing to stderr
func NewLogger(verbose, quiet, noColor bool) *Logger {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		noColor = true
	}
	if noColor {
		color.NoColor = true
	}
	return NewLoggerWithWriter(os.Stderr, verbose, quiet, noColor)
}

// NewLoggerWithWriter creates a new logger writing console output to w
func NewLoggerWithWriter(w io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
		console: w,
		colors: map[string]*color.Color{
			zerolog.LevelDebugValue: color.New(color.FgCyan),
			zerolog.LevelInfoValue:  color.New(color.FgBlue),
			zerolog.LevelWarnValue:  color.New(color.FgYellow),
			zerolog.LevelErrorValue: color.New(color.FgRed),
			successLevel:            color.New(color.FgGreen),
		},
	}
	for _, c := range l.colors {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	l.rebuild()
	return l
}

func levelTag(level interface{}) string {
	switch level {
	case zerolog.LevelDebugValue:
		return "[DEBUG]"
	case zerolog.LevelInfoValue:
		return "[INFO]"
	case zerolog.LevelWarnValue:
		return "[WARNING]"
	case zerolog.LevelErrorValue:
		return "[ERROR]"
	case successLevel:
		return "[SUCCESS]"
	default:
		return fmt.Sprintf("[%v]", level)
	}
}

// consoleLevel is the lowest level shown on the console
func (l *Logger) consoleLevel() zerolog.Level {
	switch {
	case l.Quiet:
		return zerolog.WarnLevel
	case l.Verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// rebuild recreates the zerolog loggers after the sink set changed; callers hold mu
func (l *Logger) rebuild() {
	console := zerolog.ConsoleWriter{
		Out:        l.console,
		NoColor:    true,
		PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatLevel: func(i interface{}) string {
			tag := levelTag(i)
			if c, ok := l.colors[fmt.Sprint(i)]; ok {
				return c.Sprint(tag)
			}
			return tag
		},
	}

	var files []io.Writer
	for _, sink := range l.sinks {
		files = append(files, zerolog.ConsoleWriter{
			Out:         sink,
			NoColor:     true,
			TimeFormat:  time.RFC3339,
			FormatLevel: levelTag,
		})
	}

	writers := []io.Writer{
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: console},
			Level:  l.consoleLevel(),
		},
	}
	writers = append(writers, files...)

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	l.file = zerolog.New(zerolog.MultiLevelWriter(files...)).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// AttachSink mirrors every event, including debug output, to w
func (l *Logger) AttachSink(w io.WriteCloser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, w)
	l.rebuild()
}

// OpenFile appends the log to the file at path, creating it if needed
func (l *Logger) OpenFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Errorf("failed to open log file: %w", err)
	}

	l.AttachSink(file)
	return nil
}

// Close flushes and closes every attached sink
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result *multierror.Error
	for _, sink := range l.sinks {
		if f, ok := sink.(interface{ Sync() error }); ok {
			_ = f.Sync()
		}
		if err := sink.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	l.sinks = nil
	l.rebuild()

	return result.ErrorOrNil()
}

// Zerolog returns the structured logger behind l
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl
}

// WithContext returns a copy of ctx carrying the structured logger
func (l *Logger) WithContext(ctx context.Context) context.Context {
	zl := l.Zerolog()
	return zl.WithContext(ctx)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Info().Msgf(format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	l.mu.Lock()
	target := l.zl
	if l.Quiet {
		target = l.file
	}
	l.mu.Unlock()

	target.Log().Str(zerolog.LevelFieldName, successLevel).Msgf(format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Warn().Msgf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Error().Msgf(format, args...)
}

// Debug logs a debug message (only shown on the console if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	zl := l.Zerolog()
	zl.Debug().Msgf(format, args...)
}
