package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log level names as they appear in config files and flags.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Logger writes JSON log entries with a set of persistent attributes.
// Safe for concurrent use; child loggers share the underlying writer.
type Logger struct {
	logger *slog.Logger
	file   *os.File
	rot    *RotatingWriter
	mu     sync.Mutex  // guards file and rot on Close
	attrs  []slog.Attr // persistent attributes (session, worker, phase)
}

// NewLogger opens {sessionDir}/debug.log for appending and returns a Logger
// over it. level is one of the Level* strings; unknown strings fall back to
// INFO. An empty sessionDir sends entries to stderr instead, which is what
// commands running outside a session use.
func NewLogger(sessionDir string, level string) (*Logger, error) {
	var writer io.Writer
	var file *os.File

	if sessionDir != "" {
		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}

		logPath := filepath.Join(sessionDir, "debug.log")
		var err error
		file, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
	} else {
		writer = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(writer, opts)),
		file:   file,
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// parseLevel maps a level string onto slog.Level, defaulting to INFO.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a child logger that stamps the session ID on every entry.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.withAttr(slog.String("session_id", sessionID))
}

// WithWorker returns a child logger stamped with a worker's tmux session name.
func (l *Logger) WithWorker(workerID string) *Logger {
	return l.withAttr(slog.String("worker_id", workerID))
}

// WithPhase returns a child logger stamped with an engine phase, such as
// "planning", "execution", or "verification".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.withAttr(slog.String("phase", phase))
}

// With returns a child logger carrying arbitrary alternating key-value
// attributes in addition to the parent's.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}

	newAttrs := make([]slog.Attr, 0, len(l.attrs)+len(args)/2)
	newAttrs = append(newAttrs, l.attrs...)

	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			// Skip malformed pairs rather than panicking mid-log.
			continue
		}
		newAttrs = append(newAttrs, slog.Any(key, args[i+1]))
	}

	return &Logger{
		logger: l.logger,
		file:   l.file,
		rot:    l.rot,
		attrs:  newAttrs,
	}
}

// withAttr copies the logger with one more persistent attribute.
func (l *Logger) withAttr(attr slog.Attr) *Logger {
	newAttrs := make([]slog.Attr, len(l.attrs)+1)
	copy(newAttrs, l.attrs)
	newAttrs[len(l.attrs)] = attr

	return &Logger{
		logger: l.logger,
		file:   l.file,
		rot:    l.rot,
		attrs:  newAttrs,
	}
}

// Debug logs at DEBUG level with alternating key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs at INFO level with alternating key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs at WARN level with alternating key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs at ERROR level with alternating key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

// log prepends the persistent attributes to the per-call arguments.
func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	l.logger.Log(context.Background(), level, msg, allArgs...)
}

// Close flushes and closes the log file. A no-op for stderr-backed and
// nop loggers.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rot != nil {
		if err := l.rot.Close(); err != nil {
			return fmt.Errorf("failed to close rotating log: %w", err)
		}
		l.rot = nil
		l.file = nil
		return nil
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		l.file = nil
	}
	return nil
}

// NewLoggerWithRotation creates a Logger whose debug.log is size-rotated
// according to config. Behaves like NewLogger otherwise.
func NewLoggerWithRotation(sessionDir string, level string, config RotationConfig) (*Logger, error) {
	if sessionDir == "" {
		return NewLogger("", level)
	}

	logPath := filepath.Join(sessionDir, "debug.log")
	rot, err := NewRotatingWriter(logPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open rotating log: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(rot, opts)),
		rot:    rot,
		attrs:  make([]slog.Attr, 0),
	}, nil
}

// NopLogger returns a Logger that discards everything. Used in tests and
// wherever a logger could not be opened.
func NopLogger() *Logger {
	return &Logger{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		attrs:  make([]slog.Attr, 0),
	}
}

// ParseLevel normalizes a user-provided level string to one of the Level*
// constants, falling back to LevelInfo.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
