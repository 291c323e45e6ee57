package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var levelStrings = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelStrings[l]; ok {
		return name
	}
	return "INFO"
}

type Options struct {
	Level    Level
	Console  io.Writer
	FilePath string
}

// sink is shared by a logger and every child created with With.
type sink struct {
	mu      sync.Mutex
	level   Level
	writer io.Writer
	file   *os.File
}

// Logger writes leveled lines to the console and an optional file. A nil
// *Logger discards everything, so libraries can accept one unconditionally.
type Logger struct {
	sink      *sink
	component string
}

func ParseLevel(value string) (Level, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return LevelInfo, nil
	}
	level, ok := levelNames[value]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}

func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{console}
	var logFile *os.File
	if strings.TrimSpace(opts.FilePath) != "" {
		filePath := strings.TrimSpace(opts.FilePath)
		dir := filepath.Dir(filePath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("creating log directory: %w", err)
			}
		}
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		writers = append(writers, f)
	}

	return &Logger{sink: &sink{
		level:  opts.Level,
		writer: io.MultiWriter(writers...),
		file:   logFile,
	}}, nil
}

// With returns a logger that tags every line with component. Children share
// the parent's level and outputs.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	component = strings.TrimSpace(component)
	if l.component != "" && component != "" {
		component = l.component + "/" + component
	} else if component == "" {
		component = l.component
	}
	return &Logger{sink: l.sink, component: component}
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		err := l.sink.file.Close()
		l.sink.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

func (l *Logger) Level() Level {
	if l == nil {
		return LevelError + 1
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && level >= l.Level()
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if level < l.sink.level {
		return
	}
	timestamp := time.Now().UTC().Format(time.RFC3339)
	message := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(message, "\n") {
		message += "\n"
	}
	var line string
	if l.component != "" {
		line = fmt.Sprintf("%s [%s] %s: %s", timestamp, level, l.component, message)
	} else {
		line = fmt.Sprintf("%s [%s] %s", timestamp, level, message)
	}
	_, _ = l.sink.writer.Write([]byte(line))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}
