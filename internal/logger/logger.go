// Package logger is the service's leveled printf logger. Loggers derived
// with With share their parent's outputs and level and append key=value
// context to every line.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

type Mode int

const (
	MINIMAL Mode = iota
	NORMAL
	FULL
)

var (
	levelNames  = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	levelColors = [...]string{"\033[36m", "\033[32m", "\033[33m", "\033[31m", "\033[35m"}
)

const resetColor = "\033[0m"

// sink is shared by a logger and everything derived from it.
type sink struct {
	mu      sync.Mutex
	level   atomic.Int32
	mode    Mode
	colors  bool
	console io.Writer
	file    *os.File
}

type Logger struct {
	out    *sink
	fields string
}

type Config struct {
	Level       Level
	Mode        Mode
	LogFilePath string
	UseColors   bool
	// Output replaces stdout as the console sink when set.
	Output io.Writer
}

func New(cfg Config) (*Logger, error) {
	out := &sink{mode: cfg.Mode, colors: cfg.UseColors, console: cfg.Output}
	if out.console == nil {
		out.console = os.Stdout
	}
	out.level.Store(int32(cfg.Level))

	if cfg.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to setup log file: %w", err)
		}
		out.file = f
	}

	return &Logger{out: out}, nil
}

// Discard returns a logger that drops everything, for tests and tools.
func Discard() *Logger {
	out := &sink{console: io.Discard}
	out.level.Store(int32(FATAL + 1))
	return &Logger{out: out}
}

// With returns a logger that appends the given key/value pairs to every
// message. A trailing key without a value is ignored.
func (l *Logger) With(kv ...interface{}) *Logger {
	var b strings.Builder
	b.WriteString(l.fields)
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return &Logger{out: l.out, fields: b.String()}
}

func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file == nil {
		return nil
	}
	err := l.out.file.Close()
	l.out.file = nil
	return err
}

func (l *Logger) SetLevel(level Level) {
	l.out.level.Store(int32(level))
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if int32(level) < l.out.level.Load() {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if l.fields != "" {
		msg += " " + l.fields
	}
	ts := time.Now().Format("2006-01-02 15:04:05")

	s := l.out
	s.mu.Lock()
	var caller string
	if s.mode == FULL {
		caller = callerLocation()
	}
	fmt.Fprintln(s.console, s.render(level, ts, caller, msg, true))
	if s.file != nil {
		fmt.Fprintln(s.file, s.render(level, ts, caller, msg, false))
	}
	s.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

// render formats one line. Console lines lead with the level tag; file
// lines lead with the timestamp and never carry color codes.
func (s *sink) render(level Level, ts, caller, msg string, console bool) string {
	var b strings.Builder

	tag := "[" + levelNames[level] + "]"
	if console {
		if s.colors {
			tag = levelColors[level] + tag + resetColor
		}
		b.WriteString(tag)
		if s.mode != MINIMAL {
			b.WriteString(" " + ts + " |")
		}
	} else {
		b.WriteString(ts + " " + tag)
	}

	if caller != "" {
		b.WriteString(" " + caller + " |")
	}
	b.WriteString(" " + msg)
	return b.String()
}

// callerLocation reports the file:line of the code that called a level
// method: log -> Info -> caller.
func callerLocation() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}

func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "minimal":
		return MINIMAL
	case "full":
		return FULL
	default:
		return NORMAL
	}
}
