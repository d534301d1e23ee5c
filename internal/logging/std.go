package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level controls which records a std logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	debugTag = color.New(color.FgHiBlack).Sprint("DEBUG")
	infoTag  = color.New(color.FgCyan).Sprint("INFO ")
	warnTag  = color.New(color.FgYellow).Sprint("WARN ")
	errorTag = color.New(color.FgRed).Sprint("ERROR")
)

type stdLogger struct {
	mu        sync.Mutex
	out       io.Writer
	component string
	level     Level
}

// NewComponentLogger returns a leveled stderr logger scoped to a component.
// The level is taken from TRIKERNEL_LOG_LEVEL (default info).
func NewComponentLogger(component string) Logger {
	return NewStdLogger(os.Stderr, component, ParseLevel(os.Getenv("TRIKERNEL_LOG_LEVEL")))
}

// NewStdLogger returns a leveled logger writing line records to out.
func NewStdLogger(out io.Writer, component string, level Level) Logger {
	return &stdLogger{out: out, component: component, level: level}
}

func (l *stdLogger) emit(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("15:04:05.000")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.component != "" {
		fmt.Fprintf(l.out, "%s %s [%s] %s\n", ts, tag, l.component, msg)
		return
	}
	fmt.Fprintf(l.out, "%s %s %s\n", ts, tag, msg)
}

func (l *stdLogger) Debug(format string, args ...any) { l.emit(LevelDebug, debugTag, format, args...) }
func (l *stdLogger) Info(format string, args ...any)  { l.emit(LevelInfo, infoTag, format, args...) }
func (l *stdLogger) Warn(format string, args ...any)  { l.emit(LevelWarn, warnTag, format, args...) }
func (l *stdLogger) Error(format string, args ...any) { l.emit(LevelError, errorTag, format, args...) }
