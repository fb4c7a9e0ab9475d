// Package telemetry is trackfusion's external debug sink and observability
// surface: a leveled logger, the Prometheus metrics the protocol and solver
// layers update, and OpenTelemetry tracing around sends and broadcasts.
// Core components depend only on *Logger, never on a concrete backend.
package telemetry

import (
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a logging verbosity, lowest (most verbose) first.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) tag() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "LOG"
	}
}

// Logger is a minimal leveled sink wrapping the standard logger, in the
// same spirit as the teacher's monitoring.Debugf/IsDebug pair, generalized
// to all five levels the spec's external debug sink calls for.
type Logger struct {
	level int32
	out   *log.Logger
}

// NewLogger wraps w (os.Stderr if nil) at LevelInfo.
func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{out: log.New(w, "", log.LstdFlags), level: int32(LevelInfo)}
}

// Default is the process-wide logger used where no explicit *Logger is
// threaded through (e.g. package-level helpers).
var Default = NewLogger(os.Stderr)

func (l *Logger) SetLevel(lv Level) { atomic.StoreInt32(&l.level, int32(lv)) }

func (l *Logger) Level() Level { return Level(atomic.LoadInt32(&l.level)) }

func (l *Logger) logAt(lv Level, format string, args ...any) {
	if l.Level() > lv {
		return
	}
	l.out.Printf(lv.tag()+" "+format, args...)
}

func (l *Logger) Tracef(format string, args ...any) { l.logAt(LevelTrace, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.logAt(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logAt(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logAt(LevelWarning, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logAt(LevelError, format, args...) }

// SetLevelByName mirrors the teacher's string-keyed SetLogLevel, accepting
// "trace", "debug", "info", "warning"/"warn" or "error" (case-insensitive);
// anything else falls back to info.
func SetLevelByName(l *Logger, name string) {
	switch strings.ToLower(name) {
	case "trace":
		l.SetLevel(LevelTrace)
	case "debug":
		l.SetLevel(LevelDebug)
	case "warning", "warn":
		l.SetLevel(LevelWarning)
	case "error":
		l.SetLevel(LevelError)
	default:
		l.SetLevel(LevelInfo)
	}
}
