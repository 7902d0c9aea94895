// Package logging is the process-wide diagnostic channel of the tracker.
// Library code reports through Log; what happens to an event is decided by the
// installed Sink, which by default drops everything.
package logging

import (
	"fmt"
	"sync/atomic"

	"github.com/tira-io/tirex-tracker/internal/model"
)

// Sink receives one log event. It is called synchronously on the logging
// goroutine and must not block for long.
type Sink func(level model.LogLevel, component, message string)

type sinkBox struct{ fn Sink }

var current atomic.Pointer[sinkBox]

// SetSink installs s as the process-wide sink. nil restores the discard sink.
func SetSink(s Sink) {
	if s == nil {
		current.Store(nil)
		return
	}
	current.Store(&sinkBox{fn: s})
}

// Enabled reports whether a non-discarding sink is installed.
func Enabled() bool { return current.Load() != nil }

// Log dispatches an event to the sink installed at call time. A panicking sink
// is recovered so it never unwinds into the caller.
func Log(level model.LogLevel, component, message string) {
	b := current.Load()
	if b == nil {
		return
	}
	defer func() { _ = recover() }()
	b.fn(level, component, message)
}

func logf(level model.LogLevel, component, format string, args ...any) {
	if current.Load() == nil {
		return
	}
	Log(level, component, fmt.Sprintf(format, args...))
}

func Tracef(component, format string, args ...any) { logf(model.LevelTrace, component, format, args...) }
func Debugf(component, format string, args ...any) { logf(model.LevelDebug, component, format, args...) }
func Infof(component, format string, args ...any)  { logf(model.LevelInfo, component, format, args...) }
func Warnf(component, format string, args ...any)  { logf(model.LevelWarn, component, format, args...) }
func Errorf(component, format string, args ...any) { logf(model.LevelError, component, format, args...) }

func Criticalf(component, format string, args ...any) {
	logf(model.LevelCritical, component, format, args...)
}
