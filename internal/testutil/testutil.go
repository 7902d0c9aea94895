// Package testutil holds helpers shared by the tracker's tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// RequireReceive reads one value from ch within timeout, or fails the test.
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", msg)
		}
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, msg)
	}
	panic("unreachable")
}

// RequireClosed waits for ch to be closed or receive within timeout.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for close: %s", timeout, msg)
	}
}

// LogEvent is one event captured by a LogRecorder.
type LogEvent struct {
	Level     model.LogLevel
	Component string
	Message   string
}

func (e LogEvent) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Level, e.Component, e.Message)
}

// LogRecorder collects events from the process-wide logging channel.
type LogRecorder struct {
	mu     sync.Mutex
	events []LogEvent
}

// RecordLogs installs a recording sink for the duration of the test.
func RecordLogs(t TB) *LogRecorder {
	r := &LogRecorder{}
	logging.SetSink(func(level model.LogLevel, component, message string) {
		r.mu.Lock()
		r.events = append(r.events, LogEvent{level, component, message})
		r.mu.Unlock()
	})
	t.Cleanup(func() { logging.SetSink(nil) })
	return r
}

// Events returns a copy of everything recorded so far.
func (r *LogRecorder) Events() []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEvent(nil), r.events...)
}

// Find returns the recorded events at level whose component matches and
// whose message contains substr. An empty component matches any.
func (r *LogRecorder) Find(level model.LogLevel, component, substr string) []LogEvent {
	var out []LogEvent
	for _, e := range r.Events() {
		if e.Level != level {
			continue
		}
		if component != "" && e.Component != component {
			continue
		}
		if strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}
