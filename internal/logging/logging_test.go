package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tira-io/tirex-tracker/internal/model"
)

type event struct {
	level     model.LogLevel
	component string
	message   string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) sink(level model.LogLevel, component, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{level, component, message})
}

func TestDefaultSinkDiscards(t *testing.T) {
	SetSink(nil)
	if Enabled() {
		t.Fatal("Enabled() with no sink installed")
	}
	Warnf("session", "dropped %d", 1) // must not panic
}

func TestSetSinkReceivesEvents(t *testing.T) {
	rec := &recorder{}
	SetSink(rec.sink)
	t.Cleanup(func() { SetSink(nil) })

	Warnf("gpu", "provider unavailable: %s", "no driver")
	Log(model.LevelError, "export", "write failed")

	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
	if got := rec.events[0]; got.level != model.LevelWarn || got.component != "gpu" || got.message != "provider unavailable: no driver" {
		t.Errorf("first event = %+v", got)
	}
	if got := rec.events[1]; got.level != model.LevelError || got.component != "export" {
		t.Errorf("second event = %+v", got)
	}
}

func TestPanickingSinkIsContained(t *testing.T) {
	SetSink(func(model.LogLevel, string, string) { panic("boom") })
	t.Cleanup(func() { SetSink(nil) })
	Infof("catalog", "still alive")
}

func TestSinkSwapUnderLoad(t *testing.T) {
	t.Cleanup(func() { SetSink(nil) })

	var a, b atomic.Int64
	sinkA := func(model.LogLevel, string, string) { a.Add(1) }
	sinkB := func(model.LogLevel, string, string) { b.Add(1) }
	SetSink(sinkA)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				Debugf("session", "tick %d", j)
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			SetSink(sinkB)
		} else {
			SetSink(sinkA)
		}
	}
	wg.Wait()

	if total := a.Load() + b.Load(); total != 8*500 {
		t.Fatalf("delivered %d events, want %d", total, 8*500)
	}
}

func TestZapSink(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	sink := NewZapSink(l)
	sink(model.LevelWarn, "energy", "rapl not readable")
	sink(model.LevelTrace, "session", "poll")
	_ = l.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["level"] != "WARN" || rec["component"] != "energy" || rec["msg"] != "rapl not readable" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Error("record has no ts field")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", "json", nil); err == nil {
		t.Fatal("NewLogger(loud) succeeded")
	}
}
