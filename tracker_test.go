package tirextracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/tira-io/tirex-tracker/internal/catalog"
	"github.com/tira-io/tirex-tracker/internal/export"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/provider/providertest"
	"github.com/tira-io/tirex-tracker/internal/testutil"
)

const (
	steps Measure = "STEPS"
	name  Measure = "NAME"
)

func newFakeTracker(t *testing.T) (*Tracker, *providertest.Fake) {
	t.Helper()
	f := &providertest.Fake{
		PID: "fake",
		Infos: []MeasureInfo{
			providertest.Info("fake", steps, model.Integer, model.Interval),
			providertest.Info("fake", name, model.String, model.Instant),
		},
		Values: map[Measure]string{name: "tracked"},
	}
	cat, err := catalog.New(context.Background(), f)
	if err != nil {
		t.Fatal(err)
	}
	return New(cat), f
}

func TestTrack(t *testing.T) {
	tr, f := newFakeTracker(t)

	res, err := tr.Track(context.Background(), []Measure{steps, name}, time.Millisecond, func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if res[name].Value != "tracked" {
		t.Errorf("NAME = %+v", res[name])
	}
	if _, found := res[steps]; !found {
		t.Error("STEPS missing")
	}
	if f.Ended.Load() != 1 {
		t.Errorf("End called %d times", f.Ended.Load())
	}
}

func TestTrackWorkError(t *testing.T) {
	tr, _ := newFakeTracker(t)
	boom := errors.New("boom")

	res, err := tr.Track(context.Background(), []Measure{name}, time.Millisecond, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if res[name].Value != "tracked" {
		t.Errorf("results lost on work error: %v", res)
	}
	if n := len(tr.Sessions().Active()); n != 0 {
		t.Errorf("%d sessions left open", n)
	}
}

func TestTrackPanicStopsSession(t *testing.T) {
	tr, f := newFakeTracker(t)

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Errorf("recovered %v, want kaboom", r)
			}
		}()
		tr.Track(context.Background(), []Measure{steps}, time.Millisecond, func() error {
			panic("kaboom")
		})
		t.Error("Track returned normally")
	}()

	if n := len(tr.Sessions().Active()); n != 0 {
		t.Errorf("%d sessions left open after panic", n)
	}
	if f.Ended.Load() != 1 {
		t.Errorf("End called %d times, want 1", f.Ended.Load())
	}
}

func TestTrackInvalidMeasures(t *testing.T) {
	tr, _ := newFakeTracker(t)
	called := false
	_, err := tr.Track(context.Background(), []Measure{"UNKNOWN"}, time.Millisecond, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("err = %v", err)
	}
	if called {
		t.Error("work ran despite failed start")
	}
}

func TestStartTrackingInterval(t *testing.T) {
	tr, _ := newFakeTracker(t)
	ctx := context.Background()

	h, err := tr.StartTracking(ctx, []Measure{name}, 0)
	if err != nil {
		t.Fatalf("zero interval: %v", err)
	}
	if _, err := tr.StopTracking(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.StopTracking(ctx, h); !errors.Is(err, model.ErrAlreadyStopped) {
		t.Errorf("double stop err = %v", err)
	}
	if _, err := tr.StartTracking(ctx, []Measure{name}, -time.Millisecond); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("negative interval err = %v", err)
	}
}

func TestScope(t *testing.T) {
	tr, _ := newFakeTracker(t)

	s, err := tr.Open(context.Background(), []Measure{name, steps}, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Results(); !errors.Is(err, ErrScopeOpen) {
		t.Errorf("Results before Close err = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	res, err := s.Results()
	if err != nil || res[name].Value != "tracked" {
		t.Errorf("Results = %v, %v", res, err)
	}
	if s.Handle().State().String() != "stopped" {
		t.Errorf("handle state %v", s.Handle().State())
	}
}

func TestFetchInfoOSName(t *testing.T) {
	res, err := FetchInfo(context.Background(), []Measure{model.OSName})
	if err != nil {
		t.Fatal(err)
	}
	e, found := res[model.OSName]
	if !found || e.Value == "" || e.Type != model.String {
		t.Errorf("OS_NAME = %+v", e)
	}
}

func TestDefaultCatalog(t *testing.T) {
	providers := ListProviders()
	if len(providers) == 0 || providers[0].ID != model.ProviderSystem || !providers[0].Available {
		t.Errorf("providers = %+v", providers)
	}
	measures := ListMeasures()
	infos := MeasureInfos()
	if len(measures) != len(infos) {
		t.Errorf("%d measures, %d infos", len(measures), len(infos))
	}
	for _, m := range measures {
		if _, found := infos[m]; !found {
			t.Errorf("%s has no info", m)
		}
	}
}

func TestTrackAndExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ir_metadata")
	opts := ExportOptions{Title: "sleep", Description: "sleeps a little", Path: path}

	res, err := TrackAndExport(context.Background(), []Measure{model.TimeElapsedWallClockMs}, 10*time.Millisecond, opts, func() error {
		time.Sleep(30 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	ms, err := strconv.Atoi(res[model.TimeElapsedWallClockMs].Value)
	if err != nil || ms < 30 {
		t.Errorf("wall clock = %+v", res[model.TimeElapsedWallClockMs])
	}
	if _, found := res[model.OSName]; found {
		t.Error("platform measures leaked into the returned results")
	}

	doc, err := export.Read(path)
	if err != nil {
		t.Fatalf("export not readable: %v", err)
	}
	if doc["method"].(map[string]any)["name"] != "sleep" {
		t.Errorf("method = %v", doc["method"])
	}
	var sawWall, sawOS bool
	for _, r := range doc["measures"].([]any) {
		switch r.(map[string]any)["measure"] {
		case string(model.TimeElapsedWallClockMs):
			sawWall = true
		case string(model.OSName):
			sawOS = true
		}
	}
	if !sawWall || !sawOS {
		t.Errorf("export lacks wall clock (%v) or OS name (%v)", sawWall, sawOS)
	}
}

func TestTrackAndExportFailureKeepsResults(t *testing.T) {
	logs := testutil.RecordLogs(t)
	tr, _ := newFakeTracker(t)
	path := filepath.Join(t.TempDir(), ".ir_metadata")
	if err := os.WriteFile(path, []byte("taken"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := tr.TrackAndExport(context.Background(), []Measure{name}, time.Millisecond, ExportOptions{Path: path}, func() error { return nil })
	if err != nil {
		t.Errorf("export failure surfaced as %v", err)
	}
	if res[name].Value != "tracked" {
		t.Errorf("results = %v", res)
	}
	if len(logs.Find(model.LevelError, "export", "already exists")) != 1 {
		t.Errorf("logs: %v", logs.Events())
	}
}

func TestTrackAndExportSkipsFailedWork(t *testing.T) {
	tr, _ := newFakeTracker(t)
	path := filepath.Join(t.TempDir(), ".ir_metadata")
	workErr := errors.New("work failed")

	res, err := tr.TrackAndExport(context.Background(), []Measure{name}, time.Millisecond, ExportOptions{Path: path}, func() error { return workErr })
	if !errors.Is(err, workErr) {
		t.Errorf("err = %v, want work error", err)
	}
	if res[name].Value != "tracked" {
		t.Errorf("results = %v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("failed run was exported (stat err = %v)", err)
	}
}

func TestSetLogCallback(t *testing.T) {
	got := make(chan string, 16)
	SetLogCallback(func(level LogLevel, component, message string) {
		select {
		case got <- component:
		default:
		}
	})
	defer SetLogCallback(nil)

	tr, _ := newFakeTracker(t)
	if _, err := tr.Track(context.Background(), []Measure{name}, time.Millisecond, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, got, time.Second, "log event")
}
