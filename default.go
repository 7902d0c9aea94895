package tirextracker

import (
	"context"
	"sync"
	"time"

	"github.com/tira-io/tirex-tracker/internal/catalog"
	"github.com/tira-io/tirex-tracker/internal/logging"
)

var (
	defaultOnce    sync.Once
	defaultTracker *Tracker
)

// Default returns the process-wide tracker over the built-in providers. It
// panics if the built-in providers declare conflicting measures.
func Default() *Tracker {
	defaultOnce.Do(func() {
		cat, err := catalog.Default()
		if err != nil {
			panic("tirextracker: " + err.Error())
		}
		defaultTracker = New(cat)
	})
	return defaultTracker
}

// SetLogCallback installs fn as the receiver of the tracker's diagnostics.
// nil discards them.
func SetLogCallback(fn func(level LogLevel, component, message string)) {
	logging.SetSink(fn)
}

// ListProviders calls ListProviders on the default tracker.
func ListProviders() []ProviderInfo { return Default().ListProviders() }

// ListMeasures calls ListMeasures on the default tracker.
func ListMeasures() []Measure { return Default().ListMeasures() }

// MeasureInfos calls MeasureInfos on the default tracker.
func MeasureInfos() map[Measure]MeasureInfo { return Default().MeasureInfos() }

// FetchInfo reads measures once on the default tracker.
func FetchInfo(ctx context.Context, measures []Measure) (Results, error) {
	return Default().FetchInfo(ctx, measures)
}

// StartTracking opens a session on the default tracker.
func StartTracking(ctx context.Context, measures []Measure, pollInterval time.Duration) (*Handle, error) {
	return Default().StartTracking(ctx, measures, pollInterval)
}

// StopTracking stops a session opened with StartTracking.
func StopTracking(ctx context.Context, h *Handle) (Results, error) {
	return Default().StopTracking(ctx, h)
}

// Track measures work on the default tracker. See Tracker.Track.
func Track(ctx context.Context, measures []Measure, pollInterval time.Duration, work func() error) (Results, error) {
	return Default().Track(ctx, measures, pollInterval, work)
}

// TrackAndExport tracks and exports work on the default tracker. See
// Tracker.TrackAndExport.
func TrackAndExport(ctx context.Context, measures []Measure, pollInterval time.Duration, opts ExportOptions, work func() error) (Results, error) {
	return Default().TrackAndExport(ctx, measures, pollInterval, opts, work)
}

// Open opens a tracking scope on the default tracker.
func Open(ctx context.Context, measures []Measure, pollInterval time.Duration) (*Scope, error) {
	return Default().Open(ctx, measures, pollInterval)
}
