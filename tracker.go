// Package tirextracker measures the resources a piece of work consumes:
// wall-clock and CPU time, CPU/GPU/RAM utilization, energy, and the state of
// the host and the git repository it runs in.
//
// Tracking either wraps a function with Track, or spans an open-ended
// interval with StartTracking/StopTracking or Open/Close. Results are typed
// string values keyed by measure and can be exported to ir_metadata files.
package tirextracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tira-io/tirex-tracker/internal/catalog"
	"github.com/tira-io/tirex-tracker/internal/export"
	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/session"
)

type (
	Measure      = model.Measure
	MeasureInfo  = model.MeasureInfo
	ProviderInfo = model.ProviderInfo
	ResultType   = model.ResultType
	ResultEntry  = model.ResultEntry
	Results      = model.Results
	LogLevel     = model.LogLevel
	Handle       = session.Handle
	Format       = export.Format
)

// Export formats.
const (
	FormatGuess      = export.Guess
	FormatIRMetadata = export.IRMetadata
)

// ParseFormat parses an export format name ("guess" or "ir_metadata").
func ParseFormat(s string) (Format, error) { return export.ParseFormat(s) }

// DefaultPollInterval is the sampling interval used when none is given.
const DefaultPollInterval = 100 * time.Millisecond

// ErrScopeOpen is returned by Scope.Results before the scope is closed.
var ErrScopeOpen = model.NewError("tracking scope still open")

// ExportOptions configures TrackAndExport.
type ExportOptions struct {
	Title       string
	Description string
	Path        string
	Format      Format
	Metadata    map[string]any
}

// Tracker runs tracking sessions against one catalog of providers.
type Tracker struct {
	cat      *catalog.Catalog
	sessions *session.Manager
}

// New returns a tracker for cat. Options are passed to the session manager.
func New(cat *catalog.Catalog, opts ...session.Option) *Tracker {
	return &Tracker{cat: cat, sessions: session.NewManager(cat, opts...)}
}

// Catalog returns the catalog the tracker resolves measures through.
func (t *Tracker) Catalog() *catalog.Catalog { return t.cat }

// Sessions returns the underlying session manager.
func (t *Tracker) Sessions() *session.Manager { return t.sessions }

// ListProviders describes every provider, available or not.
func (t *Tracker) ListProviders() []ProviderInfo { return t.cat.ProviderInfos() }

// ListMeasures returns every known measure, sorted.
func (t *Tracker) ListMeasures() []Measure { return t.cat.AllMeasures() }

// MeasureInfos returns the metadata of every known measure.
func (t *Tracker) MeasureInfos() map[Measure]MeasureInfo { return t.cat.MeasureInfos() }

// FetchInfo reads measures once, without a tracking session.
func (t *Tracker) FetchInfo(ctx context.Context, measures []Measure) (Results, error) {
	return t.sessions.FetchInfo(ctx, measures)
}

// StartTracking opens a tracking session. A zero pollInterval selects
// DefaultPollInterval.
func (t *Tracker) StartTracking(ctx context.Context, measures []Measure, pollInterval time.Duration) (*Handle, error) {
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	return t.sessions.Start(ctx, measures, pollInterval)
}

// StopTracking ends a session started by StartTracking and returns its
// results. Stopping a handle twice fails with model.ErrAlreadyStopped.
func (t *Tracker) StopTracking(ctx context.Context, h *Handle) (Results, error) {
	return t.sessions.Stop(ctx, h)
}

// Track measures work. The session is stopped on every exit path: an error
// from work is returned together with the results, and a panic is re-raised
// once the session has been stopped.
func (t *Tracker) Track(ctx context.Context, measures []Measure, pollInterval time.Duration, work func() error) (results Results, err error) {
	h, err := t.StartTracking(ctx, measures, pollInterval)
	if err != nil {
		return nil, err
	}
	defer func() {
		res, stopErr := t.StopTracking(context.WithoutCancel(ctx), h)
		if stopErr != nil {
			err = errors.Join(err, stopErr)
			return
		}
		results = res
	}()
	return nil, work()
}

// TrackAndExport is Track followed by an export of the results, merged with
// the platform description, to opts.Path. Only a successful run is exported:
// when work fails its error and results are returned and no file is written.
// A failed export is logged and does not affect the returned results or error.
func (t *Tracker) TrackAndExport(ctx context.Context, measures []Measure, pollInterval time.Duration, opts ExportOptions, work func() error) (Results, error) {
	startedAt := time.Now()
	results, err := t.Track(ctx, measures, pollInterval, work)
	if err != nil || opts.Path == "" {
		return results, err
	}
	_ = t.Export(context.WithoutCancel(ctx), results, measures, startedAt, opts)
	return results, err
}

// Export writes results to opts.Path together with a fresh read of the
// platform measures.
func (t *Tracker) Export(ctx context.Context, results Results, measures []Measure, startedAt time.Time, opts ExportOptions) error {
	var platform []Measure
	for _, m := range export.PlatformMeasures() {
		if _, found := t.cat.MeasureInfo(m); found {
			platform = append(platform, m)
		}
	}
	merged := results
	if len(platform) > 0 {
		info, err := t.FetchInfo(ctx, platform)
		if err != nil {
			logging.Warnf("export", "platform info: %v", err)
		} else {
			merged = results.Union(info)
		}
	}

	meta := export.Metadata{
		Title:       opts.Title,
		Description: opts.Description,
		StartedAt:   startedAt,
		Measures:    measures,
		Extra:       opts.Metadata,
	}
	if err := export.Write(merged, meta, opts.Path, opts.Format); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// Scope is a tracking session closed explicitly, typically with defer.
type Scope struct {
	t *Tracker
	h *Handle

	mu      sync.Mutex
	closed  bool
	results Results
	err     error
}

// Open starts a tracking session bound to the returned Scope.
func (t *Tracker) Open(ctx context.Context, measures []Measure, pollInterval time.Duration) (*Scope, error) {
	h, err := t.StartTracking(ctx, measures, pollInterval)
	if err != nil {
		return nil, err
	}
	return &Scope{t: t, h: h}, nil
}

// Close stops the session. Only the first call stops; later calls return nil.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.results, s.err = s.t.StopTracking(context.Background(), s.h)
	return s.err
}

// Results returns the results of a closed scope, or ErrScopeOpen.
func (s *Scope) Results() (Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil, ErrScopeOpen
	}
	return s.results, s.err
}

// Handle returns the session handle of the scope.
func (s *Scope) Handle() *Handle { return s.h }
