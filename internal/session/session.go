// Package session manages tracking handles: one per open measurement
// interval, each with its own poller goroutine sampling interval measures
// until the handle is stopped.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tira-io/tirex-tracker/internal/catalog"
	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/provider"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// EventKind distinguishes handle lifecycle notifications.
type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
)

// Event is delivered to observers when a handle starts or stops.
type Event struct {
	Kind      EventKind
	ID        string
	Measures  []model.Measure
	StartedAt time.Time
	Results   model.Results // set for EventStopped
}

// HandleInfo is a snapshot of an active handle.
type HandleInfo struct {
	ID           string          `json:"id"`
	State        string          `json:"state"`
	Measures     []model.Measure `json:"measures"`
	StartedAt    time.Time       `json:"started_at"`
	PollInterval time.Duration   `json:"poll_interval"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver registers fn to be called synchronously on every handle
// start and stop.
func WithObserver(fn func(Event)) Option {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// Manager opens and closes tracking handles against a catalog.
type Manager struct {
	cat       *catalog.Catalog
	handles   sync.Map // id -> *Handle
	observers []func(Event)
}

// NewManager creates a manager resolving measures through cat.
func NewManager(cat *catalog.Catalog, opts ...Option) *Manager {
	m := &Manager{cat: cat}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Catalog returns the catalog the manager resolves measures through.
func (m *Manager) Catalog() *catalog.Catalog { return m.cat }

type activeSample struct {
	provider provider.Provider
	sample   provider.Sample
	measures []model.MeasureInfo
}

// Handle is one open tracking session.
type Handle struct {
	id        string
	mgr       *Manager
	measures  []model.Measure
	interval  time.Duration
	startedAt time.Time
	state     atomic.Int32

	mu       sync.Mutex // guards samples
	samples  []activeSample
	instants []model.MeasureInfo

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ID returns the unique identifier of the handle.
func (h *Handle) ID() string { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// StartedAt returns when the handle was started.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Measures returns the measures requested for the handle.
func (h *Handle) Measures() []model.Measure { return append([]model.Measure(nil), h.measures...) }

// Stop stops the handle. See Manager.Stop.
func (h *Handle) Stop(ctx context.Context) (model.Results, error) {
	if h == nil {
		return nil, model.ErrInvalidHandle
	}
	return h.mgr.Stop(ctx, h)
}

func (h *Handle) info() HandleInfo {
	return HandleInfo{
		ID:           h.id,
		State:        h.State().String(),
		Measures:     h.Measures(),
		StartedAt:    h.startedAt,
		PollInterval: h.interval,
	}
}

// Start opens a handle for measures and begins sampling their interval
// measures every pollInterval. Start does not wait for any sample beyond the
// baseline each provider takes when its sample begins.
func (m *Manager) Start(ctx context.Context, measures []model.Measure, pollInterval time.Duration) (*Handle, error) {
	if pollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll interval must be positive, got %v", model.ErrInvalidArgument, pollInterval)
	}
	groups, err := m.cat.Resolve(measures)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:        uuid.New().String(),
		mgr:       m,
		measures:  append([]model.Measure(nil), measures...),
		interval:  pollInterval,
		startedAt: time.Now(),
	}
	h.state.Store(int32(Created))

	for _, id := range sortedProviders(groups) {
		p, _ := m.cat.Provider(id)
		var interval []model.MeasureInfo
		for _, info := range groups[id] {
			if info.Shape == model.Instant {
				h.instants = append(h.instants, info)
			} else {
				interval = append(interval, info)
			}
		}
		if len(interval) == 0 {
			continue
		}
		if !m.cat.Available(id) {
			logging.Warnf(string(id), "provider unavailable, dropping %d interval measures", len(interval))
			continue
		}
		s, err := p.BeginSample(ctx, measureNames(interval))
		if err != nil {
			logging.Warnf(string(id), "begin sample: %v; dropping %v", err, measureNames(interval))
			continue
		}
		h.samples = append(h.samples, activeSample{provider: p, sample: s, measures: interval})
	}

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.state.Store(int32(Running))
	m.handles.Store(h.id, h)

	if len(h.samples) > 0 {
		h.wg.Add(1)
		go h.poll(pollCtx)
	}

	logging.Debugf("session", "started %s: %d measures, %d samples, poll %v",
		h.id, len(h.measures), len(h.samples), pollInterval)
	m.notify(Event{Kind: EventStarted, ID: h.id, Measures: h.Measures(), StartedAt: h.startedAt})
	return h, nil
}

func (h *Handle) poll(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.step(ctx)
		}
	}
}

func (h *Handle) step(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.samples {
		if ctx.Err() != nil {
			return
		}
		s.sample.Step(ctx)
	}
}

// Stop ends the handle and returns its results. Of concurrent callers exactly
// one proceeds; the others, like any later call, fail with ErrAlreadyStopped.
// Stop blocks until the poller has exited, so no sample is taken afterwards.
// Cancelling ctx does not cut the final readings short.
func (m *Manager) Stop(ctx context.Context, h *Handle) (model.Results, error) {
	if h == nil || h.mgr != m {
		return nil, model.ErrInvalidHandle
	}
	if !h.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyStopped, h.id)
	}
	// The handle is spent once the CAS wins; final readings must not be cut
	// short by the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	var entries []model.ResultEntry
	for _, s := range h.samples {
		id := string(s.provider.ID())
		readings := s.sample.End(ctx)
		for _, info := range s.measures {
			r, found := readings[info.Measure]
			if !found {
				logging.Warnf(id, "%s: no reading", info.Measure)
				continue
			}
			entries = appendReading(entries, id, info, r.Value, r.Err)
		}
	}
	h.samples = nil
	h.mu.Unlock()

	for _, info := range h.instants {
		p, _ := m.cat.Provider(info.Provider)
		v, err := p.FetchOne(ctx, info.Measure)
		entries = appendReading(entries, string(info.Provider), info, v, err)
	}

	results, err := model.MergeAll(entries)
	h.state.Store(int32(Stopped))
	m.handles.Delete(h.id)
	if err != nil {
		logging.Errorf("session", "stop %s: %v", h.id, err)
		return nil, err
	}

	logging.Debugf("session", "stopped %s: %d results", h.id, len(results))
	m.notify(Event{Kind: EventStopped, ID: h.id, Measures: h.Measures(), StartedAt: h.startedAt, Results: results})
	return results, nil
}

// StopByID looks up an active handle and stops it.
func (m *Manager) StopByID(ctx context.Context, id string) (model.Results, error) {
	h, found := m.Get(id)
	if !found {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidHandle, id)
	}
	return m.Stop(ctx, h)
}

// Get returns the active handle with the given id.
func (m *Manager) Get(id string) (*Handle, bool) {
	v, found := m.handles.Load(id)
	if !found {
		return nil, false
	}
	return v.(*Handle), true
}

// Active returns a snapshot of every running handle, oldest first.
func (m *Manager) Active() []HandleInfo {
	var out []HandleInfo
	m.handles.Range(func(_, v any) bool {
		out = append(out, v.(*Handle).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopAll stops every active handle, discarding results. It is used on shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.handles.Range(func(_, v any) bool {
		if _, err := m.Stop(ctx, v.(*Handle)); err != nil {
			logging.Debugf("session", "stop all: %v", err)
		}
		return true
	})
}

// FetchInfo reads measures without a session. Instant measures are fetched
// directly; interval measures are sampled with an immediate begin and end.
func (m *Manager) FetchInfo(ctx context.Context, measures []model.Measure) (model.Results, error) {
	groups, err := m.cat.Resolve(measures)
	if err != nil {
		return nil, err
	}

	var entries []model.ResultEntry
	for _, id := range sortedProviders(groups) {
		p, _ := m.cat.Provider(id)
		var interval []model.MeasureInfo
		for _, info := range groups[id] {
			if info.Shape == model.Instant {
				v, err := p.FetchOne(ctx, info.Measure)
				entries = appendReading(entries, string(id), info, v, err)
				continue
			}
			interval = append(interval, info)
		}
		if len(interval) == 0 {
			continue
		}
		if !m.cat.Available(id) {
			logging.Warnf(string(id), "provider unavailable, dropping %d interval measures", len(interval))
			continue
		}
		s, err := p.BeginSample(ctx, measureNames(interval))
		if err != nil {
			logging.Warnf(string(id), "begin sample: %v", err)
			continue
		}
		readings := s.End(ctx)
		for _, info := range interval {
			if r, found := readings[info.Measure]; found {
				entries = appendReading(entries, string(id), info, r.Value, r.Err)
			}
		}
	}
	return model.MergeAll(entries)
}

func (m *Manager) notify(e Event) {
	for _, fn := range m.observers {
		fn(e)
	}
}

// appendReading wraps one raw value, logging and skipping failures.
func appendReading(entries []model.ResultEntry, component string, info model.MeasureInfo, raw string, err error) []model.ResultEntry {
	if err != nil {
		logging.Warnf(component, "%s: %v", info.Measure, err)
		return entries
	}
	e, err := model.Wrap(info, raw)
	if err != nil {
		logging.Warnf(component, "%v", err)
		return entries
	}
	return append(entries, e)
}

func measureNames(infos []model.MeasureInfo) []model.Measure {
	out := make([]model.Measure, len(infos))
	for i, info := range infos {
		out[i] = info.Measure
	}
	return out
}

func sortedProviders(groups map[model.ProviderID][]model.MeasureInfo) []model.ProviderID {
	ids := make([]model.ProviderID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
