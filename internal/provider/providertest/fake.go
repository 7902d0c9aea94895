// Package providertest provides a scriptable provider for tests of the
// catalog, session and orchestration layers.
package providertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/provider"
)

// Fake is a provider whose behavior is set through its fields. Instant
// measures return Values[m]; interval measures return Values[m] when set and
// otherwise the number of steps their sample has taken. Like a real provider,
// FetchOne and End fail once their context is done.
type Fake struct {
	PID      model.ProviderID
	Infos    []model.MeasureInfo
	ProbeErr error
	BeginErr error
	Values   map[model.Measure]string
	Errs     map[model.Measure]error

	Probes   atomic.Int64
	Begun    atomic.Int64
	Ended    atomic.Int64
	Steps    atomic.Int64
	Overlaps atomic.Int64 // Step/End calls that ran concurrently on one sample
	Late     atomic.Int64 // Step calls after End
}

// Info is a helper building a MeasureInfo owned by id.
func Info(id model.ProviderID, m model.Measure, typ model.ResultType, shape model.Shape) model.MeasureInfo {
	return model.MeasureInfo{Measure: m, Type: typ, Shape: shape, Provider: id, Description: string(m)}
}

func (f *Fake) ID() model.ProviderID          { return f.PID }
func (f *Fake) Name() string                  { return "Fake " + string(f.PID) }
func (f *Fake) Description() string           { return "Scripted provider for tests." }
func (f *Fake) Version() string               { return "test" }
func (f *Fake) Measures() []model.MeasureInfo { return f.Infos }

func (f *Fake) Probe(ctx context.Context) error {
	f.Probes.Add(1)
	return f.ProbeErr
}

func (f *Fake) FetchOne(ctx context.Context, m model.Measure) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.Errs[m]; err != nil {
		return "", err
	}
	v, found := f.Values[m]
	if !found {
		return "", fmt.Errorf("%w: %s", provider.ErrUnsupportedMeasure, m)
	}
	return v, nil
}

func (f *Fake) BeginSample(ctx context.Context, ms []model.Measure) (provider.Sample, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	f.Begun.Add(1)
	return &fakeSample{f: f, measures: append([]model.Measure(nil), ms...)}, nil
}

type fakeSample struct {
	f        *Fake
	measures []model.Measure
	busy     sync.Mutex
	steps    int
	ended    bool
}

func (s *fakeSample) enter() bool {
	if !s.busy.TryLock() {
		s.f.Overlaps.Add(1)
		return false
	}
	return true
}

func (s *fakeSample) Step(ctx context.Context) {
	if !s.enter() {
		return
	}
	defer s.busy.Unlock()
	if s.ended {
		s.f.Late.Add(1)
		return
	}
	s.steps++
	s.f.Steps.Add(1)
}

func (s *fakeSample) End(ctx context.Context) map[model.Measure]provider.Reading {
	if !s.enter() {
		return nil
	}
	defer s.busy.Unlock()
	s.ended = true
	s.f.Ended.Add(1)

	out := make(map[model.Measure]provider.Reading, len(s.measures))
	for _, m := range s.measures {
		if err := ctx.Err(); err != nil {
			out[m] = provider.Reading{Err: err}
			continue
		}
		if err := s.f.Errs[m]; err != nil {
			out[m] = provider.Reading{Err: err}
			continue
		}
		if v, found := s.f.Values[m]; found {
			out[m] = provider.Reading{Value: v}
			continue
		}
		out[m] = provider.Reading{Value: strconv.Itoa(s.steps)}
	}
	return out
}
