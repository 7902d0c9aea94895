// Package catalog is the static registry of measures and providers. A
// Catalog is built once, probing every provider, and is read-only afterwards.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
	"github.com/tira-io/tirex-tracker/internal/provider"
)

// probeTimeout bounds the availability probe of a single provider.
const probeTimeout = 10 * time.Second

// Catalog maps every measure to its metadata and owning provider.
type Catalog struct {
	providers map[model.ProviderID]provider.Provider
	infos     []model.ProviderInfo
	measures  map[model.Measure]model.MeasureInfo
	sorted    []model.Measure
}

// New registers providers and probes each of them once. A failing probe marks
// its provider unavailable; only a measure registered twice is an error.
func New(ctx context.Context, providers ...provider.Provider) (*Catalog, error) {
	c := &Catalog{
		providers: make(map[model.ProviderID]provider.Provider, len(providers)),
		measures:  make(map[model.Measure]model.MeasureInfo),
	}
	for _, p := range providers {
		if _, dup := c.providers[p.ID()]; dup {
			return nil, fmt.Errorf("%w: provider %s registered twice", model.ErrInternal, p.ID())
		}
		c.providers[p.ID()] = p

		for _, info := range p.Measures() {
			if prev, dup := c.measures[info.Measure]; dup {
				return nil, fmt.Errorf("%w: measure %s claimed by %s and %s",
					model.ErrInternal, info.Measure, prev.Provider, p.ID())
			}
			info.Provider = p.ID()
			c.measures[info.Measure] = info
			c.sorted = append(c.sorted, info.Measure)
		}

		pi := model.ProviderInfo{
			ID:          p.ID(),
			Name:        p.Name(),
			Description: p.Description(),
			Available:   true,
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Probe(probeCtx)
		cancel()
		if err != nil {
			pi.Available = false
			pi.Reason = err.Error()
			logging.Infof("catalog", "provider %s unavailable: %v", p.ID(), err)
		} else {
			logging.Debugf("catalog", "provider %s: %d measures", p.ID(), len(p.Measures()))
		}
		pi.Version = p.Version()
		c.infos = append(c.infos, pi)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i] < c.sorted[j] })
	return c, nil
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the process-wide catalog of the built-in providers,
// building it on first use.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = New(context.Background(), provider.Builtin()...)
	})
	return defaultCat, defaultErr
}

// AllMeasures returns every known measure sorted by name.
func (c *Catalog) AllMeasures() []model.Measure {
	return append([]model.Measure(nil), c.sorted...)
}

// MeasureInfo returns the metadata of m.
func (c *Catalog) MeasureInfo(m model.Measure) (model.MeasureInfo, bool) {
	info, found := c.measures[m]
	return info, found
}

// MeasureInfos returns a copy of the metadata of every measure.
func (c *Catalog) MeasureInfos() map[model.Measure]model.MeasureInfo {
	out := make(map[model.Measure]model.MeasureInfo, len(c.measures))
	for m, info := range c.measures {
		out[m] = info
	}
	return out
}

// ProviderInfos returns the providers in registration order.
func (c *Catalog) ProviderInfos() []model.ProviderInfo {
	return append([]model.ProviderInfo(nil), c.infos...)
}

// Provider returns the provider registered under id.
func (c *Catalog) Provider(id model.ProviderID) (provider.Provider, bool) {
	p, found := c.providers[id]
	return p, found
}

// Available reports whether the provider id passed its probe.
func (c *Catalog) Available(id model.ProviderID) bool {
	for _, pi := range c.infos {
		if pi.ID == id {
			return pi.Available
		}
	}
	return false
}

// Resolve validates measures and groups them by owning provider. Duplicates
// are collapsed. An empty list or an unknown measure is ErrInvalidArgument.
func (c *Catalog) Resolve(measures []model.Measure) (map[model.ProviderID][]model.MeasureInfo, error) {
	if len(measures) == 0 {
		return nil, fmt.Errorf("%w: no measures requested", model.ErrInvalidArgument)
	}
	seen := make(map[model.Measure]bool, len(measures))
	out := make(map[model.ProviderID][]model.MeasureInfo)
	for _, m := range measures {
		info, found := c.measures[m]
		if !found {
			return nil, fmt.Errorf("%w: unknown measure %q", model.ErrInvalidArgument, m)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out[info.Provider] = append(out[info.Provider], info)
	}
	return out, nil
}

// ParseMeasures converts names into measures known to the catalog.
func (c *Catalog) ParseMeasures(names []string) ([]model.Measure, error) {
	out := make([]model.Measure, 0, len(names))
	for _, name := range names {
		m := model.Measure(name)
		if _, found := c.measures[m]; !found {
			return nil, fmt.Errorf("%w: unknown measure %q", model.ErrInvalidArgument, name)
		}
		out = append(out, m)
	}
	return out, nil
}
