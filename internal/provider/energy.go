package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

type energyProvider struct {
	root string
}

// NewEnergyProvider returns the provider for CPU and DRAM energy read from
// the powercap RAPL counters.
func NewEnergyProvider() Provider { return &energyProvider{root: "/"} }

func (p *energyProvider) ID() model.ProviderID { return model.ProviderEnergy }
func (p *energyProvider) Name() string         { return "Energy" }
func (p *energyProvider) Description() string {
	return "Collects the energy consumption of various components."
}
func (p *energyProvider) Version() string               { return "powercap rapl" }
func (p *energyProvider) Measures() []model.MeasureInfo { return measuresOf(model.ProviderEnergy) }

func (p *energyProvider) Probe(ctx context.Context) error {
	domains := discoverRAPL(p.root)
	if len(domains) == 0 {
		return fmt.Errorf("%w: no RAPL domains under /sys/class/powercap", ErrProviderUnavailable)
	}
	if _, err := domains[0].read(); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func (p *energyProvider) FetchOne(ctx context.Context, m model.Measure) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m)
}

func (p *energyProvider) BeginSample(ctx context.Context, ms []model.Measure) (Sample, error) {
	s := &energySample{want: wants(ms)}
	for _, d := range discoverRAPL(p.root) {
		v, err := d.read()
		if err != nil {
			logging.Warnf("energy", "skipping %s: %v", d.path, err)
			continue
		}
		s.counters = append(s.counters, &raplCounter{domain: d, last: v})
	}
	if len(s.counters) == 0 {
		return nil, fmt.Errorf("%w: no readable RAPL domain", ErrProviderUnavailable)
	}
	return s, nil
}

const (
	raplPackage = "package"
	raplDRAM    = "dram"
)

type raplDomain struct {
	path     string
	kind     string
	maxRange uint64
}

func (d raplDomain) read() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(d.path, "energy_uj"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// discoverRAPL lists the package and dram RAPL domains below root.
func discoverRAPL(root string) []raplDomain {
	dirs, _ := filepath.Glob(filepath.Join(root, "sys", "class", "powercap", "intel-rapl:*"))
	var out []raplDomain
	for _, dir := range dirs {
		name := readTrimmed(filepath.Join(dir, "name"))
		var kind string
		switch {
		case strings.HasPrefix(name, "package"):
			kind = raplPackage
		case name == "dram":
			kind = raplDRAM
		default:
			continue
		}
		maxRange, _ := strconv.ParseUint(readTrimmed(filepath.Join(dir, "max_energy_range_uj")), 10, 64)
		out = append(out, raplDomain{path: dir, kind: kind, maxRange: maxRange})
	}
	return out
}

type raplCounter struct {
	domain raplDomain
	last   uint64
	total  uint64 // accumulated microjoules
}

// update folds a new reading in, accounting for one counter wrap.
func (c *raplCounter) update(v uint64) {
	if v >= c.last {
		c.total += v - c.last
	} else if c.domain.maxRange > c.last {
		c.total += c.domain.maxRange - c.last + v
	} else {
		c.total += v
	}
	c.last = v
}

type energySample struct {
	want     map[model.Measure]bool
	counters []*raplCounter
}

func (s *energySample) Step(ctx context.Context) {
	for _, c := range s.counters {
		if v, err := c.domain.read(); err == nil {
			c.update(v)
		}
	}
}

func (s *energySample) End(ctx context.Context) map[model.Measure]Reading {
	s.Step(ctx)
	sums := make(map[string]uint64)
	present := make(map[string]bool)
	for _, c := range s.counters {
		sums[c.domain.kind] += c.total
		present[c.domain.kind] = true
	}
	out := make(map[model.Measure]Reading, len(s.want))
	for m := range s.want {
		kind := raplPackage
		if m == model.RAMEnergySystemJoules {
			kind = raplDRAM
		} else if m != model.CPUEnergySystemJoules {
			out[m] = failed(fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m))
			continue
		}
		if !present[kind] {
			out[m] = failed(ErrNotAvailable)
			continue
		}
		out[m] = ok(formatFloat(float64(sums[kind]) / 1e6))
	}
	return out
}
