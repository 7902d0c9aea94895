package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tira-io/tirex-tracker/internal/model"
)

func raplRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	pc := "sys/class/powercap/"
	writeTree(t, root, map[string]string{
		pc + "intel-rapl:0/name":                  "package-0\n",
		pc + "intel-rapl:0/energy_uj":             "1000\n",
		pc + "intel-rapl:0/max_energy_range_uj":   "262143328850\n",
		pc + "intel-rapl:0:0/name":                "core\n",
		pc + "intel-rapl:0:0/energy_uj":           "5\n",
		pc + "intel-rapl:0:1/name":                "dram\n",
		pc + "intel-rapl:0:1/energy_uj":           "500\n",
		pc + "intel-rapl:0:1/max_energy_range_uj": "65712999613\n",
	})
	return root
}

func setEnergy(t *testing.T, root, domain, uj string) {
	t.Helper()
	path := filepath.Join(root, "sys", "class", "powercap", domain, "energy_uj")
	if err := os.WriteFile(path, []byte(uj+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverRAPL(t *testing.T) {
	domains := discoverRAPL(raplRoot(t))
	if len(domains) != 2 {
		t.Fatalf("found %d domains, want 2: %+v", len(domains), domains)
	}
	kinds := map[string]uint64{}
	for _, d := range domains {
		kinds[d.kind] = d.maxRange
	}
	if kinds[raplPackage] != 262143328850 || kinds[raplDRAM] != 65712999613 {
		t.Errorf("domains = %+v", domains)
	}
}

func TestEnergySample(t *testing.T) {
	root := raplRoot(t)
	p := &energyProvider{root: root}
	ctx := context.Background()

	if err := p.Probe(ctx); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	s, err := p.BeginSample(ctx, []model.Measure{model.CPUEnergySystemJoules, model.RAMEnergySystemJoules})
	if err != nil {
		t.Fatalf("BeginSample: %v", err)
	}
	setEnergy(t, root, "intel-rapl:0", "1001000")
	s.Step(ctx)
	setEnergy(t, root, "intel-rapl:0", "2001000")
	setEnergy(t, root, "intel-rapl:0:1", "1500500")

	got := s.End(ctx)
	if r := got[model.CPUEnergySystemJoules]; r.Err != nil || r.Value != "2.00" {
		t.Errorf("CPU energy = %+v, want 2.00", r)
	}
	if r := got[model.RAMEnergySystemJoules]; r.Err != nil || r.Value != "1.50" {
		t.Errorf("RAM energy = %+v, want 1.50", r)
	}
}

func TestEnergyUnavailable(t *testing.T) {
	p := &energyProvider{root: t.TempDir()}
	if err := p.Probe(context.Background()); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Probe err = %v, want ErrProviderUnavailable", err)
	}
	if _, err := p.BeginSample(context.Background(), []model.Measure{model.CPUEnergySystemJoules}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("BeginSample err = %v", err)
	}
}

func TestRAPLCounterWrap(t *testing.T) {
	tests := []struct {
		name     string
		maxRange uint64
		last     uint64
		next     uint64
		want     uint64
	}{
		{"forward", 1000, 100, 400, 300},
		{"wrap", 1000, 900, 100, 200},
		{"wrap without range", 0, 900, 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &raplCounter{domain: raplDomain{maxRange: tt.maxRange}, last: tt.last}
			c.update(tt.next)
			if c.total != tt.want {
				t.Errorf("total = %d, want %d", c.total, tt.want)
			}
		})
	}
}
