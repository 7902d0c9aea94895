package provider

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/tira-io/tirex-tracker/internal/model"
)

func TestParseSMIStatic(t *testing.T) {
	st := parseSMIStatic("Tesla T4, 15360\nNVIDIA A100-SXM4-40GB, 40960\nbroken\n")
	if st.count != 2 {
		t.Fatalf("count = %d", st.count)
	}
	if st.models[0] != "Tesla T4" || st.models[1] != "NVIDIA A100-SXM4-40GB" {
		t.Errorf("models = %q", st.models)
	}
	if st.vramTotalMB != 16106+42949 {
		t.Errorf("vram = %d", st.vramTotalMB)
	}
	if st.coresKnown {
		t.Error("nvidia-smi does not report cores")
	}
}

func TestParseSMIUsage(t *testing.T) {
	snap := parseSMIUsage("30, 1000\n50, 2000\n")
	if !snap.hasUtil || snap.utilPct != 40 {
		t.Errorf("util = %v (%v)", snap.utilPct, snap.hasUtil)
	}
	if !snap.hasVRAM || snap.vramUsedMB != 1048+2097 {
		t.Errorf("vram = %d (%v)", snap.vramUsedMB, snap.hasVRAM)
	}

	empty := parseSMIUsage("")
	if empty.hasUtil || empty.hasVRAM {
		t.Errorf("empty output = %+v", empty)
	}
}

func TestParseSMIApps(t *testing.T) {
	got := parseSMIApps("123, 100\n456, 200\nnope, 5\n", map[int32]bool{123: true})
	if got != 104 {
		t.Errorf("process vram = %d, want 104", got)
	}
}

type scriptedGPU struct {
	st    gpuStatic
	snaps []gpuSnapshot
	next  int
}

func (g *scriptedGPU) version() string { return "scripted" }

func (g *scriptedGPU) static(ctx context.Context) (gpuStatic, error) { return g.st, nil }

func (g *scriptedGPU) snapshot(ctx context.Context, pids map[int32]bool) (gpuSnapshot, error) {
	if g.next >= len(g.snaps) {
		return gpuSnapshot{}, errors.New("no more snapshots")
	}
	s := g.snaps[g.next]
	g.next++
	return s, nil
}

func TestGPUSample(t *testing.T) {
	backend := &scriptedGPU{
		st: gpuStatic{count: 1, models: []string{"Tesla T4"}, cores: 2560, coresKnown: true, vramTotalMB: 16106},
		snaps: []gpuSnapshot{
			{utilPct: 10, hasUtil: true, vramUsedMB: 500, hasVRAM: true, energyMJ: 1000, hasEnergy: true},
			{utilPct: 70, hasUtil: true, vramUsedMB: 900, hasVRAM: true, energyMJ: 3000, hasEnergy: true, procUtilPct: 55, hasProcUtil: true},
			{utilPct: 20, hasUtil: true, vramUsedMB: 700, hasVRAM: true, energyMJ: 6000, hasEnergy: true, procUtilPct: 5, hasProcUtil: true},
		},
	}
	p := &gpuProvider{pid: int32(os.Getpid()), backend: backend}
	ctx := context.Background()

	s, err := p.BeginSample(ctx, []model.Measure{
		model.GPUUsedSystemPercent, model.GPUUsedProcessPercent, model.GPUVRAMUsedSystemMB,
		model.GPUVRAMUsedProcessMB, model.GPUEnergySystemJoules,
	})
	if err != nil {
		t.Fatalf("BeginSample: %v", err)
	}
	s.Step(ctx)
	got := s.End(ctx)

	want := map[model.Measure]string{
		model.GPUUsedSystemPercent:  "70.00",
		model.GPUUsedProcessPercent: "55.00",
		model.GPUVRAMUsedSystemMB:   "900",
		model.GPUEnergySystemJoules: "5.00",
	}
	for m, v := range want {
		if r := got[m]; r.Err != nil || r.Value != v {
			t.Errorf("%s = %+v, want %s", m, r, v)
		}
	}
	if r := got[model.GPUVRAMUsedProcessMB]; !errors.Is(r.Err, ErrNotAvailable) {
		t.Errorf("process vram = %+v, want ErrNotAvailable", r)
	}

	name, err := p.FetchOne(ctx, model.GPUModelName)
	if err != nil || name != "Tesla T4" {
		t.Errorf("GPU_MODEL_NAME = %q, %v", name, err)
	}
	cores, err := p.FetchOne(ctx, model.GPUNumCores)
	if err != nil || cores != "2560" {
		t.Errorf("GPU_NUM_CORES = %q, %v", cores, err)
	}
}

func TestGPUWithoutBackend(t *testing.T) {
	p := &gpuProvider{pid: int32(os.Getpid())}
	ctx := context.Background()

	v, err := p.FetchOne(ctx, model.GPUSupported)
	if err != nil || v != "0" {
		t.Errorf("GPU_SUPPORTED = %q, %v; want 0", v, err)
	}
	if _, err := p.FetchOne(ctx, model.GPUModelName); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("GPU_MODEL_NAME err = %v", err)
	}
	if _, err := p.BeginSample(ctx, []model.Measure{model.GPUUsedSystemPercent}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("BeginSample err = %v", err)
	}
}
