package provider

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

// gpuBackend is a source of NVIDIA GPU figures.
type gpuBackend interface {
	version() string
	static(ctx context.Context) (gpuStatic, error)
	snapshot(ctx context.Context, pids map[int32]bool) (gpuSnapshot, error)
}

type gpuStatic struct {
	count       int
	models      []string
	cores       int
	coresKnown  bool
	vramTotalMB uint64
}

type gpuSnapshot struct {
	utilPct     float64
	hasUtil     bool
	vramUsedMB  uint64
	hasVRAM     bool
	energyMJ    uint64
	hasEnergy   bool
	procUtilPct float64
	hasProcUtil bool
	procVRAMMB  uint64
	hasProcVRAM bool
}

type gpuProvider struct {
	pid int32

	mu      sync.Mutex
	backend gpuBackend
}

// NewGPUProvider returns the provider for NVIDIA GPUs, read through NVML when
// the library can be loaded and through nvidia-smi otherwise.
func NewGPUProvider() Provider { return &gpuProvider{pid: int32(os.Getpid())} }

func (p *gpuProvider) ID() model.ProviderID { return model.ProviderGPU }
func (p *gpuProvider) Name() string         { return "GPU (NVIDIA)" }
func (p *gpuProvider) Description() string {
	return "Collects GPU model, utilization, memory and energy via NVML or nvidia-smi."
}
func (p *gpuProvider) Version() string {
	if b := p.getBackend(); b != nil {
		return b.version()
	}
	return "none"
}
func (p *gpuProvider) Measures() []model.MeasureInfo { return measuresOf(model.ProviderGPU) }

func (p *gpuProvider) getBackend() gpuBackend {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backend
}

func (p *gpuProvider) Probe(ctx context.Context) error {
	backend, nvmlErr := openNVML()
	if nvmlErr != nil {
		logging.Debugf("gpu", "NVML unavailable: %v", nvmlErr)
		smi, err := newSMIBackend(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v; %v", ErrProviderUnavailable, nvmlErr, err)
		}
		backend = smi
	}
	st, err := backend.static(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if st.count == 0 {
		return fmt.Errorf("%w: no NVIDIA GPU found", ErrProviderUnavailable)
	}
	p.mu.Lock()
	p.backend = backend
	p.mu.Unlock()
	return nil
}

func (p *gpuProvider) FetchOne(ctx context.Context, m model.Measure) (string, error) {
	b := p.getBackend()
	if b == nil {
		if m == model.GPUSupported {
			return formatBool(false), nil
		}
		return "", ErrProviderUnavailable
	}
	st, err := b.static(ctx)
	if err != nil {
		return "", err
	}
	switch m {
	case model.GPUSupported:
		return formatBool(st.count > 0), nil
	case model.GPUModelName:
		return strings.Join(st.models, ", "), nil
	case model.GPUNumCores:
		if !st.coresKnown {
			return "", ErrNotAvailable
		}
		return strconv.Itoa(st.cores), nil
	case model.GPUVRAMAvailableSystemMB:
		return formatUint(st.vramTotalMB), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m)
}

func (p *gpuProvider) BeginSample(ctx context.Context, ms []model.Measure) (Sample, error) {
	b := p.getBackend()
	if b == nil {
		return nil, ErrProviderUnavailable
	}
	s := &gpuSample{p: p, backend: b, want: wants(ms)}
	first, err := b.snapshot(ctx, p.pids(ctx))
	if err != nil {
		return nil, err
	}
	s.startEnergy, s.hasStartEnergy = first.energyMJ, first.hasEnergy
	s.fold(first)
	return s, nil
}

func (p *gpuProvider) pids(ctx context.Context) map[int32]bool {
	tree := processTree(ctx, p.pid)
	out := make(map[int32]bool, len(tree)+1)
	out[p.pid] = true
	for _, proc := range tree {
		out[proc.Pid] = true
	}
	return out
}

type gpuSample struct {
	p       *gpuProvider
	backend gpuBackend
	want    map[model.Measure]bool

	util, procUtil peak
	vram, procVRAM peak
	startEnergy    uint64
	hasStartEnergy bool
	lastEnergy     uint64
	hasLastEnergy  bool
}

func (s *gpuSample) fold(snap gpuSnapshot) {
	if snap.hasUtil {
		s.util.add(snap.utilPct)
	}
	if snap.hasVRAM {
		s.vram.add(float64(snap.vramUsedMB))
	}
	if snap.hasProcUtil {
		s.procUtil.add(snap.procUtilPct)
	}
	if snap.hasProcVRAM {
		s.procVRAM.add(float64(snap.procVRAMMB))
	}
	if snap.hasEnergy {
		s.lastEnergy, s.hasLastEnergy = snap.energyMJ, true
	}
}

func (s *gpuSample) Step(ctx context.Context) {
	snap, err := s.backend.snapshot(ctx, s.p.pids(ctx))
	if err != nil {
		logging.Debugf("gpu", "snapshot failed: %v", err)
		return
	}
	s.fold(snap)
}

func (s *gpuSample) End(ctx context.Context) map[model.Measure]Reading {
	s.Step(ctx)
	asInt := func(v float64) string { return formatInt(int64(v)) }
	out := make(map[model.Measure]Reading, len(s.want))
	for m := range s.want {
		switch m {
		case model.GPUUsedSystemPercent:
			out[m] = peakReading(s.util, formatFloat)
		case model.GPUUsedProcessPercent:
			out[m] = peakReading(s.procUtil, formatFloat)
		case model.GPUVRAMUsedSystemMB:
			out[m] = peakReading(s.vram, asInt)
		case model.GPUVRAMUsedProcessMB:
			out[m] = peakReading(s.procVRAM, asInt)
		case model.GPUEnergySystemJoules:
			if !s.hasStartEnergy || !s.hasLastEnergy || s.lastEnergy < s.startEnergy {
				out[m] = failed(ErrNotAvailable)
				continue
			}
			out[m] = ok(formatFloat(float64(s.lastEnergy-s.startEnergy) / 1000))
		default:
			out[m] = failed(fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// nvidia-smi backend
// ---------------------------------------------------------------------------

type smiBackend struct {
	path string
}

func newSMIBackend(ctx context.Context) (*smiBackend, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi not found")
	}
	return &smiBackend{path: path}, nil
}

func (b *smiBackend) version() string { return "nvidia-smi" }

func (b *smiBackend) query(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.path, append(args, "--format=csv,noheader,nounits")...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("nvidia-smi: %w", err)
	}
	return string(out), nil
}

func (b *smiBackend) static(ctx context.Context) (gpuStatic, error) {
	out, err := b.query(ctx, "--query-gpu=name,memory.total")
	if err != nil {
		return gpuStatic{}, err
	}
	return parseSMIStatic(out), nil
}

func (b *smiBackend) snapshot(ctx context.Context, pids map[int32]bool) (gpuSnapshot, error) {
	out, err := b.query(ctx, "--query-gpu=utilization.gpu,memory.used")
	if err != nil {
		return gpuSnapshot{}, err
	}
	snap := parseSMIUsage(out)
	if apps, err := b.query(ctx, "--query-compute-apps=pid,used_memory"); err == nil {
		snap.procVRAMMB, snap.hasProcVRAM = parseSMIApps(apps, pids), true
	}
	return snap, nil
}

// smiRows splits nvidia-smi CSV output into trimmed fields, skipping rows
// with fewer than n fields.
func smiRows(out string, n int) [][]string {
	var rows [][]string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		if len(fields) < n {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows
}

// mibToMB converts nvidia-smi's MiB figures to MB.
func mibToMB(s string) (uint64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return uint64(v * 1024 * 1024 / 1000 / 1000), true
}

func parseSMIStatic(out string) gpuStatic {
	var st gpuStatic
	for _, row := range smiRows(out, 2) {
		st.count++
		st.models = append(st.models, row[0])
		if mb, valid := mibToMB(row[1]); valid {
			st.vramTotalMB += mb
		}
	}
	return st
}

func parseSMIUsage(out string) gpuSnapshot {
	var snap gpuSnapshot
	var sum float64
	var n int
	for _, row := range smiRows(out, 2) {
		if v, err := strconv.ParseFloat(row[0], 64); err == nil {
			sum += v
			n++
		}
		if mb, valid := mibToMB(row[1]); valid {
			snap.vramUsedMB += mb
			snap.hasVRAM = true
		}
	}
	if n > 0 {
		snap.utilPct, snap.hasUtil = sum/float64(n), true
	}
	return snap
}

func parseSMIApps(out string, pids map[int32]bool) uint64 {
	var total uint64
	for _, row := range smiRows(out, 2) {
		pid, err := strconv.ParseInt(row[0], 10, 32)
		if err != nil || !pids[int32(pid)] {
			continue
		}
		if mb, valid := mibToMB(row[1]); valid {
			total += mb
		}
	}
	return total
}
