package provider

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tira-io/tirex-tracker/internal/logging"
	"github.com/tira-io/tirex-tracker/internal/model"
)

type systemProvider struct {
	pid  int32
	root string // filesystem root for /proc, /sys and /etc lookups
}

// NewSystemProvider returns the provider for OS, time, CPU, RAM and process
// I/O measures of the current process.
func NewSystemProvider() Provider {
	return &systemProvider{pid: int32(os.Getpid()), root: "/"}
}

func (p *systemProvider) ID() model.ProviderID { return model.ProviderSystem }
func (p *systemProvider) Name() string         { return "System" }
func (p *systemProvider) Description() string {
	return "Collects system components and utilization metrics."
}
func (p *systemProvider) Version() string               { return "gopsutil v4" }
func (p *systemProvider) Measures() []model.MeasureInfo { return measuresOf(model.ProviderSystem) }

// Probe never fails: time measures work on every host.
func (p *systemProvider) Probe(ctx context.Context) error { return nil }

func (p *systemProvider) FetchOne(ctx context.Context, m model.Measure) (string, error) {
	switch m {
	case model.OSName:
		return p.osName(ctx)
	case model.OSKernel:
		return kernelString(ctx)
	case model.CPUAvailableSystemCores:
		n, err := cpu.CountsWithContext(ctx, true)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	case model.CPUFeatures, model.CPUFrequencyMHz, model.CPUVendorID, model.CPUModelName, model.CPUVirtualization:
		info, err := firstCPU(ctx)
		if err != nil {
			return "", err
		}
		return cpuInfoField(info, m), nil
	case model.CPUFrequencyMinMHz:
		return readCPUFreqMHz(p.root, "cpuinfo_min_freq")
	case model.CPUFrequencyMaxMHz:
		return readCPUFreqMHz(p.root, "cpuinfo_max_freq")
	case model.CPUByteOrder:
		return byteOrder(), nil
	case model.CPUArchitecture:
		hi, err := host.InfoWithContext(ctx)
		if err != nil || hi.KernelArch == "" {
			return runtime.GOARCH, nil
		}
		return hi.KernelArch, nil
	case model.CPUCoresPerSocket, model.CPUThreadsPerCore:
		return cpuTopology(ctx, m)
	case model.CPUCaches:
		return p.cpuCaches(ctx)
	case model.RAMAvailableSystemMB:
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return "", err
		}
		return formatUint(vm.Total / 1000 / 1000), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m)
}

func (p *systemProvider) BeginSample(ctx context.Context, ms []model.Measure) (Sample, error) {
	s := &systemSample{
		p:     p,
		want:  wants(ms),
		start: time.Now(),
		io:    newIOTracker(),
	}
	s.startUser, s.startSys, s.timesErr = processCPUTimes(p.pid)
	if s.timesErr != nil {
		logging.Warnf("system", "cannot read process times: %v", s.timesErr)
	}
	if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
		s.prevCPU = &times[0]
	}
	if s.want[model.IOReadProcessKB] || s.want[model.IOWriteProcessKB] {
		s.io.observe(processTree(ctx, p.pid), true)
	}
	logging.Infof("system", "collecting resources for process %d", p.pid)
	s.Step(ctx)
	return s, nil
}

type systemSample struct {
	p    *systemProvider
	want map[model.Measure]bool

	start, stop         time.Time
	startUser, startSys time.Duration
	timesErr            error

	prevCPU *cpu.TimesStat
	sysCPU  peak
	sysRAM  peak
	procRSS peak
	io      *ioTracker
}

func (s *systemSample) Step(ctx context.Context) {
	if s.want[model.CPUUsedSystemPercent] {
		if times, err := cpu.TimesWithContext(ctx, false); err == nil && len(times) > 0 {
			cur := times[0]
			if s.prevCPU != nil {
				if pct, valid := busyPercent(*s.prevCPU, cur); valid {
					s.sysCPU.add(pct)
				}
			}
			s.prevCPU = &cur
		}
	}
	if s.want[model.RAMUsedSystemMB] {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			s.sysRAM.add(float64(vm.Used) / 1000 / 1000)
		}
	}
	needTree := s.want[model.RAMUsedProcessKB] || s.want[model.IOReadProcessKB] || s.want[model.IOWriteProcessKB]
	if !needTree {
		return
	}
	tree := processTree(ctx, s.p.pid)
	if s.want[model.RAMUsedProcessKB] {
		var rss uint64
		for _, proc := range tree {
			if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
				rss += mi.RSS
			}
		}
		if rss > 0 {
			s.procRSS.add(float64(rss / 1024))
		}
	}
	if s.want[model.IOReadProcessKB] || s.want[model.IOWriteProcessKB] {
		s.io.observe(tree, false)
	}
}

func (s *systemSample) End(ctx context.Context) map[model.Measure]Reading {
	s.stop = time.Now()
	s.Step(ctx)

	user, sys, err := processCPUTimes(s.p.pid)
	if err == nil && s.timesErr != nil {
		err = s.timesErr
	}
	wall := s.stop.Sub(s.start)

	out := make(map[model.Measure]Reading, len(s.want))
	for m := range s.want {
		switch m {
		case model.TimeStart:
			out[m] = ok(s.start.Format(time.RFC3339Nano))
		case model.TimeStop:
			out[m] = ok(s.stop.Format(time.RFC3339Nano))
		case model.TimeElapsedWallClockMs:
			out[m] = ok(formatInt(wall.Milliseconds()))
		case model.TimeElapsedUserMs, model.TimeElapsedSystemMs, model.CPUUsedProcessPercent:
			if err != nil {
				out[m] = failed(err)
				continue
			}
			du, ds := user-s.startUser, sys-s.startSys
			switch m {
			case model.TimeElapsedUserMs:
				out[m] = ok(formatInt(du.Milliseconds()))
			case model.TimeElapsedSystemMs:
				out[m] = ok(formatInt(ds.Milliseconds()))
			default:
				pct := 0.0
				if wall > 0 {
					pct = float64(du+ds) / float64(wall) * 100
				}
				out[m] = ok(formatFloat(pct))
			}
		case model.CPUUsedSystemPercent:
			out[m] = peakReading(s.sysCPU, formatFloat)
		case model.RAMUsedSystemMB:
			out[m] = peakReading(s.sysRAM, func(v float64) string { return formatInt(int64(v)) })
		case model.RAMUsedProcessKB:
			out[m] = peakReading(s.procRSS, func(v float64) string { return formatInt(int64(v)) })
		case model.IOReadProcessKB, model.IOWriteProcessKB:
			read, write, seen := s.io.total()
			switch {
			case !seen:
				out[m] = failed(ErrNotAvailable)
			case m == model.IOReadProcessKB:
				out[m] = ok(formatUint(read / 1024))
			default:
				out[m] = ok(formatUint(write / 1024))
			}
		default:
			out[m] = failed(fmt.Errorf("%w: %s", ErrUnsupportedMeasure, m))
		}
	}
	return out
}

func peakReading(p peak, format func(float64) string) Reading {
	if !p.seen() {
		return failed(ErrNotAvailable)
	}
	return ok(format(p.max))
}

// busyPercent computes the busy share between two CPU time snapshots.
func busyPercent(prev, cur cpu.TimesStat) (float64, bool) {
	dIdle := (cur.Idle - prev.Idle) + (cur.Iowait - prev.Iowait)
	dBusy := (cur.User - prev.User) + (cur.System - prev.System) +
		(cur.Nice - prev.Nice) + (cur.Irq - prev.Irq) +
		(cur.Softirq - prev.Softirq) + (cur.Steal - prev.Steal)
	dTotal := dBusy + dIdle
	if dTotal <= 0 {
		return 0, false
	}
	return dBusy / dTotal * 100, true
}

// processTree returns pid and all of its live descendants.
func processTree(ctx context.Context, pid int32) []*process.Process {
	self, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil
	}
	tree := []*process.Process{self}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

// ---------------------------------------------------------------------------
// OS
// ---------------------------------------------------------------------------

func (p *systemProvider) osName(ctx context.Context) (string, error) {
	if runtime.GOOS == "linux" {
		if name, found := readDistro(p.root); found {
			return name, nil
		}
	}
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
	if name == "" {
		name = hi.OS
	}
	return name, nil
}

// readDistro reads the distribution description from lsb-release, falling
// back to os-release.
func readDistro(root string) (string, bool) {
	if v, found := readKeyValue(filepath.Join(root, "etc", "lsb-release"), "DISTRIB_DESCRIPTION"); found {
		return v, true
	}
	return readKeyValue(filepath.Join(root, "etc", "os-release"), "PRETTY_NAME")
}

func readKeyValue(path, key string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		k, v, found := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !found || k != key {
			continue
		}
		v = strings.Trim(v, `"'`)
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// CPU details
// ---------------------------------------------------------------------------

func allCPUs(ctx context.Context) ([]cpu.InfoStat, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNotAvailable
	}
	return infos, nil
}

func firstCPU(ctx context.Context) (cpu.InfoStat, error) {
	infos, err := allCPUs(ctx)
	if err != nil {
		return cpu.InfoStat{}, err
	}
	return infos[0], nil
}

func cpuInfoField(info cpu.InfoStat, m model.Measure) string {
	switch m {
	case model.CPUFeatures:
		return strings.Join(info.Flags, " ")
	case model.CPUFrequencyMHz:
		return formatFloat(info.Mhz)
	case model.CPUVendorID:
		return info.VendorID
	case model.CPUModelName:
		return info.ModelName
	case model.CPUVirtualization:
		return virtualization(info.Flags)
	}
	return ""
}

func virtualization(flags []string) string {
	for _, f := range flags {
		switch f {
		case "vmx":
			return "VT-x"
		case "svm":
			return "AMD-V"
		}
	}
	return "none"
}

func byteOrder() string {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return "Little Endian"
	}
	return "Big Endian"
}

func cpuTopology(ctx context.Context, m model.Measure) (string, error) {
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return "", err
	}
	physical, err := cpu.CountsWithContext(ctx, false)
	if err != nil || physical <= 0 {
		return "", ErrNotAvailable
	}
	if m == model.CPUThreadsPerCore {
		return strconv.Itoa(max(1, logical/physical)), nil
	}
	sockets := 1
	if infos, err := allCPUs(ctx); err == nil {
		seen := make(map[string]bool)
		for _, info := range infos {
			if info.PhysicalID != "" {
				seen[info.PhysicalID] = true
			}
		}
		if len(seen) > 0 {
			sockets = len(seen)
		}
	}
	return strconv.Itoa(max(1, physical/sockets)), nil
}

// readCPUFreqMHz reads a cpufreq limit (in kHz) of cpu0 from sysfs.
func readCPUFreqMHz(root, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "sys", "devices", "system", "cpu", "cpu0", "cpufreq", name))
	if err != nil {
		return "", ErrNotAvailable
	}
	khz, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", model.ErrMalformedValue, name, err)
	}
	return formatFloat(khz / 1000), nil
}

func (p *systemProvider) cpuCaches(ctx context.Context) (string, error) {
	caches := readCPUCaches(p.root)
	if len(caches) == 0 {
		info, err := firstCPU(ctx)
		if err != nil || info.CacheSize <= 0 {
			return "", ErrNotAvailable
		}
		caches = map[string]string{"cache": fmt.Sprintf("%d KiB", info.CacheSize)}
	}
	b, err := json.Marshal(caches)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readCPUCaches reads cpu0's cache hierarchy from sysfs into keys like
// "l1d", "l1i", "l2", "l3".
func readCPUCaches(root string) map[string]string {
	dirs, _ := filepath.Glob(filepath.Join(root, "sys", "devices", "system", "cpu", "cpu0", "cache", "index*"))
	caches := make(map[string]string)
	for _, dir := range dirs {
		level := readTrimmed(filepath.Join(dir, "level"))
		typ := readTrimmed(filepath.Join(dir, "type"))
		size := readTrimmed(filepath.Join(dir, "size"))
		if level == "" || size == "" {
			continue
		}
		key := "l" + level
		switch typ {
		case "Data":
			key += "d"
		case "Instruction":
			key += "i"
		}
		if strings.HasSuffix(size, "K") {
			size = strings.TrimSuffix(size, "K") + " KiB"
		} else if strings.HasSuffix(size, "M") {
			size = strings.TrimSuffix(size, "M") + " MiB"
		}
		caches[key] = size
	}
	return caches
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
