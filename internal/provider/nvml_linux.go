package provider

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

const (
	nvmlSuccess               = 0
	nvmlErrorInsufficientSize = 7
	nvmlNameBufferSize        = 96
)

type nvmlUtilization struct {
	GPU    uint32
	Memory uint32
}

type nvmlMemory struct {
	Total uint64
	Free  uint64
	Used  uint64
}

type nvmlProcessInfo struct {
	Pid               uint32
	UsedGPUMemory     uint64
	GPUInstanceID     uint32
	ComputeInstanceID uint32
}

type nvmlProcessUtilSample struct {
	Pid       uint32
	TimeStamp uint64
	SmUtil    uint32
	MemUtil   uint32
	EncUtil   uint32
	DecUtil   uint32
}

var (
	nvmlOnce sync.Once
	nvmlErr  error

	nvmlInit                   func() int32
	nvmlSystemGetDriverVersion func(version *byte, length uint32) int32
	nvmlDeviceGetCount         func(count *uint32) int32
	nvmlDeviceGetHandleByIndex func(index uint32, device *uintptr) int32
	nvmlDeviceGetName          func(device uintptr, name *byte, length uint32) int32
	nvmlDeviceGetUtilization   func(device uintptr, util *nvmlUtilization) int32
	nvmlDeviceGetMemoryInfo    func(device uintptr, mem *nvmlMemory) int32

	// Optional: missing on older drivers.
	nvmlDeviceGetNumGpuCores        func(device uintptr, cores *uint32) int32
	nvmlDeviceGetTotalEnergy        func(device uintptr, millijoules *uint64) int32
	nvmlDeviceGetComputeProcesses   func(device uintptr, count *uint32, infos *nvmlProcessInfo) int32
	nvmlDeviceGetProcessUtilization func(device uintptr, samples *nvmlProcessUtilSample, count *uint32, lastSeen uint64) int32
)

func loadNVML() {
	lib, err := purego.Dlopen("libnvidia-ml.so.1", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		nvmlErr = fmt.Errorf("dlopen libnvidia-ml.so.1: %w", err)
		return
	}
	required := []struct {
		fptr any
		name string
	}{
		{&nvmlInit, "nvmlInit_v2"},
		{&nvmlSystemGetDriverVersion, "nvmlSystemGetDriverVersion"},
		{&nvmlDeviceGetCount, "nvmlDeviceGetCount_v2"},
		{&nvmlDeviceGetHandleByIndex, "nvmlDeviceGetHandleByIndex_v2"},
		{&nvmlDeviceGetName, "nvmlDeviceGetName"},
		{&nvmlDeviceGetUtilization, "nvmlDeviceGetUtilizationRates"},
		{&nvmlDeviceGetMemoryInfo, "nvmlDeviceGetMemoryInfo"},
	}
	for _, fn := range required {
		if !bindSymbol(lib, fn.fptr, fn.name) {
			nvmlErr = fmt.Errorf("libnvidia-ml: missing symbol %s", fn.name)
			return
		}
	}
	bindSymbol(lib, &nvmlDeviceGetNumGpuCores, "nvmlDeviceGetNumGpuCores")
	bindSymbol(lib, &nvmlDeviceGetTotalEnergy, "nvmlDeviceGetTotalEnergyConsumption")
	if !bindSymbol(lib, &nvmlDeviceGetComputeProcesses, "nvmlDeviceGetComputeRunningProcesses_v3") {
		bindSymbol(lib, &nvmlDeviceGetComputeProcesses, "nvmlDeviceGetComputeRunningProcesses_v2")
	}
	bindSymbol(lib, &nvmlDeviceGetProcessUtilization, "nvmlDeviceGetProcessUtilization")

	if ret := nvmlInit(); ret != nvmlSuccess {
		nvmlErr = fmt.Errorf("nvmlInit_v2 returned %d", ret)
	}
}

func bindSymbol(lib uintptr, fptr any, name string) bool {
	sym, err := purego.Dlsym(lib, name)
	if err != nil || sym == 0 {
		return false
	}
	purego.RegisterFunc(fptr, sym)
	return true
}

type nvmlBackend struct {
	driver string
}

// openNVML loads and initializes NVML once per process.
func openNVML() (gpuBackend, error) {
	nvmlOnce.Do(loadNVML)
	if nvmlErr != nil {
		return nil, nvmlErr
	}
	buf := make([]byte, 80)
	b := &nvmlBackend{driver: "NVML"}
	if nvmlSystemGetDriverVersion(&buf[0], uint32(len(buf))) == nvmlSuccess {
		b.driver = "NVML (driver " + cString(buf) + ")"
	}
	return b, nil
}

func (b *nvmlBackend) version() string { return b.driver }

func (b *nvmlBackend) devices() ([]uintptr, error) {
	var count uint32
	if ret := nvmlDeviceGetCount(&count); ret != nvmlSuccess {
		return nil, fmt.Errorf("nvmlDeviceGetCount returned %d", ret)
	}
	devs := make([]uintptr, 0, count)
	for i := uint32(0); i < count; i++ {
		var dev uintptr
		if nvmlDeviceGetHandleByIndex(i, &dev) == nvmlSuccess {
			devs = append(devs, dev)
		}
	}
	return devs, nil
}

func (b *nvmlBackend) static(ctx context.Context) (gpuStatic, error) {
	devs, err := b.devices()
	if err != nil {
		return gpuStatic{}, err
	}
	var st gpuStatic
	for _, dev := range devs {
		name := make([]byte, nvmlNameBufferSize)
		if nvmlDeviceGetName(dev, &name[0], uint32(len(name))) == nvmlSuccess {
			st.models = append(st.models, cString(name))
		}
		var mem nvmlMemory
		if nvmlDeviceGetMemoryInfo(dev, &mem) == nvmlSuccess {
			st.vramTotalMB += mem.Total / 1000 / 1000
		}
		if nvmlDeviceGetNumGpuCores != nil {
			var cores uint32
			if nvmlDeviceGetNumGpuCores(dev, &cores) == nvmlSuccess {
				st.cores += int(cores)
				st.coresKnown = true
			}
		}
	}
	st.count = len(devs)
	return st, nil
}

func (b *nvmlBackend) snapshot(ctx context.Context, pids map[int32]bool) (gpuSnapshot, error) {
	devs, err := b.devices()
	if err != nil {
		return gpuSnapshot{}, err
	}
	var snap gpuSnapshot
	var utilSum float64
	var utilN int
	for _, dev := range devs {
		var util nvmlUtilization
		if nvmlDeviceGetUtilization(dev, &util) == nvmlSuccess {
			utilSum += float64(util.GPU)
			utilN++
		}
		var mem nvmlMemory
		if nvmlDeviceGetMemoryInfo(dev, &mem) == nvmlSuccess {
			snap.vramUsedMB += mem.Used / 1000 / 1000
			snap.hasVRAM = true
		}
		if nvmlDeviceGetTotalEnergy != nil {
			var mj uint64
			if nvmlDeviceGetTotalEnergy(dev, &mj) == nvmlSuccess {
				snap.energyMJ += mj
				snap.hasEnergy = true
			}
		}
		if used, found := nvmlProcessMemory(dev, pids); found {
			snap.procVRAMMB += used / 1000 / 1000
			snap.hasProcVRAM = true
		}
		if pct, found := nvmlProcessUtil(dev, pids); found {
			snap.procUtilPct += pct
			snap.hasProcUtil = true
		}
	}
	if utilN > 0 {
		snap.utilPct = utilSum / float64(utilN)
		snap.hasUtil = true
	}
	return snap, nil
}

func nvmlProcessMemory(dev uintptr, pids map[int32]bool) (uint64, bool) {
	if nvmlDeviceGetComputeProcesses == nil {
		return 0, false
	}
	var count uint32
	ret := nvmlDeviceGetComputeProcesses(dev, &count, nil)
	if ret == nvmlSuccess {
		return 0, true // no processes on this device
	}
	if ret != nvmlErrorInsufficientSize || count == 0 {
		return 0, false
	}
	infos := make([]nvmlProcessInfo, count+4)
	count = uint32(len(infos))
	if nvmlDeviceGetComputeProcesses(dev, &count, &infos[0]) != nvmlSuccess {
		return 0, false
	}
	runtime.KeepAlive(infos)
	var used uint64
	for _, info := range infos[:count] {
		if pids[int32(info.Pid)] {
			used += info.UsedGPUMemory
		}
	}
	return used, true
}

func nvmlProcessUtil(dev uintptr, pids map[int32]bool) (float64, bool) {
	if nvmlDeviceGetProcessUtilization == nil {
		return 0, false
	}
	var count uint32
	ret := nvmlDeviceGetProcessUtilization(dev, nil, &count, 0)
	if ret != nvmlErrorInsufficientSize || count == 0 {
		return 0, ret == nvmlSuccess
	}
	samples := make([]nvmlProcessUtilSample, count)
	if nvmlDeviceGetProcessUtilization(dev, &samples[0], &count, 0) != nvmlSuccess {
		return 0, false
	}
	runtime.KeepAlive(samples)
	// Samples are per process and timestamp; keep the latest per pid.
	latest := make(map[uint32]nvmlProcessUtilSample)
	for _, s := range samples[:count] {
		if prev, seen := latest[s.Pid]; !seen || s.TimeStamp > prev.TimeStamp {
			latest[s.Pid] = s
		}
	}
	var pct float64
	for pid, s := range latest {
		if pids[int32(pid)] {
			pct += float64(s.SmUtil)
		}
	}
	return pct, true
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
