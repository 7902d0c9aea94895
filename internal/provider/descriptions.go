package provider

import (
	"sort"

	"github.com/tira-io/tirex-tracker/internal/model"
)

type measureDesc struct {
	typ         model.ResultType
	shape       model.Shape
	provider    model.ProviderID
	unit        string
	description string
}

// measureDescriptions is the static metadata of every measure a built-in
// provider serves.
var measureDescriptions = map[model.Measure]measureDesc{
	// ========================== OS ==========================
	model.OSName:   {model.String, model.Instant, model.ProviderSystem, "", "Name and version of the operating system distribution."},
	model.OSKernel: {model.String, model.Instant, model.ProviderSystem, "", "Kernel name, release and machine architecture."},

	// ========================== Time ==========================
	model.TimeStart:              {model.String, model.Interval, model.ProviderSystem, "", "Wall-clock timestamp (RFC 3339) at which tracking started."},
	model.TimeStop:               {model.String, model.Interval, model.ProviderSystem, "", "Wall-clock timestamp (RFC 3339) at which tracking stopped."},
	model.TimeElapsedWallClockMs: {model.Integer, model.Interval, model.ProviderSystem, "ms", "Elapsed real time between start and stop, from a monotonic clock."},
	model.TimeElapsedUserMs:      {model.Integer, model.Interval, model.ProviderSystem, "ms", "CPU time spent in user mode by this process and its waited-for children."},
	model.TimeElapsedSystemMs:    {model.Integer, model.Interval, model.ProviderSystem, "ms", "CPU time spent in kernel mode by this process and its waited-for children."},

	// ========================== CPU ==========================
	model.CPUUsedProcessPercent:   {model.Floating, model.Interval, model.ProviderSystem, "%", "Average CPU utilization of the tracked process over the session (user + system time per wall time; may exceed 100 on multi-core hosts)."},
	model.CPUUsedSystemPercent:    {model.Floating, model.Interval, model.ProviderSystem, "%", "Peak system-wide CPU utilization observed between two samples."},
	model.CPUAvailableSystemCores: {model.Integer, model.Instant, model.ProviderSystem, "", "Number of logical CPUs online."},
	model.CPUEnergySystemJoules:   {model.Floating, model.Interval, model.ProviderEnergy, "J", "Energy consumed by the CPU packages (RAPL) between start and stop."},
	model.CPUFeatures:             {model.String, model.Instant, model.ProviderSystem, "", "Space-separated CPU feature flags."},
	model.CPUFrequencyMHz:         {model.Floating, model.Instant, model.ProviderSystem, "MHz", "Current (or nominal) CPU clock frequency."},
	model.CPUFrequencyMinMHz:      {model.Floating, model.Instant, model.ProviderSystem, "MHz", "Minimum CPU clock frequency supported by the frequency driver."},
	model.CPUFrequencyMaxMHz:      {model.Floating, model.Instant, model.ProviderSystem, "MHz", "Maximum CPU clock frequency supported by the frequency driver."},
	model.CPUVendorID:             {model.String, model.Instant, model.ProviderSystem, "", "CPU vendor identifier (e.g. GenuineIntel)."},
	model.CPUByteOrder:            {model.String, model.Instant, model.ProviderSystem, "", "Byte order of the CPU (Little Endian or Big Endian)."},
	model.CPUArchitecture:         {model.String, model.Instant, model.ProviderSystem, "", "Machine architecture as reported by the kernel."},
	model.CPUModelName:            {model.String, model.Instant, model.ProviderSystem, "", "CPU model name."},
	model.CPUCoresPerSocket:       {model.Integer, model.Instant, model.ProviderSystem, "", "Physical cores per CPU socket."},
	model.CPUThreadsPerCore:       {model.Integer, model.Instant, model.ProviderSystem, "", "Hardware threads per physical core."},
	model.CPUCaches:               {model.String, model.Instant, model.ProviderSystem, "", "CPU cache sizes as a JSON object (e.g. {\"l1d\": \"32 KiB\"})."},
	model.CPUVirtualization:       {model.String, model.Instant, model.ProviderSystem, "", "Hardware virtualization extension (VT-x, AMD-V) or none."},

	// ========================== RAM ==========================
	model.RAMUsedProcessKB:      {model.Integer, model.Interval, model.ProviderSystem, "KB", "Peak resident memory of the tracked process tree."},
	model.RAMUsedSystemMB:       {model.Integer, model.Interval, model.ProviderSystem, "MB", "Peak system-wide used memory."},
	model.RAMAvailableSystemMB:  {model.Integer, model.Instant, model.ProviderSystem, "MB", "Total physical memory installed."},
	model.RAMEnergySystemJoules: {model.Floating, model.Interval, model.ProviderEnergy, "J", "Energy consumed by DRAM (RAPL) between start and stop."},

	// ========================== GPU ==========================
	model.GPUSupported:             {model.Integer, model.Instant, model.ProviderGPU, "", "1 if at least one supported GPU was found, else 0."},
	model.GPUModelName:             {model.String, model.Instant, model.ProviderGPU, "", "Model names of the GPUs, comma separated."},
	model.GPUNumCores:              {model.Integer, model.Instant, model.ProviderGPU, "", "Total number of GPU cores across all devices."},
	model.GPUUsedProcessPercent:    {model.Floating, model.Interval, model.ProviderGPU, "%", "Peak GPU SM utilization attributed to the tracked process tree."},
	model.GPUUsedSystemPercent:     {model.Floating, model.Interval, model.ProviderGPU, "%", "Peak GPU utilization across all devices."},
	model.GPUVRAMUsedProcessMB:     {model.Integer, model.Interval, model.ProviderGPU, "MB", "Peak video memory used by the tracked process tree."},
	model.GPUVRAMUsedSystemMB:      {model.Integer, model.Interval, model.ProviderGPU, "MB", "Peak video memory used on all devices."},
	model.GPUVRAMAvailableSystemMB: {model.Integer, model.Instant, model.ProviderGPU, "MB", "Total video memory across all devices."},
	model.GPUEnergySystemJoules:    {model.Floating, model.Interval, model.ProviderGPU, "J", "Energy consumed by all GPUs between start and stop."},

	// ========================== Git ==========================
	model.GitIsRepo:             {model.Integer, model.Instant, model.ProviderGit, "", "1 if the working directory is inside a git work tree, else 0."},
	model.GitHash:               {model.String, model.Instant, model.ProviderGit, "", "BLAKE3 digest over the paths and current contents of all tracked files."},
	model.GitLastCommitHash:     {model.String, model.Instant, model.ProviderGit, "", "Commit id of HEAD."},
	model.GitBranch:             {model.String, model.Instant, model.ProviderGit, "", "Name of the checked out branch."},
	model.GitBranchUpstream:     {model.String, model.Instant, model.ProviderGit, "", "Upstream of the checked out branch."},
	model.GitTags:               {model.String, model.Instant, model.ProviderGit, "", "Tags pointing at HEAD, as a bracketed list."},
	model.GitRemoteOrigin:       {model.String, model.Instant, model.ProviderGit, "", "URL of the remote named origin."},
	model.GitUncommittedChanges: {model.Integer, model.Instant, model.ProviderGit, "", "1 if tracked files have uncommitted modifications, else 0."},
	model.GitUnpushedChanges:    {model.Integer, model.Instant, model.ProviderGit, "", "1 if HEAD is ahead of its upstream or has no upstream, else 0."},
	model.GitUncheckedFiles:     {model.Integer, model.Instant, model.ProviderGit, "", "1 if the work tree has untracked files, else 0."},
	model.GitRoot:               {model.String, model.Instant, model.ProviderGit, "", "Top-level directory of the work tree."},

	// ========================== Process I/O ==========================
	model.IOReadProcessKB:  {model.Integer, model.Interval, model.ProviderSystem, "KB", "Bytes read from storage by the tracked process tree between start and stop."},
	model.IOWriteProcessKB: {model.Integer, model.Interval, model.ProviderSystem, "KB", "Bytes written to storage by the tracked process tree between start and stop."},
}

// LookupMeasure returns the metadata of a built-in measure.
func LookupMeasure(m model.Measure) (model.MeasureInfo, bool) {
	d, found := measureDescriptions[m]
	if !found {
		return model.MeasureInfo{}, false
	}
	return model.MeasureInfo{
		Measure:     m,
		Type:        d.typ,
		Shape:       d.shape,
		Provider:    d.provider,
		Description: d.description,
		Unit:        d.unit,
	}, true
}

// measuresOf returns the metadata of every built-in measure owned by p,
// sorted by measure name.
func measuresOf(p model.ProviderID) []model.MeasureInfo {
	var out []model.MeasureInfo
	for m, d := range measureDescriptions {
		if d.provider != p {
			continue
		}
		info, _ := LookupMeasure(m)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Measure < out[j].Measure })
	return out
}
