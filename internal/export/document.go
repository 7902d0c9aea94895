package export

import (
	"os"
	"runtime"
	"time"

	"github.com/tira-io/tirex-tracker/internal/model"
)

const schemaVersion = "0.2"

// field maps a document key to a measure and the unit appended to its value.
type field struct {
	key     string
	measure model.Measure
	unit    string
}

var (
	cpuFields = []field{
		{"model", model.CPUModelName, ""},
		{"architecture", model.CPUArchitecture, ""},
		{"number of cores", model.CPUCoresPerSocket, ""},
		{"features", model.CPUFeatures, ""},
		{"frequency", model.CPUFrequencyMHz, "MHz"},
		{"frequency min", model.CPUFrequencyMinMHz, "MHz"},
		{"frequency max", model.CPUFrequencyMaxMHz, "MHz"},
		{"vendor id", model.CPUVendorID, ""},
		{"byte order", model.CPUByteOrder, ""},
		{"threads per core", model.CPUThreadsPerCore, ""},
		{"caches", model.CPUCaches, ""},
		{"virtualization", model.CPUVirtualization, ""},
		{"available cores", model.CPUAvailableSystemCores, ""},
	}
	gpuFields = []field{
		{"model", model.GPUModelName, ""},
		{"memory", model.GPUVRAMAvailableSystemMB, "MB"},
		{"number of cores", model.GPUNumCores, ""},
		{"supported", model.GPUSupported, ""},
	}
	osFields = []field{
		{"kernel", model.OSKernel, ""},
		{"distribution", model.OSName, ""},
	}
	sourceFields = []field{
		{"repository", model.GitRemoteOrigin, ""},
		{"commit", model.GitLastCommitHash, ""},
		{"is repo", model.GitIsRepo, ""},
		{"hash", model.GitHash, ""},
		{"branch", model.GitBranch, ""},
		{"upstream", model.GitBranchUpstream, ""},
		{"tags", model.GitTags, ""},
		{"root", model.GitRoot, ""},
		{"uncommitted changes", model.GitUncommittedChanges, ""},
		{"unpushed changes", model.GitUnpushedChanges, ""},
		{"unchecked files", model.GitUncheckedFiles, ""},
	}
	runtimeFields = []field{
		{"start", model.TimeStart, ""},
		{"stop", model.TimeStop, ""},
		{"wallclock", model.TimeElapsedWallClockMs, "ms"},
		{"user", model.TimeElapsedUserMs, "ms"},
		{"system", model.TimeElapsedSystemMs, "ms"},
	}
	cpuResourceFields = []field{
		{"used process", model.CPUUsedProcessPercent, "%"},
		{"used system", model.CPUUsedSystemPercent, "%"},
		{"energy", model.CPUEnergySystemJoules, "J"},
	}
	gpuResourceFields = []field{
		{"used process", model.GPUUsedProcessPercent, "%"},
		{"used system", model.GPUUsedSystemPercent, "%"},
		{"vram used process", model.GPUVRAMUsedProcessMB, "MB"},
		{"vram used system", model.GPUVRAMUsedSystemMB, "MB"},
		{"energy", model.GPUEnergySystemJoules, "J"},
	}
	ramResourceFields = []field{
		{"used process", model.RAMUsedProcessKB, "KB"},
		{"used system", model.RAMUsedSystemMB, "MB"},
		{"energy", model.RAMEnergySystemJoules, "J"},
	}
	ioResourceFields = []field{
		{"read process", model.IOReadProcessKB, "KB"},
		{"write process", model.IOWriteProcessKB, "KB"},
	}
)

// PlatformMeasures are the instant measures describing the host and the
// source tree that every export carries.
func PlatformMeasures() []model.Measure {
	var out []model.Measure
	for _, group := range [][]field{cpuFields, gpuFields, osFields, sourceFields} {
		for _, f := range group {
			out = append(out, f.measure)
		}
	}
	return append(out, model.RAMAvailableSystemMB)
}

func section(results model.Results, fields []field) map[string]any {
	out := make(map[string]any)
	for _, f := range fields {
		e, found := results[f.measure]
		if !found {
			continue
		}
		if f.unit != "" {
			out[f.key] = e.Value + " " + f.unit
		} else {
			out[f.key] = e.Value
		}
	}
	return out
}

func buildDocument(results model.Results, meta Metadata) map[string]any {
	doc := map[string]any{"schema version": schemaVersion}

	method := map[string]any{}
	if meta.Title != "" {
		method["name"] = meta.Title
	}
	if meta.Description != "" {
		method["description"] = meta.Description
	}
	if len(method) > 0 {
		doc["method"] = method
	}

	hardware := map[string]any{
		"cpu": section(results, cpuFields),
		"gpu": section(results, gpuFields),
	}
	if e, found := results[model.RAMAvailableSystemMB]; found {
		hardware["ram"] = e.Value + " MB"
	}
	doc["platform"] = map[string]any{
		"hardware":         hardware,
		"operating system": section(results, osFields),
		"software":         map[string]any{},
	}

	exe, _ := os.Executable()
	var args []string
	if len(os.Args) > 1 {
		args = os.Args[1:]
	}
	source := section(results, sourceFields)
	source["lang"] = "go"
	tracker := map[string]any{"name": "tirex-tracker"}
	if !meta.StartedAt.IsZero() {
		tracker["started"] = meta.StartedAt.Format(time.RFC3339Nano)
	}
	if len(meta.Measures) > 0 {
		names := make([]string, len(meta.Measures))
		for i, m := range meta.Measures {
			names[i] = string(m)
		}
		tracker["measures"] = names
	}
	doc["implementation"] = map[string]any{
		"executable": map[string]any{
			"cmd":     exe,
			"args":    args,
			"version": runtime.Version(),
		},
		"source":  source,
		"tracker": tracker,
	}

	doc["resources"] = map[string]any{
		"runtime": section(results, runtimeFields),
		"cpu":     section(results, cpuResourceFields),
		"gpu":     section(results, gpuResourceFields),
		"ram":     section(results, ramResourceFields),
		"io":      section(results, ioResourceFields),
	}

	records := make([]map[string]any, 0, len(results))
	for _, m := range results.Measures() {
		e := results[m]
		records = append(records, map[string]any{
			"measure": string(m),
			"type":    e.Type.String(),
			"value":   e.Value,
		})
	}
	doc["measures"] = records
	return doc
}
