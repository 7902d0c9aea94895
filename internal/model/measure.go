package model

// Measure identifies a single metric the tracker can report.
type Measure string

const (
	OSName   Measure = "OS_NAME"
	OSKernel Measure = "OS_KERNEL"

	TimeStart              Measure = "TIME_START"
	TimeStop               Measure = "TIME_STOP"
	TimeElapsedWallClockMs Measure = "TIME_ELAPSED_WALL_CLOCK_MS"
	TimeElapsedUserMs      Measure = "TIME_ELAPSED_USER_MS"
	TimeElapsedSystemMs    Measure = "TIME_ELAPSED_SYSTEM_MS"

	CPUUsedProcessPercent   Measure = "CPU_USED_PROCESS_PERCENT"
	CPUUsedSystemPercent    Measure = "CPU_USED_SYSTEM_PERCENT"
	CPUAvailableSystemCores Measure = "CPU_AVAILABLE_SYSTEM_CORES"
	CPUEnergySystemJoules   Measure = "CPU_ENERGY_SYSTEM_JOULES"
	CPUFeatures             Measure = "CPU_FEATURES"
	CPUFrequencyMHz         Measure = "CPU_FREQUENCY_MHZ"
	CPUFrequencyMinMHz      Measure = "CPU_FREQUENCY_MIN_MHZ"
	CPUFrequencyMaxMHz      Measure = "CPU_FREQUENCY_MAX_MHZ"
	CPUVendorID             Measure = "CPU_VENDOR_ID"
	CPUByteOrder            Measure = "CPU_BYTE_ORDER"
	CPUArchitecture         Measure = "CPU_ARCHITECTURE"
	CPUModelName            Measure = "CPU_MODEL_NAME"
	CPUCoresPerSocket       Measure = "CPU_CORES_PER_SOCKET"
	CPUThreadsPerCore       Measure = "CPU_THREADS_PER_CORE"
	CPUCaches               Measure = "CPU_CACHES"
	CPUVirtualization       Measure = "CPU_VIRTUALIZATION"

	RAMUsedProcessKB      Measure = "RAM_USED_PROCESS_KB"
	RAMUsedSystemMB       Measure = "RAM_USED_SYSTEM_MB"
	RAMAvailableSystemMB  Measure = "RAM_AVAILABLE_SYSTEM_MB"
	RAMEnergySystemJoules Measure = "RAM_ENERGY_SYSTEM_JOULES"

	GPUSupported             Measure = "GPU_SUPPORTED"
	GPUModelName             Measure = "GPU_MODEL_NAME"
	GPUNumCores              Measure = "GPU_NUM_CORES"
	GPUUsedProcessPercent    Measure = "GPU_USED_PROCESS_PERCENT"
	GPUUsedSystemPercent     Measure = "GPU_USED_SYSTEM_PERCENT"
	GPUVRAMUsedProcessMB     Measure = "GPU_VRAM_USED_PROCESS_MB"
	GPUVRAMUsedSystemMB      Measure = "GPU_VRAM_USED_SYSTEM_MB"
	GPUVRAMAvailableSystemMB Measure = "GPU_VRAM_AVAILABLE_SYSTEM_MB"
	GPUEnergySystemJoules    Measure = "GPU_ENERGY_SYSTEM_JOULES"

	GitIsRepo             Measure = "GIT_IS_REPO"
	GitHash               Measure = "GIT_HASH"
	GitLastCommitHash     Measure = "GIT_LAST_COMMIT_HASH"
	GitBranch             Measure = "GIT_BRANCH"
	GitBranchUpstream     Measure = "GIT_BRANCH_UPSTREAM"
	GitTags               Measure = "GIT_TAGS"
	GitRemoteOrigin       Measure = "GIT_REMOTE_ORIGIN"
	GitUncommittedChanges Measure = "GIT_UNCOMMITTED_CHANGES"
	GitUnpushedChanges    Measure = "GIT_UNPUSHED_CHANGES"
	GitUncheckedFiles     Measure = "GIT_UNCHECKED_FILES"
	GitRoot               Measure = "GIT_ROOT"

	IOReadProcessKB  Measure = "IO_READ_PROCESS_KB"
	IOWriteProcessKB Measure = "IO_WRITE_PROCESS_KB"
)

func (m Measure) String() string { return string(m) }
