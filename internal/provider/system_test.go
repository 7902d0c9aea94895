package provider

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/tira-io/tirex-tracker/internal/model"
)

func TestReadDistro(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
		found bool
	}{
		{
			name:  "os-release",
			files: map[string]string{"etc/os-release": "NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n"},
			want:  "Ubuntu 24.04 LTS",
			found: true,
		},
		{
			name: "lsb-release wins",
			files: map[string]string{
				"etc/lsb-release": "DISTRIB_ID=Ubuntu\nDISTRIB_DESCRIPTION=\"Ubuntu 22.04.4 LTS\"\n",
				"etc/os-release":  "PRETTY_NAME=\"Something else\"\n",
			},
			want:  "Ubuntu 22.04.4 LTS",
			found: true,
		},
		{
			name:  "empty value falls through",
			files: map[string]string{"etc/lsb-release": "DISTRIB_DESCRIPTION=\n", "etc/os-release": "PRETTY_NAME='Alpine Linux v3.20'\n"},
			want:  "Alpine Linux v3.20",
			found: true,
		},
		{name: "nothing", files: map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files)
			got, found := readDistro(root)
			if got != tt.want || found != tt.found {
				t.Errorf("readDistro = %q, %v; want %q, %v", got, found, tt.want, tt.found)
			}
		})
	}
}

func TestReadCPUCaches(t *testing.T) {
	root := t.TempDir()
	base := "sys/devices/system/cpu/cpu0/cache/"
	writeTree(t, root, map[string]string{
		base + "index0/level": "1\n", base + "index0/type": "Data\n", base + "index0/size": "48K\n",
		base + "index1/level": "1\n", base + "index1/type": "Instruction\n", base + "index1/size": "32K\n",
		base + "index2/level": "2\n", base + "index2/type": "Unified\n", base + "index2/size": "1280K\n",
		base + "index3/level": "3\n", base + "index3/type": "Unified\n", base + "index3/size": "24M\n",
		base + "index4/level": "4\n", base + "index4/type": "Unified\n",
	})

	got := readCPUCaches(root)
	want := map[string]string{"l1d": "48 KiB", "l1i": "32 KiB", "l2": "1280 KiB", "l3": "24 MiB"}
	if len(got) != len(want) {
		t.Fatalf("readCPUCaches = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestReadCPUFreqMHz(t *testing.T) {
	root := t.TempDir()
	dir := "sys/devices/system/cpu/cpu0/cpufreq/"
	writeTree(t, root, map[string]string{
		dir + "cpuinfo_max_freq": "3600000\n",
		dir + "cpuinfo_min_freq": "garbage\n",
	})

	got, err := readCPUFreqMHz(root, "cpuinfo_max_freq")
	if err != nil || got != "3600.00" {
		t.Errorf("max = %q, %v", got, err)
	}
	if _, err := readCPUFreqMHz(root, "cpuinfo_min_freq"); !errors.Is(err, model.ErrMalformedValue) {
		t.Errorf("min err = %v, want ErrMalformedValue", err)
	}
	if _, err := readCPUFreqMHz(root, "scaling_cur_freq"); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("missing err = %v, want ErrNotAvailable", err)
	}
}

func TestBusyPercent(t *testing.T) {
	prev := cpu.TimesStat{User: 10, System: 5, Idle: 85}
	cur := cpu.TimesStat{User: 25, System: 10, Idle: 165}
	pct, valid := busyPercent(prev, cur)
	if !valid || pct != 20 {
		t.Errorf("busyPercent = %v, %v; want 20, true", pct, valid)
	}
	if _, valid := busyPercent(cur, cur); valid {
		t.Error("no elapsed time should be invalid")
	}
}

func TestPeak(t *testing.T) {
	var p peak
	if p.seen() {
		t.Fatal("empty peak reports seen")
	}
	if r := peakReading(p, formatFloat); !errors.Is(r.Err, ErrNotAvailable) {
		t.Errorf("empty reading = %+v", r)
	}
	for _, v := range []float64{-3, 12.5, 7} {
		p.add(v)
	}
	if r := peakReading(p, formatFloat); r.Err != nil || r.Value != "12.50" {
		t.Errorf("reading = %+v, want 12.50", r)
	}
}

func TestVirtualizationAndByteOrder(t *testing.T) {
	if got := virtualization([]string{"fpu", "vmx", "sse"}); got != "VT-x" {
		t.Errorf("vmx = %q", got)
	}
	if got := virtualization([]string{"svm"}); got != "AMD-V" {
		t.Errorf("svm = %q", got)
	}
	if got := virtualization(nil); got != "none" {
		t.Errorf("none = %q", got)
	}
	if bo := byteOrder(); bo != "Little Endian" && bo != "Big Endian" {
		t.Errorf("byteOrder = %q", bo)
	}
}

func TestSystemSampleTiming(t *testing.T) {
	p := NewSystemProvider()
	ctx := context.Background()
	ms := []model.Measure{model.TimeStart, model.TimeStop, model.TimeElapsedWallClockMs, model.TimeElapsedUserMs}

	s, err := p.BeginSample(ctx, ms)
	if err != nil {
		t.Fatalf("BeginSample: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	s.Step(ctx)
	readings := s.End(ctx)

	if len(readings) != len(ms) {
		t.Fatalf("got %d readings, want %d", len(readings), len(ms))
	}
	wall, err := strconv.ParseInt(readings[model.TimeElapsedWallClockMs].Value, 10, 64)
	if err != nil || wall < 25 {
		t.Errorf("wall clock = %+v", readings[model.TimeElapsedWallClockMs])
	}
	start, err := time.Parse(time.RFC3339Nano, readings[model.TimeStart].Value)
	if err != nil {
		t.Fatalf("TIME_START: %v", err)
	}
	stop, err := time.Parse(time.RFC3339Nano, readings[model.TimeStop].Value)
	if err != nil {
		t.Fatalf("TIME_STOP: %v", err)
	}
	if !stop.After(start) {
		t.Errorf("stop %v not after start %v", stop, start)
	}
}

func TestSystemFetchOne(t *testing.T) {
	p := NewSystemProvider()
	ctx := context.Background()

	name, err := p.FetchOne(ctx, model.OSName)
	if err != nil || name == "" {
		t.Errorf("OS_NAME = %q, %v", name, err)
	}
	cores, err := p.FetchOne(ctx, model.CPUAvailableSystemCores)
	if n, perr := strconv.Atoi(cores); err != nil || perr != nil || n < 1 {
		t.Errorf("CPU_AVAILABLE_SYSTEM_CORES = %q, %v", cores, err)
	}
	if _, err := p.FetchOne(ctx, model.GitBranch); !errors.Is(err, ErrUnsupportedMeasure) {
		t.Errorf("foreign measure err = %v", err)
	}
}
