package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"
)

// processCPUTimes returns the user and system CPU time of pid. Exited
// children are not included on Windows.
func processCPUTimes(pid int32) (user, system time.Duration, err error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, 0, err
	}
	t, err := proc.Times()
	if err != nil {
		return 0, 0, err
	}
	return time.Duration(t.User * float64(time.Second)), time.Duration(t.System * float64(time.Second)), nil
}

func kernelString(ctx context.Context) (string, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", hi.OS, hi.KernelVersion, hi.KernelArch), nil
}
