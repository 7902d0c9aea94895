//go:build unix

package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// processCPUTimes returns the user and system CPU time of this process plus
// every child it has waited for.
func processCPUTimes(_ int32) (user, system time.Duration, err error) {
	var self, children unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &self); err != nil {
		return 0, 0, fmt.Errorf("getrusage self: %w", err)
	}
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &children); err != nil {
		return 0, 0, fmt.Errorf("getrusage children: %w", err)
	}
	user = time.Duration(self.Utime.Nano() + children.Utime.Nano())
	system = time.Duration(self.Stime.Nano() + children.Stime.Nano())
	return user, system, nil
}

func kernelString(_ context.Context) (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return fmt.Sprintf("%s %s %s",
		unix.ByteSliceToString(uts.Sysname[:]),
		unix.ByteSliceToString(uts.Release[:]),
		unix.ByteSliceToString(uts.Machine[:])), nil
}
