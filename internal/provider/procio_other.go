//go:build !linux && !darwin

package provider

// readProcIO is not supported on this platform.
func readProcIO(pid int32) (uint64, uint64, bool) {
	return 0, 0, false
}
