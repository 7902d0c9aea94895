//go:build !linux

package provider

import "errors"

// openNVML is only wired on Linux; elsewhere the nvidia-smi backend is used.
func openNVML() (gpuBackend, error) {
	return nil, errors.New("NVML is not supported on this platform")
}
