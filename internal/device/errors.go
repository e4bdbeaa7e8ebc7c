// Package device opens NVMe namespaces for passthrough and provides an
// in-process FDP namespace for testing.
package device

import "errors"

var (
	// ErrDeviceBusy is returned by Close while rings or buffers are live
	ErrDeviceBusy = errors.New("device has live rings or buffers")

	// ErrClosed is returned by operations on a closed device
	ErrClosed = errors.New("device closed")

	// ErrUnknownBuffer is returned when freeing a region this device did not allocate
	ErrUnknownBuffer = errors.New("buffer not allocated by this device")
)

const pageSize = 4096

func roundUp(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
