package fdpstat

import "github.com/ehrlich-b/go-fdpstat/internal/device"

// EmuConfig describes an emulated FDP namespace and the faults it injects
type EmuConfig = device.EmuConfig

// EmulatedDevice is an in-process FDP namespace for tests and dry runs
type EmulatedDevice = device.Emulated

// DefaultEmuConfig returns an emulated namespace with default geometry
func DefaultEmuConfig() EmuConfig {
	return device.DefaultEmuConfig()
}

// NewEmulatedDevice creates an emulated namespace
func NewEmulatedDevice(cfg EmuConfig) *EmulatedDevice {
	return device.NewEmulated(cfg)
}

// OpenWith returns an Options.Open function that always yields dev.
// It lets tests inspect the device after Run returns.
func OpenWith(dev Device) func(path string) (Device, error) {
	return func(string) (Device, error) { return dev, nil }
}
