package fdpstat

import (
	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// Device is an opened NVMe namespace
type Device = interfaces.Device

// Geometry describes an NVMe namespace
type Geometry = interfaces.Geometry

// Descriptor is one reclaim unit handle status descriptor
type Descriptor = nvme.RuhStatusDesc

// Logger receives human-readable progress lines
type Logger interface {
	Printf(format string, args ...interface{})
}
