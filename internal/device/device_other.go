//go:build !linux

package device

import (
	"fmt"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

// NVMe is unavailable outside linux
type NVMe struct{}

// Open always fails outside linux
func Open(path string) (*NVMe, error) {
	return nil, fmt.Errorf("open %s: NVMe passthrough requires linux", path)
}

func (d *NVMe) Path() string                     { return "" }
func (d *NVMe) NamespaceID() uint32              { return 0 }
func (d *NVMe) Geometry() interfaces.Geometry    { return interfaces.Geometry{} }
func (d *NVMe) OpenRing(int) (uring.Ring, error) { return nil, ErrClosed }
func (d *NVMe) AllocBuffer(int) ([]byte, error)  { return nil, ErrClosed }
func (d *NVMe) FreeBuffer([]byte) error          { return ErrClosed }
func (d *NVMe) Close() error                     { return ErrClosed }
