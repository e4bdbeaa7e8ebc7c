// Package interfaces holds the contracts shared between the queue layer and
// the device backends.
package interfaces

import "github.com/ehrlich-b/go-fdpstat/internal/uring"

// Device defines what the queue layer needs from an opened NVMe namespace.
// A device must outlive every ring and buffer created from it.
type Device interface {
	// Path returns the path the device was opened with.
	Path() string

	// NamespaceID returns the namespace identifier of the opened node.
	NamespaceID() uint32

	// Geometry returns the namespace geometry. Fields the backend
	// could not determine are left zero.
	Geometry() Geometry

	// OpenRing creates a submission/completion ring with depth entries
	// bound to this device.
	OpenRing(depth int) (uring.Ring, error)

	// AllocBuffer returns a DMA-capable region of at least size bytes.
	AllocBuffer(size int) ([]byte, error)

	// FreeBuffer releases a region obtained from AllocBuffer.
	FreeBuffer(buf []byte) error

	// Close closes the device. It fails while rings or buffers are live.
	Close() error
}

// Geometry describes an NVMe namespace
type Geometry struct {
	NSID      uint32
	BlockSize uint32 // logical block size in bytes
	Blocks    uint64 // namespace capacity in logical blocks
	Model     string
}

// Bytes returns the namespace capacity in bytes
func (g Geometry) Bytes() uint64 {
	return g.Blocks * uint64(g.BlockSize)
}

// Observer receives queue and command lifecycle events.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveQueueInit(success bool)
	ObserveQueueTerm(success bool)
	ObserveSubmit(accepted bool)
	ObserveCompletion(latencyNs uint64, status int32)
	ObserveDrain(completed int, latencyNs uint64, success bool)
	ObserveBuffer(bytes uint64, alloc bool)
}

// NoOpObserver discards every event
type NoOpObserver struct{}

func (NoOpObserver) ObserveQueueInit(bool)           {}
func (NoOpObserver) ObserveQueueTerm(bool)           {}
func (NoOpObserver) ObserveSubmit(bool)              {}
func (NoOpObserver) ObserveCompletion(uint64, int32) {}
func (NoOpObserver) ObserveDrain(int, uint64, bool)  {}
func (NoOpObserver) ObserveBuffer(uint64, bool)      {}
