//go:build linux

package device

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

// NVMe is an opened NVMe namespace driven through the generic char device
type NVMe struct {
	path     string
	charPath string
	fd       int
	nsid     uint32
	geo      interfaces.Geometry
	logger   *logging.Logger

	mu      sync.Mutex
	rings   int
	buffers map[uintptr][]byte
	closed  bool
}

// Open opens an NVMe namespace. Block nodes are redirected to their
// generic char node. Files that are not NVMe namespaces fail with ENOTTY.
func Open(path string) (*NVMe, error) {
	charPath := GenericPath(path)
	logger := logging.Default().WithDevice(charPath)

	fd, err := unix.Open(charPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", charPath, err)
	}

	nsid, err := unix.IoctlRetInt(fd, uint(nvme.IoctlID))
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("NVME_IOCTL_ID on %s: %w", charPath, err)
	}

	d := &NVMe{
		path:     path,
		charPath: charPath,
		fd:       fd,
		nsid:     uint32(nsid),
		logger:   logger,
		buffers:  make(map[uintptr][]byte),
	}
	d.geo = ReadGeometry(SysfsRoot, charPath, d.nsid)

	logger.Debug("opened namespace", "nsid", d.nsid, "block_size", d.geo.BlockSize)
	return d, nil
}

func (d *NVMe) Path() string                  { return d.path }
func (d *NVMe) NamespaceID() uint32           { return d.nsid }
func (d *NVMe) Geometry() interfaces.Geometry { return d.geo }

// CharPath returns the generic char node commands are issued through
func (d *NVMe) CharPath() string { return d.charPath }

func (d *NVMe) OpenRing(depth int) (uring.Ring, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	ring, err := uring.NewRing(uring.Config{Entries: uint32(depth), FD: int32(d.fd)})
	if err != nil {
		return nil, err
	}
	d.rings++
	return &trackedRing{Ring: ring, release: d.ringClosed}, nil
}

func (d *NVMe) ringClosed() {
	d.mu.Lock()
	d.rings--
	d.mu.Unlock()
}

// AllocBuffer maps page-aligned anonymous memory, suitable as a DMA target
func (d *NVMe) AllocBuffer(size int) ([]byte, error) {
	if size <= 0 {
		return nil, unix.EINVAL
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	mem, err := unix.Mmap(-1, 0, roundUp(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	d.buffers[uintptr(unsafe.Pointer(&mem[0]))] = mem
	return mem[:size], nil
}

func (d *NVMe) FreeBuffer(buf []byte) error {
	if len(buf) == 0 {
		return ErrUnknownBuffer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := uintptr(unsafe.Pointer(&buf[0]))
	mem, ok := d.buffers[key]
	if !ok {
		return ErrUnknownBuffer
	}
	delete(d.buffers, key)
	return unix.Munmap(mem)
}

func (d *NVMe) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.rings > 0 || len(d.buffers) > 0 {
		return ErrDeviceBusy
	}
	d.closed = true
	return unix.Close(d.fd)
}
