// Package buffer pairs payload buffer allocation with release and refuses
// to release a buffer while a command still references it.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
)

var (
	// ErrInFlight is returned when freeing a buffer an in-flight command references
	ErrInFlight = errors.New("buffer referenced by in-flight command")

	// ErrFreed is returned when a buffer is used after it was freed
	ErrFreed = errors.New("buffer already freed")

	// ErrForeign is returned when a buffer is freed through the wrong manager
	ErrForeign = errors.New("buffer not owned by this manager")
)

// Buffer is a device-allocated payload region
type Buffer struct {
	data  []byte
	owner *Manager
	pins  int
	freed bool
}

// Bytes returns the region. It must not be retained past Free.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the region length in bytes
func (b *Buffer) Len() int { return len(b.data) }

// Addr returns the address of the first byte, as carried in a command
func (b *Buffer) Addr() uint64 {
	return uint64(uintptr(unsafe.Pointer(&b.data[0])))
}

// Pin marks the buffer as referenced by an in-flight command
func (b *Buffer) Pin() error {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	if b.freed {
		return ErrFreed
	}
	b.pins++
	return nil
}

// Unpin drops one in-flight reference
func (b *Buffer) Unpin() {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	if b.pins > 0 {
		b.pins--
	}
}

// Pinned reports whether a command still references the buffer
func (b *Buffer) Pinned() bool {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	return b.pins > 0
}

// Manager allocates buffers from a device and tracks the live set
type Manager struct {
	dev      interfaces.Device
	observer interfaces.Observer

	mu   sync.Mutex
	live map[*Buffer]struct{}
}

// NewManager creates a manager backed by dev
func NewManager(dev interfaces.Device, observer interfaces.Observer) *Manager {
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	return &Manager{
		dev:      dev,
		observer: observer,
		live:     make(map[*Buffer]struct{}),
	}
}

// Allocate obtains a region of size bytes from the device
func (m *Manager) Allocate(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	data, err := m.dev.AllocBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, err)
	}

	b := &Buffer{data: data, owner: m}
	m.mu.Lock()
	m.live[b] = struct{}{}
	m.mu.Unlock()

	m.observer.ObserveBuffer(uint64(size), true)
	return b, nil
}

// Free returns b to the device. Free fails while b is pinned; the buffer
// stays live so the caller can retry after draining.
func (m *Manager) Free(b *Buffer) error {
	m.mu.Lock()
	if b.owner != m {
		m.mu.Unlock()
		return ErrForeign
	}
	if b.freed {
		m.mu.Unlock()
		return ErrFreed
	}
	if b.pins > 0 {
		m.mu.Unlock()
		return ErrInFlight
	}
	m.mu.Unlock()

	if err := m.dev.FreeBuffer(b.data); err != nil {
		return fmt.Errorf("free buffer: %w", err)
	}

	m.mu.Lock()
	b.freed = true
	delete(m.live, b)
	m.mu.Unlock()

	m.observer.ObserveBuffer(uint64(len(b.data)), false)
	return nil
}

// Live returns the number of allocated, unfreed buffers
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
