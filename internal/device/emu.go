package device

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

// EmuConfig describes an emulated FDP namespace and the faults it injects
type EmuConfig struct {
	Path      string
	NSID      uint32
	BlockSize uint32
	Blocks    uint64

	// Handles is the number of reclaim unit handles the namespace tracks
	Handles int
	// RUSize is the reclaim unit size in bytes
	RUSize uint64

	Order uring.Order
	Seed  int64

	// FailRings maps a ring index (in OpenRing call order) to the error
	// that OpenRing returns for it.
	FailRings map[int]error
	// FailRingClose maps a ring index to the error its Close returns.
	// The ring stays live when its Close fails.
	FailRingClose map[int]error
	// FailAlloc is returned by AllocBuffer
	FailAlloc error
	// RejectSubmit is returned by every ring Submit
	RejectSubmit error
	// DrainFault is returned by every ring wait
	DrainFault error
	// CompletionStatus, if non-zero, replaces the status of every command
	CompletionStatus int32
	// ReportNRUHSD, if non-zero, is reported instead of Handles
	ReportNRUHSD uint16
}

// DefaultEmuConfig returns an FDP namespace with the default handle count
func DefaultEmuConfig() EmuConfig {
	return EmuConfig{
		Path:      "emu0",
		NSID:      constants.DefaultEmuNSID,
		BlockSize: constants.DefaultEmuBlockSize,
		Blocks:    1 << 20,
		Handles:   constants.DefaultEmuHandles,
		RUSize:    64 << 20,
	}
}

// ruh is the per-handle placement state
type ruh struct {
	hostWritten  uint64
	mediaWritten uint64
	ruWritten    uint64 // bytes written into the current reclaim unit
}

// EmuCounters is a snapshot of resource and command accounting
type EmuCounters struct {
	RingsOpened   int
	RingsClosed   int
	CloseAttempts int
	LiveRings     int
	BuffersAlloc  int
	BuffersFreed  int
	LiveBuffers   int
	Commands      int
	Resets        int
	StatsPrinted  int
	HostWritten   uint64
	MediaWritten  uint64
}

// Emulated is an in-process FDP namespace. IO Management Send with
// MO 0x02 prints placement statistics and resets them; MO 0x10 prints
// without resetting. Both fill a reclaim unit handle status response
// when the command carries a data region.
type Emulated struct {
	cfg    EmuConfig
	logger *logging.Logger

	mu        sync.Mutex
	handles   []ruh
	buffers   map[uintptr][]byte
	commands  []nvme.UringCmd
	counters  EmuCounters
	ringCalls int
	closed    bool
}

// NewEmulated creates an emulated namespace
func NewEmulated(cfg EmuConfig) *Emulated {
	if cfg.NSID == 0 {
		cfg.NSID = constants.DefaultEmuNSID
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = constants.DefaultEmuBlockSize
	}
	if cfg.Path == "" {
		cfg.Path = "emu0"
	}
	if cfg.Handles < 0 {
		cfg.Handles = 0
	}
	return &Emulated{
		cfg:     cfg,
		logger:  logging.Default().WithDevice(cfg.Path),
		handles: make([]ruh, cfg.Handles),
		buffers: make(map[uintptr][]byte),
	}
}

func (e *Emulated) Path() string        { return e.cfg.Path }
func (e *Emulated) NamespaceID() uint32 { return e.cfg.NSID }

func (e *Emulated) Geometry() interfaces.Geometry {
	return interfaces.Geometry{
		NSID:      e.cfg.NSID,
		BlockSize: e.cfg.BlockSize,
		Blocks:    e.cfg.Blocks,
		Model:     "FEMU FDP-enabled emulated SSD",
	}
}

func (e *Emulated) OpenRing(depth int) (uring.Ring, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	idx := e.ringCalls
	e.ringCalls++
	if err, ok := e.cfg.FailRings[idx]; ok {
		return nil, err
	}

	ring, err := uring.NewEmulatedRing(uring.EmuConfig{
		Entries: uint32(depth),
		Handler: e.handle,
		Order:   e.cfg.Order,
		Seed:    e.cfg.Seed + int64(idx),
		Reject:  e.reject,
		Fault:   e.cfg.DrainFault,
	})
	if err != nil {
		return nil, err
	}
	e.counters.RingsOpened++
	e.counters.LiveRings++
	return &emuQueueRing{Ring: ring, dev: e, idx: idx}, nil
}

func (e *Emulated) reject(*nvme.UringCmd) error {
	return e.cfg.RejectSubmit
}

func (e *Emulated) AllocBuffer(size int) ([]byte, error) {
	if size <= 0 {
		return nil, syscall.EINVAL
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.cfg.FailAlloc != nil {
		return nil, e.cfg.FailAlloc
	}

	mem := make([]byte, roundUp(size))
	e.buffers[uintptr(unsafe.Pointer(&mem[0]))] = mem
	e.counters.BuffersAlloc++
	e.counters.LiveBuffers++
	return mem[:size], nil
}

func (e *Emulated) FreeBuffer(buf []byte) error {
	if len(buf) == 0 {
		return ErrUnknownBuffer
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := uintptr(unsafe.Pointer(&buf[0]))
	if _, ok := e.buffers[key]; !ok {
		return ErrUnknownBuffer
	}
	delete(e.buffers, key)
	e.counters.BuffersFreed++
	e.counters.LiveBuffers--
	return nil
}

func (e *Emulated) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.counters.LiveRings > 0 || e.counters.LiveBuffers > 0 {
		return ErrDeviceBusy
	}
	e.closed = true
	return nil
}

// Counters returns a snapshot of the emulator's accounting
func (e *Emulated) Counters() EmuCounters {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.counters
	c.Commands = len(e.commands)
	for _, h := range e.handles {
		c.HostWritten += h.hostWritten
		c.MediaWritten += h.mediaWritten
	}
	return c
}

// Commands returns every command the namespace executed, in execution order
func (e *Emulated) Commands() []nvme.UringCmd {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]nvme.UringCmd(nil), e.commands...)
}

// Write accounts host and media bytes against a placement handle
func (e *Emulated) Write(pid int, host, media uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pid < 0 || pid >= len(e.handles) {
		return fmt.Errorf("placement handle %d out of range [0,%d)", pid, len(e.handles))
	}
	h := &e.handles[pid]
	h.hostWritten += host
	h.mediaWritten += media
	if e.cfg.RUSize > 0 {
		h.ruWritten = (h.ruWritten + media) % e.cfg.RUSize
	}
	return nil
}

// handle executes one command; called by the rings at completion time
func (e *Emulated) handle(cmd *nvme.UringCmd) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commands = append(e.commands, *cmd)
	status := e.execute(cmd)
	if e.cfg.CompletionStatus != 0 {
		return e.cfg.CompletionStatus
	}
	return status
}

func (e *Emulated) execute(cmd *nvme.UringCmd) int32 {
	if cmd.Opcode != nvme.OpcodeIOMgmtSend {
		return nvme.StatusInvalidOpcode | nvme.StatusDoNotRetryFlag
	}
	if cmd.Nsid != e.cfg.NSID {
		return nvme.StatusInvalidNS | nvme.StatusDoNotRetryFlag
	}

	switch cmd.MO() {
	case constants.MONop, constants.MORuhUpdate:
		return nvme.StatusSuccess
	case constants.MOStatsReset:
		e.printStats()
		status := e.fillStatus(cmd)
		for i := range e.handles {
			e.handles[i].hostWritten = 0
			e.handles[i].mediaWritten = 0
		}
		e.counters.Resets++
		return status
	case constants.MOStatsReadOnly:
		e.printStats()
		return e.fillStatus(cmd)
	default:
		return nvme.StatusInvalidField | nvme.StatusDoNotRetryFlag
	}
}

func (e *Emulated) printStats() {
	var host, media uint64
	for _, h := range e.handles {
		host += h.hostWritten
		media += h.mediaWritten
	}
	waf := 0.0
	if host > 0 {
		waf = float64(media) / float64(host)
	}
	e.counters.StatsPrinted++
	e.logger.Info("FDP placement statistics",
		"host_written", humanize.IBytes(host),
		"media_written", humanize.IBytes(media),
		"waf", fmt.Sprintf("%.3f", waf),
		"handles", len(e.handles))
}

func (e *Emulated) fillStatus(cmd *nvme.UringCmd) int32 {
	if cmd.Addr == 0 || cmd.DataLen == 0 {
		return nvme.StatusSuccess
	}
	region := e.resolve(cmd.Addr, cmd.DataLen)
	if region == nil {
		return nvme.StatusDataTransfer
	}

	var s nvme.RuhStatus
	s.NRUHSD = uint16(len(e.handles))
	if e.cfg.ReportNRUHSD != 0 {
		s.NRUHSD = e.cfg.ReportNRUHSD
	}
	for i := 0; i < len(e.handles) && i < nvme.MaxRuhDescriptors; i++ {
		h := e.handles[i]
		s.Descs[i] = nvme.RuhStatusDesc{
			PID:   uint16(i),
			RUHID: uint16(i),
			RUAMW: (e.cfg.RUSize - h.ruWritten) / uint64(e.cfg.BlockSize),
		}
	}

	if len(region) >= nvme.RuhStatusSize {
		nvme.MarshalRuhStatus(&s, region)
		return nvme.StatusSuccess
	}
	full := make([]byte, nvme.RuhStatusSize)
	nvme.MarshalRuhStatus(&s, full)
	copy(region, full)
	return nvme.StatusSuccess
}

// resolve maps a command data pointer onto a buffer this device allocated
func (e *Emulated) resolve(addr uint64, n uint32) []byte {
	for base, mem := range e.buffers {
		start := uint64(base)
		if addr >= start && addr+uint64(n) <= start+uint64(len(mem)) {
			off := addr - start
			return mem[off : off+uint64(n)]
		}
	}
	return nil
}

// emuQueueRing applies close faults and ring accounting
type emuQueueRing struct {
	uring.Ring
	dev    *Emulated
	idx    int
	closed bool
}

func (r *emuQueueRing) Close() error {
	e := r.dev
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counters.CloseAttempts++
	if err, ok := e.cfg.FailRingClose[r.idx]; ok {
		return err
	}
	if err := r.Ring.Close(); err != nil {
		return err
	}
	if !r.closed {
		r.closed = true
		e.counters.RingsClosed++
		e.counters.LiveRings--
	}
	return nil
}
