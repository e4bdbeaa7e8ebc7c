package uring

import (
	"math/rand"
	"sync"
	"syscall"

	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// Order selects the order in which an emulated ring posts completions
type Order int

const (
	// OrderFIFO completes commands in submission order
	OrderFIFO Order = iota
	// OrderLIFO completes the most recent submission first
	OrderLIFO
	// OrderRandom shuffles completions with a seeded source
	OrderRandom
)

func (o Order) String() string {
	switch o {
	case OrderFIFO:
		return "fifo"
	case OrderLIFO:
		return "lifo"
	case OrderRandom:
		return "random"
	default:
		return "unknown"
	}
}

// ParseOrder maps a name to an Order; unknown names yield OrderFIFO and false
func ParseOrder(name string) (Order, bool) {
	switch name {
	case "", "fifo":
		return OrderFIFO, true
	case "lifo":
		return OrderLIFO, true
	case "random":
		return OrderRandom, true
	}
	return OrderFIFO, false
}

// Handler executes a command on the emulated device and returns its status
type Handler func(cmd *nvme.UringCmd) int32

// EmuConfig configures an emulated ring
type EmuConfig struct {
	Entries uint32
	Handler Handler
	Order   Order
	Seed    int64

	// Reject, when set, is consulted on every Submit; a non-nil error
	// rejects the command before it reaches the device.
	Reject func(cmd *nvme.UringCmd) error

	// Fault, when set, is returned by every WaitForCompletion
	Fault error
}

type emuEntry struct {
	cmd      nvme.UringCmd
	userData uint64
}

// emuRing is an in-process ring: commands are held until the consumer
// waits, then executed by the handler in the configured order.
type emuRing struct {
	mu      sync.Mutex
	cfg     EmuConfig
	rng     *rand.Rand
	pending []emuEntry
	closed  bool
}

// NewEmulatedRing creates a ring whose completions are produced in-process
func NewEmulatedRing(cfg EmuConfig) (Ring, error) {
	if cfg.Entries == 0 {
		return nil, syscall.EINVAL
	}
	if cfg.Handler == nil {
		cfg.Handler = func(*nvme.UringCmd) int32 { return nvme.StatusSuccess }
	}
	return &emuRing{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (r *emuRing) Entries() uint32 { return r.cfg.Entries }

func (r *emuRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRingClosed
	}
	r.closed = true
	r.pending = nil
	return nil
}

func (r *emuRing) Submit(cmd *nvme.UringCmd, userData uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRingClosed
	}
	if uint32(len(r.pending)) >= r.cfg.Entries {
		return ErrRingFull
	}
	if r.cfg.Reject != nil {
		if err := r.cfg.Reject(cmd); err != nil {
			return err
		}
	}
	r.pending = append(r.pending, emuEntry{cmd: *cmd, userData: userData})
	return nil
}

func (r *emuRing) WaitForCompletion(min int) ([]Result, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRingClosed
	}
	if r.cfg.Fault != nil {
		r.mu.Unlock()
		return nil, r.cfg.Fault
	}
	// A real ring would block forever here
	if len(r.pending) < min {
		r.mu.Unlock()
		return nil, ErrNoCompletions
	}

	batch := r.pending
	r.pending = nil
	switch r.cfg.Order {
	case OrderLIFO:
		for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
			batch[i], batch[j] = batch[j], batch[i]
		}
	case OrderRandom:
		r.rng.Shuffle(len(batch), func(i, j int) {
			batch[i], batch[j] = batch[j], batch[i]
		})
	}
	handler := r.cfg.Handler
	r.mu.Unlock()

	results := make([]Result, 0, len(batch))
	for i := range batch {
		status := handler(&batch[i].cmd)
		var err error
		if status < 0 {
			err = syscall.Errno(-status)
		}
		results = append(results, NewResult(batch[i].userData, status, err))
	}
	return results, nil
}
