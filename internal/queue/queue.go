// Package queue implements submission queues, their command contexts, and
// the pool that owns them.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

var (
	ErrNoFreeCtx     = errors.New("no free command context")
	ErrDoubleRelease = errors.New("command context already released")
	ErrNotCompleted  = errors.New("command not completed")
	ErrNotAcquired   = errors.New("command context not acquired")
	ErrNotBound      = errors.New("command context not bound")
	ErrAlreadyBound  = errors.New("command context already bound")
	ErrForeignCtx    = errors.New("command context belongs to another queue")
	ErrForeignDevice = errors.New("device does not own this queue")
	ErrOutstanding   = errors.New("queue has outstanding commands")
	ErrTerminated    = errors.New("queue terminated")
	ErrBadCompletion = errors.New("completion does not match an in-flight command")
)

// User data layout: queue id in bits 16..31, command id in bits 0..15
const (
	udCIDMask    = 0xffff
	udQueueShift = 16
)

func encodeUserData(queueID int, cid uint16) uint64 {
	return uint64(queueID)<<udQueueShift | uint64(cid)
}

func decodeUserData(ud uint64) (int, uint16) {
	return int(ud >> udQueueShift), uint16(ud & udCIDMask)
}

// Config configures a single queue
type Config struct {
	ID       int
	Depth    int
	Device   interfaces.Device
	Observer interfaces.Observer
	Logger   *logging.Logger
}

// Queue is one submission/completion ring plus its context arena.
// Completions are only delivered by Drain.
type Queue struct {
	id       int
	depth    int
	dev      interfaces.Device
	ring     uring.Ring
	observer interfaces.Observer
	logger   *logging.Logger

	mu          sync.Mutex
	arena       *ctxArena
	outstanding int
	terminated  bool
}

// New creates a queue with a ring of config.Depth entries on config.Device
func New(config Config) (*Queue, error) {
	if config.Depth <= 0 || config.Depth > constants.MaxQueueDepth {
		return nil, fmt.Errorf("queue %d: depth %d out of range [1,%d]", config.ID, config.Depth, constants.MaxQueueDepth)
	}
	if config.Device == nil {
		return nil, fmt.Errorf("queue %d: nil device", config.ID)
	}
	observer := config.Observer
	if observer == nil {
		observer = interfaces.NoOpObserver{}
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithQueue(config.ID)

	ring, err := config.Device.OpenRing(config.Depth)
	if err != nil {
		observer.ObserveQueueInit(false)
		return nil, fmt.Errorf("queue %d: open ring: %w", config.ID, err)
	}

	q := &Queue{
		id:       config.ID,
		depth:    config.Depth,
		dev:      config.Device,
		ring:     ring,
		observer: observer,
		logger:   logger,
	}
	q.arena = newCtxArena(q, config.Depth)

	observer.ObserveQueueInit(true)
	logger.Debug("queue initialized", "depth", config.Depth)
	return q, nil
}

func (q *Queue) ID() int    { return q.id }
func (q *Queue) Depth() int { return q.depth }

// Outstanding returns the number of submitted, undrained commands
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// FreeContexts returns the number of contexts in the free list. A
// terminated queue has none.
func (q *Queue) FreeContexts() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.arena == nil {
		return 0
	}
	return len(q.arena.free)
}

func (q *Queue) Terminated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.terminated
}

// GetCmdCtx takes a context from the free list
func (q *Queue) GetCmdCtx() (*CmdCtx, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.terminated {
		return nil, ErrTerminated
	}
	c, ok := q.arena.get()
	if !ok {
		return nil, ErrNoFreeCtx
	}
	c.state = CtxAcquired
	return c, nil
}

// PutCmdCtx returns a context to the free list
func (q *Queue) PutCmdCtx(c *CmdCtx) error {
	return q.release(c)
}

func (q *Queue) release(c *CmdCtx) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if c.q != q {
		return ErrForeignCtx
	}
	if q.arena == nil {
		return ErrTerminated
	}
	switch c.state {
	case CtxFree:
		return ErrDoubleRelease
	case CtxInFlight:
		return ErrNotCompleted
	}
	return q.arena.put(c)
}

// submit places cmd on the ring. onComplete, if set, runs when the
// completion is drained, before the context's callback.
func (q *Queue) submit(c *CmdCtx, cmd nvme.UringCmd, data []byte, onComplete func()) (*Pending, error) {
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return nil, ErrTerminated
	}
	if c.q != q {
		q.mu.Unlock()
		return nil, ErrForeignCtx
	}
	if c.state != CtxBound {
		q.mu.Unlock()
		return nil, ErrNotBound
	}

	c.cmd = cmd
	c.data = data
	c.pending = newPending(q.id, c.index)
	c.onComplete = onComplete
	c.submitted = time.Now()
	c.state = CtxInFlight
	q.outstanding++
	pending := c.pending
	q.mu.Unlock()

	if err := q.ring.Submit(&c.cmd, encodeUserData(q.id, c.index)); err != nil {
		q.mu.Lock()
		c.state = CtxBound
		c.data = nil
		c.pending = nil
		c.onComplete = nil
		q.outstanding--
		q.mu.Unlock()

		q.observer.ObserveSubmit(false)
		return nil, fmt.Errorf("queue %d: submit: %w", q.id, err)
	}

	q.observer.ObserveSubmit(true)
	return pending, nil
}

// Drain reaps completions until no command is outstanding, running each
// context's callback as its completion arrives. Completion order is
// whatever the device produces. Drain on an idle queue returns 0.
// There is no timeout: a device that never completes blocks Drain.
func (q *Queue) Drain() (int, error) {
	if q.Terminated() {
		return 0, ErrTerminated
	}

	start := time.Now()
	completed := 0
	for q.Outstanding() > 0 {
		results, err := q.ring.WaitForCompletion(1)
		if err != nil {
			q.observer.ObserveDrain(completed, uint64(time.Since(start).Nanoseconds()), false)
			return completed, fmt.Errorf("queue %d: drain: %w", q.id, err)
		}
		for _, res := range results {
			if err := q.complete(res); err != nil {
				q.logger.Warn("dropping completion", "user_data", res.UserData(), "error", err)
				continue
			}
			completed++
		}
	}

	q.observer.ObserveDrain(completed, uint64(time.Since(start).Nanoseconds()), true)
	return completed, nil
}

func (q *Queue) complete(res uring.Result) error {
	qid, cid := decodeUserData(res.UserData())

	q.mu.Lock()
	if q.arena == nil {
		q.mu.Unlock()
		return ErrBadCompletion
	}
	c, ok := q.arena.lookup(cid)
	if qid != q.id || !ok || c.state != CtxInFlight {
		q.mu.Unlock()
		return ErrBadCompletion
	}
	c.status = res.Value()
	c.state = CtxCompleted
	q.outstanding--
	pending, onComplete := c.pending, c.onComplete
	cb, arg := c.cb, c.arg
	c.onComplete = nil
	c.data = nil
	latency := time.Since(c.submitted)
	status := c.status
	q.mu.Unlock()

	if onComplete != nil {
		onComplete()
	}
	q.observer.ObserveCompletion(uint64(latency.Nanoseconds()), status)
	if status != 0 {
		q.logger.CommandFailed("IO_MGMT_SEND", cid, status)
	} else {
		q.logger.CommandCompleted("IO_MGMT_SEND", cid, latency.Microseconds())
	}

	pending.resolve(status)
	if cb != nil {
		cb(c, arg)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if c.state == CtxCompleted && q.arena != nil {
		return q.arena.put(c)
	}
	return nil
}

// Terminate closes the queue's ring and drops its context arena. A queue
// with outstanding commands is not torn down; drain it first.
func (q *Queue) Terminate() error {
	q.mu.Lock()
	if q.terminated {
		q.mu.Unlock()
		return ErrTerminated
	}
	if q.outstanding > 0 {
		n := q.outstanding
		q.mu.Unlock()
		q.observer.ObserveQueueTerm(false)
		return fmt.Errorf("queue %d: %w (%d)", q.id, ErrOutstanding, n)
	}
	q.mu.Unlock()

	if err := q.ring.Close(); err != nil {
		q.observer.ObserveQueueTerm(false)
		return fmt.Errorf("queue %d: close ring: %w", q.id, err)
	}

	q.mu.Lock()
	q.terminated = true
	q.arena = nil
	q.mu.Unlock()

	q.observer.ObserveQueueTerm(true)
	q.logger.Debug("queue terminated")
	return nil
}
