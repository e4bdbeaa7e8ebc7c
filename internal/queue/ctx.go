package queue

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// CtxState is the lifecycle state of a command context
type CtxState int

const (
	CtxFree      CtxState = iota // in the queue's free list
	CtxAcquired                  // handed out, no callback bound yet
	CtxBound                     // callback bound, ready to submit
	CtxInFlight                  // submitted, completion not yet drained
	CtxCompleted                 // completion delivered, not yet released
)

func (s CtxState) String() string {
	switch s {
	case CtxFree:
		return "free"
	case CtxAcquired:
		return "acquired"
	case CtxBound:
		return "bound"
	case CtxInFlight:
		return "in-flight"
	case CtxCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callback runs during Drain when the bound command completes. It may
// inspect the context and release it; a context the callback leaves
// completed is released by Drain.
type Callback func(c *CmdCtx, arg any)

// CmdCtx is a per-command slot owned by its queue's arena
type CmdCtx struct {
	q     *Queue
	index uint16
	state CtxState

	cb  Callback
	arg any
	dev interfaces.Device

	cmd        nvme.UringCmd
	data       []byte // keeps the response region reachable while in flight
	status     int32
	pending    *Pending
	onComplete func()
	submitted  time.Time
}

// Index returns the command identifier, unique within the queue
func (c *CmdCtx) Index() uint16 { return c.index }

// Queue returns the owning queue
func (c *CmdCtx) Queue() *Queue { return c.q }

// Device returns the device bound to the context
func (c *CmdCtx) Device() interfaces.Device { return c.dev }

func (c *CmdCtx) State() CtxState {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.state
}

// Status returns the completion status: 0 on success, a positive NVMe
// status, or a negative errno. It is only meaningful once completed.
func (c *CmdCtx) Status() int32 {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.status
}

// Command returns the last command submitted through the context
func (c *CmdCtx) Command() nvme.UringCmd {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	return c.cmd
}

// Bind attaches the completion callback, its argument, and the target
// device. It may be called once per acquisition. A nil dev binds the
// queue's device.
func (c *CmdCtx) Bind(cb Callback, arg any, dev interfaces.Device) error {
	q := c.q
	q.mu.Lock()
	defer q.mu.Unlock()

	switch c.state {
	case CtxAcquired:
	case CtxFree:
		return ErrNotAcquired
	default:
		return ErrAlreadyBound
	}
	if dev == nil {
		dev = q.dev
	}
	if dev != q.dev {
		return ErrForeignDevice
	}

	c.cb = cb
	c.arg = arg
	c.dev = dev
	c.state = CtxBound
	return nil
}

// Release returns the context to its queue
func (c *CmdCtx) Release() error {
	return c.q.release(c)
}

func (c *CmdCtx) reset() {
	c.state = CtxFree
	c.cb = nil
	c.arg = nil
	c.dev = nil
	c.data = nil
	c.status = 0
	c.pending = nil
	c.onComplete = nil
}

// ctxArena holds a queue's contexts in one allocation plus a free index list
type ctxArena struct {
	ctxs []CmdCtx
	free []uint16
}

func newCtxArena(q *Queue, depth int) *ctxArena {
	a := &ctxArena{
		ctxs: make([]CmdCtx, depth),
		free: make([]uint16, 0, depth),
	}
	// lowest index is handed out first
	for i := depth - 1; i >= 0; i-- {
		a.ctxs[i] = CmdCtx{q: q, index: uint16(i)}
		a.free = append(a.free, uint16(i))
	}
	return a
}

func (a *ctxArena) get() (*CmdCtx, bool) {
	n := len(a.free)
	if n == 0 {
		return nil, false
	}
	idx := a.free[n-1]
	a.free = a.free[:n-1]
	return &a.ctxs[idx], true
}

func (a *ctxArena) put(c *CmdCtx) error {
	if int(c.index) >= len(a.ctxs) || &a.ctxs[c.index] != c {
		return ErrForeignCtx
	}
	if len(a.free) >= len(a.ctxs) {
		return ErrDoubleRelease
	}
	c.reset()
	a.free = append(a.free, c.index)
	return nil
}

// lookup returns the context for a command identifier
func (a *ctxArena) lookup(cid uint16) (*CmdCtx, bool) {
	if int(cid) >= len(a.ctxs) {
		return nil, false
	}
	return &a.ctxs[cid], true
}

// Pending resolves when Drain delivers the command's completion
type Pending struct {
	done   chan struct{}
	queue  int
	cid    uint16
	status int32
}

func newPending(queue int, cid uint16) *Pending {
	return &Pending{done: make(chan struct{}), queue: queue, cid: cid}
}

func (p *Pending) resolve(status int32) {
	p.status = status
	close(p.done)
}

// Done is closed once the completion has been drained
func (p *Pending) Done() <-chan struct{} { return p.done }

// Status returns the completion status and whether the command has completed
func (p *Pending) Status() (int32, bool) {
	select {
	case <-p.done:
		return p.status, true
	default:
		return 0, false
	}
}

// Err returns ErrNotCompleted before completion, a *StatusError for a
// non-zero status, and nil on success.
func (p *Pending) Err() error {
	status, ok := p.Status()
	if !ok {
		return ErrNotCompleted
	}
	if status != 0 {
		return &StatusError{Queue: p.queue, CID: p.cid, Status: status}
	}
	return nil
}

// StatusError reports a command that completed with a non-zero status
type StatusError struct {
	Queue  int
	CID    uint16
	Status int32
}

func (e *StatusError) Error() string {
	if e.Status < 0 {
		return fmt.Sprintf("queue %d cid %d: completed with errno %d", e.Queue, e.CID, -e.Status)
	}
	return fmt.Sprintf("queue %d cid %d: completed with status 0x%x (%s)",
		e.Queue, e.CID, e.Status, nvme.StatusString(e.Status))
}
