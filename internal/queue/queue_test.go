package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/device"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
	"github.com/ehrlich-b/go-fdpstat/internal/uring"
)

type countingObserver struct {
	mu                   sync.Mutex
	inits, initFails     int
	terms, termFails     int
	submits, rejects     int
	completions, nonZero int
	drains, drainFails   int
	allocs, frees        int
}

func (o *countingObserver) ObserveQueueInit(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.inits++
	} else {
		o.initFails++
	}
}

func (o *countingObserver) ObserveQueueTerm(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.terms++
	} else {
		o.termFails++
	}
}

func (o *countingObserver) ObserveSubmit(accepted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if accepted {
		o.submits++
	} else {
		o.rejects++
	}
}

func (o *countingObserver) ObserveCompletion(_ uint64, status int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completions++
	if status != 0 {
		o.nonZero++
	}
}

func (o *countingObserver) ObserveDrain(_ int, _ uint64, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.drains++
	} else {
		o.drainFails++
	}
}

func (o *countingObserver) ObserveBuffer(_ uint64, alloc bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if alloc {
		o.allocs++
	} else {
		o.frees++
	}
}

func newTestQueue(t *testing.T, cfg device.EmuConfig, depth int) (*Queue, *device.Emulated, *countingObserver) {
	t.Helper()
	dev := device.NewEmulated(cfg)
	obs := &countingObserver{}
	q, err := New(Config{ID: 0, Depth: depth, Device: dev, Observer: obs, Logger: logging.Nop()})
	require.NoError(t, err)
	return q, dev, obs
}

func boundCtx(t *testing.T, q *Queue, cb Callback, arg any) *CmdCtx {
	t.Helper()
	c, err := q.GetCmdCtx()
	require.NoError(t, err)
	require.NoError(t, c.Bind(cb, arg, nil))
	return c
}

func TestQueueLifecycle(t *testing.T) {
	q, dev, obs := newTestQueue(t, device.DefaultEmuConfig(), 4)
	engine := NewEngine(nil, logging.Nop())

	var seen []uint16
	c := boundCtx(t, q, func(c *CmdCtx, arg any) {
		seen = append(seen, c.Index())
		assert.Equal(t, "marker", arg)
		assert.Equal(t, CtxCompleted, c.State())
	}, "marker")
	assert.Equal(t, CtxBound, c.State())

	p, err := engine.Submit(c, constants.MOStatsReadOnly, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, CtxInFlight, c.State())
	assert.Equal(t, 1, q.Outstanding())

	_, done := p.Status()
	assert.False(t, done)
	assert.ErrorIs(t, p.Err(), ErrNotCompleted)

	n, err := q.Drain()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint16{0}, seen)

	status, done := p.Status()
	assert.True(t, done)
	assert.Zero(t, status)
	assert.NoError(t, p.Err())

	// not released by the callback, so Drain handed it back
	assert.Equal(t, CtxFree, c.State())
	assert.Equal(t, 4, q.FreeContexts())

	require.NoError(t, q.Terminate())
	assert.ErrorIs(t, q.Terminate(), ErrTerminated)

	counters := dev.Counters()
	assert.Equal(t, 1, counters.RingsOpened)
	assert.Equal(t, 1, counters.RingsClosed)
	assert.Equal(t, 1, obs.inits)
	assert.Equal(t, 1, obs.terms)
	assert.Equal(t, 1, obs.submits)
	assert.Equal(t, 1, obs.completions)
}

func TestDrainIdleQueue(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)

	n, err := q.Drain()
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, q.Terminate())
}

func TestCallbackReleasesContext(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)
	engine := NewEngine(nil, logging.Nop())

	var releaseErr error
	c := boundCtx(t, q, func(c *CmdCtx, _ any) {
		releaseErr = c.Release()
	}, nil)

	_, err := engine.Submit(c, constants.MOStatsReset, 1, 1, nil)
	require.NoError(t, err)
	_, err = q.Drain()
	require.NoError(t, err)

	assert.NoError(t, releaseErr)
	assert.Equal(t, 2, q.FreeContexts())
	assert.ErrorIs(t, c.Release(), ErrDoubleRelease)
}

func TestDoubleRelease(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)

	c, err := q.GetCmdCtx()
	require.NoError(t, err)
	require.NoError(t, q.PutCmdCtx(c))
	assert.ErrorIs(t, q.PutCmdCtx(c), ErrDoubleRelease)
	assert.Equal(t, 2, q.FreeContexts())
}

func TestReleaseForeignContext(t *testing.T) {
	q1, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)
	q2, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)

	c, err := q1.GetCmdCtx()
	require.NoError(t, err)
	assert.ErrorIs(t, q2.PutCmdCtx(c), ErrForeignCtx)
	require.NoError(t, q1.PutCmdCtx(c))
}

func TestInFlightGuards(t *testing.T) {
	q, _, obs := newTestQueue(t, device.DefaultEmuConfig(), 2)
	engine := NewEngine(nil, logging.Nop())

	c := boundCtx(t, q, nil, nil)
	_, err := engine.Submit(c, constants.MOStatsReadOnly, 1, 1, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Release(), ErrNotCompleted)
	assert.ErrorIs(t, q.Terminate(), ErrOutstanding)
	assert.Equal(t, 1, obs.termFails)

	_, err = q.Drain()
	require.NoError(t, err)
	require.NoError(t, q.Terminate())
}

func TestCompletionOrderNotAssumed(t *testing.T) {
	for _, order := range []uring.Order{uring.OrderFIFO, uring.OrderLIFO, uring.OrderRandom} {
		t.Run(order.String(), func(t *testing.T) {
			cfg := device.DefaultEmuConfig()
			cfg.Order = order
			cfg.Seed = 7
			q, _, _ := newTestQueue(t, cfg, 8)
			engine := NewEngine(nil, logging.Nop())

			var completed []uint16
			cb := func(c *CmdCtx, _ any) {
				completed = append(completed, c.Index())
				assert.NoError(t, c.Release())
			}

			var pendings []*Pending
			for i := 0; i < 8; i++ {
				c := boundCtx(t, q, cb, nil)
				p, err := engine.Submit(c, constants.MOStatsReadOnly, 1, 1, nil)
				require.NoError(t, err)
				pendings = append(pendings, p)
			}

			n, err := q.Drain()
			require.NoError(t, err)
			assert.Equal(t, 8, n)
			assert.ElementsMatch(t, []uint16{0, 1, 2, 3, 4, 5, 6, 7}, completed)
			for _, p := range pendings {
				select {
				case <-p.Done():
				default:
					t.Fatal("pending not resolved after drain")
				}
			}
			assert.Equal(t, 8, q.FreeContexts())
		})
	}
}

func TestContextExhaustion(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)

	a, err := q.GetCmdCtx()
	require.NoError(t, err)
	b, err := q.GetCmdCtx()
	require.NoError(t, err)
	assert.NotEqual(t, a.Index(), b.Index())

	_, err = q.GetCmdCtx()
	assert.ErrorIs(t, err, ErrNoFreeCtx)

	require.NoError(t, a.Release())
	c, err := q.GetCmdCtx()
	require.NoError(t, err)
	assert.Equal(t, a.Index(), c.Index())
}

func TestBindRules(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)
	engine := NewEngine(nil, logging.Nop())

	c, err := q.GetCmdCtx()
	require.NoError(t, err)

	_, err = engine.Submit(c, constants.MOStatsReset, 1, 1, nil)
	assert.ErrorIs(t, err, ErrNotBound)

	other := device.NewEmulated(device.DefaultEmuConfig())
	assert.ErrorIs(t, c.Bind(nil, nil, other), ErrForeignDevice)

	require.NoError(t, c.Bind(nil, nil, nil))
	assert.Equal(t, q.dev, c.Device())
	assert.ErrorIs(t, c.Bind(nil, nil, nil), ErrAlreadyBound)

	require.NoError(t, c.Release())
	assert.ErrorIs(t, c.Bind(nil, nil, nil), ErrNotAcquired)
}

func TestSubmitRejected(t *testing.T) {
	rejected := errors.New("submission rejected")
	cfg := device.DefaultEmuConfig()
	cfg.RejectSubmit = rejected
	q, _, obs := newTestQueue(t, cfg, 2)
	engine := NewEngine(nil, logging.Nop())

	c := boundCtx(t, q, nil, nil)
	_, err := engine.Submit(c, constants.MOStatsReset, 1, 1, nil)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, CtxBound, c.State())
	assert.Zero(t, q.Outstanding())
	assert.Equal(t, 1, obs.rejects)

	require.NoError(t, c.Release())
	require.NoError(t, q.Terminate())
}

func TestDrainFault(t *testing.T) {
	fault := errors.New("completion wait failed")
	cfg := device.DefaultEmuConfig()
	cfg.DrainFault = fault
	q, _, obs := newTestQueue(t, cfg, 2)
	engine := NewEngine(nil, logging.Nop())

	c := boundCtx(t, q, nil, nil)
	_, err := engine.Submit(c, constants.MOStatsReset, 1, 1, nil)
	require.NoError(t, err)

	_, err = q.Drain()
	assert.ErrorIs(t, err, fault)
	assert.Equal(t, 1, q.Outstanding())
	assert.Equal(t, 1, obs.drainFails)
	assert.ErrorIs(t, q.Terminate(), ErrOutstanding)
}

func TestNonZeroCompletionStatus(t *testing.T) {
	cfg := device.DefaultEmuConfig()
	cfg.CompletionStatus = nvme.StatusInvalidField
	q, _, obs := newTestQueue(t, cfg, 2)
	engine := NewEngine(nil, logging.Nop())

	var cbStatus int32
	c := boundCtx(t, q, func(c *CmdCtx, _ any) { cbStatus = c.Status() }, nil)
	p, err := engine.Submit(c, constants.MOStatsReset, 1, 1, nil)
	require.NoError(t, err)
	_, err = q.Drain()
	require.NoError(t, err)

	assert.Equal(t, int32(nvme.StatusInvalidField), cbStatus)
	var serr *StatusError
	require.ErrorAs(t, p.Err(), &serr)
	assert.Equal(t, int32(nvme.StatusInvalidField), serr.Status)
	assert.Contains(t, serr.Error(), "INVALID_FIELD")
	assert.Equal(t, 1, obs.nonZero)
}

func TestTerminatedQueueRefusesWork(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), 2)
	require.NoError(t, q.Terminate())

	_, err := q.GetCmdCtx()
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = q.Drain()
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestTerminateReleasesContexts(t *testing.T) {
	q, _, _ := newTestQueue(t, device.DefaultEmuConfig(), constants.DefaultQueueDepth)
	c, err := q.GetCmdCtx()
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultQueueDepth-1, q.FreeContexts())
	require.NoError(t, c.Release())

	require.NoError(t, q.Terminate())
	assert.Nil(t, q.arena)
	assert.Zero(t, q.FreeContexts())

	// a context handed out before termination cannot be returned to it
	assert.ErrorIs(t, c.Release(), ErrTerminated)
}

func TestFailedTerminateKeepsContexts(t *testing.T) {
	cfg := device.DefaultEmuConfig()
	cfg.FailRingClose = map[int]error{0: errors.New("close failed")}
	q, _, _ := newTestQueue(t, cfg, 4)

	require.Error(t, q.Terminate())
	assert.False(t, q.Terminated())
	assert.Equal(t, 4, q.FreeContexts())
}

func TestNewQueueValidation(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	_, err := New(Config{Depth: 0, Device: dev})
	assert.Error(t, err)
	_, err = New(Config{Depth: constants.MaxQueueDepth + 1, Device: dev})
	assert.Error(t, err)
	_, err = New(Config{Depth: 4})
	assert.Error(t, err)
	assert.Zero(t, dev.Counters().RingsOpened)
}

func TestUserDataEncoding(t *testing.T) {
	ud := encodeUserData(127, 4095)
	qid, cid := decodeUserData(ud)
	assert.Equal(t, 127, qid)
	assert.Equal(t, uint16(4095), cid)
}
