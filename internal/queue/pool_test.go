package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/device"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
)

func newTestPool(t *testing.T, dev *device.Emulated, count int) (*Pool, error) {
	t.Helper()
	return NewPool(PoolConfig{
		Device: dev,
		Count:  count,
		Depth:  constants.DefaultQueueDepth,
		Logger: logging.Nop(),
	})
}

func TestPoolCreatesAndTerminatesAll(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	obs := &countingObserver{}
	p, err := NewPool(PoolConfig{
		Device:   dev,
		Count:    constants.MaxQueues,
		Depth:    constants.DefaultQueueDepth,
		Observer: obs,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, constants.MaxQueues, p.Len())
	assert.Equal(t, constants.MaxQueues, p.Idle())
	assert.Equal(t, constants.MaxQueues, dev.Counters().RingsOpened)

	assert.Empty(t, p.TerminateAll())

	c := dev.Counters()
	assert.Equal(t, constants.MaxQueues, c.RingsClosed)
	assert.Zero(t, c.LiveRings)
	assert.Equal(t, constants.MaxQueues, obs.inits)
	assert.Equal(t, constants.MaxQueues, obs.terms)
	require.NoError(t, dev.Close())
}

func TestPoolRollback(t *testing.T) {
	for _, k := range []int{0, 1, 5, constants.MaxQueues - 1} {
		injected := errors.New("ring setup failed")
		cfg := device.DefaultEmuConfig()
		cfg.FailRings = map[int]error{k: injected}
		dev := device.NewEmulated(cfg)

		p, err := newTestPool(t, dev, constants.MaxQueues)
		assert.Nil(t, p)
		assert.ErrorIs(t, err, injected)

		c := dev.Counters()
		assert.Equal(t, k, c.RingsOpened, "k=%d", k)
		assert.Equal(t, k, c.RingsClosed, "k=%d", k)
		assert.Zero(t, c.LiveRings, "k=%d", k)
		require.NoError(t, dev.Close())
	}
}

func TestPoolRollbackReportsTeardownFailure(t *testing.T) {
	openErr := errors.New("ring setup failed")
	closeErr := errors.New("ring teardown failed")
	cfg := device.DefaultEmuConfig()
	cfg.FailRings = map[int]error{3: openErr}
	cfg.FailRingClose = map[int]error{1: closeErr}
	dev := device.NewEmulated(cfg)

	_, err := newTestPool(t, dev, 4)
	assert.ErrorIs(t, err, openErr)
	assert.ErrorIs(t, err, closeErr)

	c := dev.Counters()
	assert.Equal(t, 3, c.CloseAttempts)
	assert.Equal(t, 2, c.RingsClosed)
}

func TestPoolAcquireFIFO(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	p, err := newTestPool(t, dev, 3)
	require.NoError(t, err)

	q0, err := p.Acquire()
	require.NoError(t, err)
	q1, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, q0.ID())
	assert.Equal(t, 1, q1.ID())

	require.NoError(t, p.Release(q0))
	assert.ErrorIs(t, p.Release(q0), ErrQueueNotAcquired)

	q2, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 2, q2.ID())

	again, err := p.Acquire()
	require.NoError(t, err)
	assert.Same(t, q0, again)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrPoolEmpty)

	other, err := newTestPool(t, device.NewEmulated(device.DefaultEmuConfig()), 1)
	require.NoError(t, err)
	foreign, err := other.Acquire()
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(foreign), ErrQueueNotAcquired)
}

func TestPoolReleaseAndIndexGuards(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	p, err := newTestPool(t, dev, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Release(nil), ErrQueueNotAcquired)
	assert.Nil(t, p.Queue(-1))
	assert.Nil(t, p.Queue(2))
	assert.Equal(t, 1, p.Queue(1).ID())
	assert.Empty(t, p.TerminateAll())
}

func TestTerminateAllContinuesPastFailures(t *testing.T) {
	closeErr := errors.New("ring teardown failed")
	cfg := device.DefaultEmuConfig()
	cfg.FailRingClose = map[int]error{1: closeErr, 3: closeErr}
	dev := device.NewEmulated(cfg)

	p, err := newTestPool(t, dev, 5)
	require.NoError(t, err)

	errs := p.TerminateAll()
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.ErrorIs(t, err, closeErr)
	}

	c := dev.Counters()
	assert.Equal(t, 5, c.CloseAttempts)
	assert.Equal(t, 3, c.RingsClosed)
	assert.Equal(t, 2, c.LiveRings)
	assert.Zero(t, p.Idle())
}

func TestTerminateAllWithOutstanding(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	p, err := newTestPool(t, dev, 2)
	require.NoError(t, err)

	q, err := p.Acquire()
	require.NoError(t, err)
	c, err := q.GetCmdCtx()
	require.NoError(t, err)
	require.NoError(t, c.Bind(nil, nil, dev))
	_, err = NewEngine(nil, logging.Nop()).Submit(c, constants.MOStatsReadOnly, 1, 1, nil)
	require.NoError(t, err)

	errs := p.TerminateAll()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrOutstanding)
	assert.Equal(t, 1, dev.Counters().LiveRings)
}

func TestPoolCountBounds(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	_, err := newTestPool(t, dev, 0)
	assert.Error(t, err)
	_, err = newTestPool(t, dev, constants.MaxQueues+1)
	assert.Error(t, err)
	assert.Zero(t, dev.Counters().RingsOpened)
}
