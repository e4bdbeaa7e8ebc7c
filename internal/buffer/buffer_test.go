package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-fdpstat/internal/device"
)

type countingObserver struct {
	allocs, frees int
	bytes         uint64
}

func (o *countingObserver) ObserveQueueInit(bool)           {}
func (o *countingObserver) ObserveQueueTerm(bool)           {}
func (o *countingObserver) ObserveSubmit(bool)              {}
func (o *countingObserver) ObserveCompletion(uint64, int32) {}
func (o *countingObserver) ObserveDrain(int, uint64, bool)  {}
func (o *countingObserver) ObserveBuffer(n uint64, alloc bool) {
	if alloc {
		o.allocs++
		o.bytes += n
	} else {
		o.frees++
	}
}

func TestAllocateFreePairing(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	obs := &countingObserver{}
	m := NewManager(dev, obs)

	b, err := m.Allocate(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, 1<<20, b.Len())
	assert.NotZero(t, b.Addr())
	assert.Equal(t, 1, m.Live())

	require.NoError(t, m.Free(b))
	assert.Equal(t, 0, m.Live())
	assert.ErrorIs(t, m.Free(b), ErrFreed)

	assert.Equal(t, 1, obs.allocs)
	assert.Equal(t, 1, obs.frees)
	assert.Equal(t, uint64(1<<20), obs.bytes)

	c := dev.Counters()
	assert.Equal(t, 1, c.BuffersAlloc)
	assert.Equal(t, 1, c.BuffersFreed)
}

func TestFreeWhilePinned(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	m := NewManager(dev, nil)

	b, err := m.Allocate(4096)
	require.NoError(t, err)
	require.NoError(t, b.Pin())
	assert.True(t, b.Pinned())

	assert.ErrorIs(t, m.Free(b), ErrInFlight)
	assert.Equal(t, 1, m.Live())

	b.Unpin()
	assert.False(t, b.Pinned())
	require.NoError(t, m.Free(b))
	assert.ErrorIs(t, b.Pin(), ErrFreed)
}

func TestForeignBuffer(t *testing.T) {
	dev := device.NewEmulated(device.DefaultEmuConfig())
	m1 := NewManager(dev, nil)
	m2 := NewManager(dev, nil)

	b, err := m1.Allocate(64)
	require.NoError(t, err)
	assert.ErrorIs(t, m2.Free(b), ErrForeign)
	require.NoError(t, m1.Free(b))
}

func TestAllocateErrors(t *testing.T) {
	m := NewManager(device.NewEmulated(device.DefaultEmuConfig()), nil)
	_, err := m.Allocate(0)
	assert.Error(t, err)

	oom := errors.New("out of memory")
	cfg := device.DefaultEmuConfig()
	cfg.FailAlloc = oom
	m = NewManager(device.NewEmulated(cfg), nil)
	_, err = m.Allocate(4096)
	assert.ErrorIs(t, err, oom)
	assert.Equal(t, 0, m.Live())
}
