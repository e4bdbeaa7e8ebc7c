//go:build linux

package uring

import (
	"syscall"
	"testing"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

func TestNeutralizeClearsCommand(t *testing.T) {
	// a 128-byte SQE as laid out in the ring
	var words [16]uint64
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), 128)
	sqe := (*giouring.SubmissionQueueEntry)(unsafe.Pointer(&words[0]))
	sqe.OpCode = opUringCmd
	sqe.Fd = 3
	sqe.Off = uint64(nvme.UringCmdIO)
	sqe.UserData = 42
	cmd := nvme.MgmtSend(1, 0x02, 1, 0x1000, nvme.RuhStatusSize)
	nvme.MarshalUringCmd(&cmd, mem[sqeCmdOffset:])

	neutralize(sqe)

	assert.Equal(t, opNop, sqe.OpCode)
	assert.Equal(t, int32(-1), sqe.Fd)
	assert.Zero(t, sqe.Off)
	assert.Equal(t, poisonUserData, sqe.UserData)
	for i, b := range mem[sqeCmdOffset:] {
		require.Zero(t, b, "command byte %d", i)
	}
}

func TestPoisonedRingRefusesSubmit(t *testing.T) {
	r := &passthruRing{entries: 4, err: syscall.EBADF}
	cmd := nvme.MgmtSend(1, 0x02, 1, 0, 0)

	err := r.Submit(&cmd, 7)
	assert.ErrorIs(t, err, ErrRingPoisoned)
}
