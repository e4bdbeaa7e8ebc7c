//go:build linux

package uring

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// passthruRing drives NVMe admin/IO passthrough through IORING_OP_URING_CMD
// on a generic char device (/dev/ngXnY).
type passthruRing struct {
	ring    *giouring.Ring
	fd      int32
	entries uint32
	closed  bool
	err     error // set when the ring is poisoned
}

func newPassthruRing(config Config) (Ring, error) {
	if config.Entries == 0 {
		return nil, fmt.Errorf("ring entries must be > 0")
	}

	ring := giouring.NewRing()
	flags := setupSQE128 | setupCQE32 | config.Flags
	if err := ring.QueueInit(config.Entries, flags); err != nil {
		return nil, fmt.Errorf("io_uring_setup: %w", err)
	}

	return &passthruRing{
		ring:    ring,
		fd:      config.FD,
		entries: config.Entries,
	}, nil
}

func (r *passthruRing) Entries() uint32 { return r.entries }

func (r *passthruRing) Close() error {
	if r.closed {
		return ErrRingClosed
	}
	r.closed = true
	r.ring.QueueExit()
	return nil
}

func (r *passthruRing) Submit(cmd *nvme.UringCmd, userData uint64) error {
	if r.closed {
		return ErrRingClosed
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrRingPoisoned, r.err)
	}

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}

	*sqe = giouring.SubmissionQueueEntry{}
	sqe.OpCode = opUringCmd
	sqe.Fd = r.fd
	// cmd_op shares the union with off
	sqe.Off = uint64(nvme.UringCmdIO)
	sqe.UserData = userData

	area := unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(sqe), sqeCmdOffset)), sqeCmdLen)
	clear(area)
	nvme.MarshalUringCmd(cmd, area)

	if _, err := r.ring.Submit(); err != nil {
		// The entry may already be visible to the kernel. Turn it into a
		// NOP nobody waits for and refuse further submissions, so a later
		// enter cannot issue a command its caller saw fail.
		neutralize(sqe)
		r.err = err
		logging.Default().Warn("io_uring_enter failed, ring poisoned", "error", err)
		return fmt.Errorf("io_uring_enter: %w", err)
	}
	return nil
}

func neutralize(sqe *giouring.SubmissionQueueEntry) {
	area := unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(sqe), sqeCmdOffset)), sqeCmdLen)
	clear(area)
	*sqe = giouring.SubmissionQueueEntry{OpCode: opNop, Fd: -1, UserData: poisonUserData}
}

func (r *passthruRing) WaitForCompletion(min int) ([]Result, error) {
	if r.closed {
		return nil, ErrRingClosed
	}

	var results []Result
	for {
		// Reap whatever is already posted
		for {
			cqe, err := r.ring.PeekCQE()
			if err != nil || cqe == nil {
				break
			}
			if cqe.UserData != poisonUserData {
				results = append(results, toResult(cqe))
			}
			r.ring.CQESeen(cqe)
		}
		if len(results) >= min {
			return results, nil
		}

		cqe, err := r.ring.WaitCQE()
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return results, fmt.Errorf("wait cqe: %w", err)
		}
		if cqe.UserData != poisonUserData {
			results = append(results, toResult(cqe))
		}
		r.ring.CQESeen(cqe)
	}
}

func toResult(cqe *giouring.CompletionQueueEvent) Result {
	var err error
	if cqe.Res < 0 {
		err = syscall.Errno(-cqe.Res)
	}
	return NewResult(cqe.UserData, cqe.Res, err)
}
