// Package uring provides the submission/completion ring used by each queue
package uring

import (
	"errors"

	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

var (
	// ErrRingClosed is returned by operations on a closed ring
	ErrRingClosed = errors.New("ring closed")

	// ErrRingFull is returned when the submission queue has no free entry
	ErrRingFull = errors.New("submission queue full")

	// ErrNoCompletions is returned when a wait could never be satisfied
	ErrNoCompletions = errors.New("no completions pending")

	// ErrRingPoisoned is returned once io_uring_enter has failed with a
	// claimed entry on the submission queue
	ErrRingPoisoned = errors.New("ring poisoned by failed submission")
)

// Ring provides the operations a queue needs from its io_uring
type Ring interface {
	// Close closes the ring and releases resources
	Close() error

	// Submit queues a passthrough command and returns without waiting for
	// its completion. An error means the command was rejected outright.
	Submit(cmd *nvme.UringCmd, userData uint64) error

	// WaitForCompletion blocks until at least min completions are
	// available and returns every completion reaped.
	WaitForCompletion(min int) ([]Result, error)

	// Entries returns the submission queue size
	Entries() uint32
}

// Result represents one completion
type Result interface {
	// UserData returns the user data associated with this result
	UserData() uint64

	// Value returns the completion status: 0 for success, a positive
	// NVMe status, or a negative errno
	Value() int32

	// Error returns an error if the submission itself failed (negative errno)
	Error() error
}

// Config contains configuration for creating a ring
type Config struct {
	Entries uint32 // Number of entries in the ring
	FD      int32  // File descriptor of the NVMe generic char device
	Flags   uint32 // Additional setup flags
}

// NewRing creates a passthrough ring bound to config.FD
func NewRing(config Config) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating io_uring", "entries", config.Entries, "fd", config.FD)

	ring, err := newPassthruRing(config)
	if err != nil {
		logger.Error("failed to create io_uring", "error", err)
		return nil, err
	}

	logger.Debug("created io_uring", "entries", config.Entries)
	return ring, nil
}

// completion implements Result
type completion struct {
	userData uint64
	value    int32
	err      error
}

func (r *completion) UserData() uint64 { return r.userData }
func (r *completion) Value() int32     { return r.value }
func (r *completion) Error() error     { return r.err }

// NewResult builds a Result; used by rings and tests
func NewResult(userData uint64, value int32, err error) Result {
	return &completion{userData: userData, value: value, err: err}
}
