package fdpstat

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

func TestStructuredError(t *testing.T) {
	err := NewError("QUEUE_INIT", ErrCodeInvalidParameters, "invalid queue depth")

	assert.Equal(t, "QUEUE_INIT", err.Op)
	assert.Equal(t, ErrCodeInvalidParameters, err.Code)
	assert.Equal(t, "fdpstat: invalid queue depth (op=QUEUE_INIT)", err.Error())

	qerr := NewQueueError("TERMINATE", 3, ErrCodeDeviceBusy, "")
	assert.Equal(t, "fdpstat: device busy (op=TERMINATE, queue=3)", qerr.Error())
}

func TestWrapError(t *testing.T) {
	inner := fmt.Errorf("open /dev/ng9n1: %w", syscall.ENOENT)
	err := WrapError("OPEN_DEVICE", inner)

	assert.Equal(t, ErrCodeDeviceNotFound, err.Code)
	assert.Equal(t, syscall.ENOENT, err.Errno)
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.True(t, IsErrno(err, syscall.ENOENT))
	assert.True(t, IsCode(err, ErrCodeDeviceNotFound))

	assert.Nil(t, WrapError("OPEN_DEVICE", nil))
}

func TestWrapErrorRetagsStructured(t *testing.T) {
	orig := NewQueueError("QUEUE_INIT", 2, ErrCodeInsufficientMemory, "ring setup")
	err := WrapError("RUN", fmt.Errorf("setup: %w", orig))

	assert.Equal(t, "RUN", err.Op)
	assert.Equal(t, 2, err.Queue)
	assert.Equal(t, ErrCodeInsufficientMemory, err.Code)
	assert.Equal(t, "QUEUE_INIT", orig.Op)
}

func TestErrnoMapping(t *testing.T) {
	tests := []struct {
		errno syscall.Errno
		code  ErrorCode
	}{
		{syscall.ENOENT, ErrCodeDeviceNotFound},
		{syscall.ENOTTY, ErrCodeNotNVMe},
		{syscall.ENODEV, ErrCodeNotNVMe},
		{syscall.EBUSY, ErrCodeDeviceBusy},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.EACCES, ErrCodePermissionDenied},
		{syscall.EPERM, ErrCodePermissionDenied},
		{syscall.ENOMEM, ErrCodeInsufficientMemory},
		{syscall.EAGAIN, ErrCodeQueueFull},
		{syscall.EOPNOTSUPP, ErrCodeNotSupported},
		{syscall.EIO, ErrCodeIOError},
	}
	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, WrapError("OP", tt.errno).Code)
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	structured := &Error{Code: ErrCodeNotNVMe, Queue: -1}
	assert.ErrorIs(t, structured, ErrNotNVMe)
	assert.NotErrorIs(t, structured, ErrDeviceNotFound)
	assert.Equal(t, "fdpstat: not an NVMe namespace", ErrNotNVMe.Error())

	wrapped := fmt.Errorf("context: %w", structured)
	assert.ErrorIs(t, wrapped, ErrNotNVMe)
	assert.True(t, errors.Is(structured, &Error{Code: ErrCodeNotNVMe}))
}

func TestStatusError(t *testing.T) {
	err := NewStatusError("IO_MGMT_SEND", 0, nvme.StatusInvalidField)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, int32(nvme.StatusInvalidField), err.Status)
	assert.Contains(t, err.Error(), "INVALID_FIELD")
	assert.Contains(t, err.Error(), "status=0x2")

	errnoErr := NewStatusError("IO_MGMT_SEND", 1, -int32(syscall.EIO))
	require.Equal(t, syscall.EIO, errnoErr.Errno)
	assert.Zero(t, errnoErr.Status)
}
