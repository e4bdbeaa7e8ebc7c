package fdpstat

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

// Error represents a structured error with run context and errno mapping
type Error struct {
	Op     string        // Stage that failed (e.g., "OPEN_DEVICE", "QUEUE_INIT")
	Device string        // Device path ("" if not applicable)
	Queue  int           // Queue index (-1 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Kernel errno (0 if not applicable)
	Status int32         // NVMe completion status (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Device != "" {
		parts = append(parts, "dev="+e.Device)
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=0x%x", e.Status))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("fdpstat: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return "fdpstat: " + msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinels and other structured errors by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(sentinel); ok {
		return e.Code == ErrorCode(se)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeDeviceNotFound     ErrorCode = "device not found"
	ErrCodeNotNVMe            ErrorCode = "not an NVMe namespace"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeNotSupported       ErrorCode = "operation not supported"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeQueueFull          ErrorCode = "queue full"
	ErrCodeCommandFailed      ErrorCode = "command failed"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeCanceled           ErrorCode = "canceled"
)

type sentinel string

func (e sentinel) Error() string {
	return "fdpstat: " + string(e)
}

// Sentinels for errors.Is against structured errors
var (
	ErrDeviceNotFound     error = sentinel(ErrCodeDeviceNotFound)
	ErrNotNVMe            error = sentinel(ErrCodeNotNVMe)
	ErrDeviceBusy         error = sentinel(ErrCodeDeviceBusy)
	ErrInvalidParameters  error = sentinel(ErrCodeInvalidParameters)
	ErrNotSupported       error = sentinel(ErrCodeNotSupported)
	ErrPermissionDenied   error = sentinel(ErrCodePermissionDenied)
	ErrInsufficientMemory error = sentinel(ErrCodeInsufficientMemory)
	ErrCommandFailed      error = sentinel(ErrCodeCommandFailed)
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewQueueError creates a new queue-specific error
func NewQueueError(op string, queue int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Queue: queue,
		Code:  code,
		Msg:   msg,
	}
}

// NewStatusError reports a command that completed with a non-zero status
func NewStatusError(op string, queue int, status int32) *Error {
	e := &Error{
		Op:     op,
		Queue:  queue,
		Code:   ErrCodeCommandFailed,
		Status: status,
	}
	if status < 0 {
		e.Errno = syscall.Errno(-status)
		e.Status = 0
		e.Msg = "command failed: " + e.Errno.Error()
	} else {
		e.Msg = fmt.Sprintf("command completed with status 0x%x (%s)", status, nvme.StatusString(status))
	}
	return e
}

// WrapError wraps err with stage context. Errnos found anywhere in the
// chain are mapped to an error code.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var se *Error
	if errors.As(inner, &se) {
		wrapped := *se
		wrapped.Op = op
		return &wrapped
	}

	e := &Error{
		Op:    op,
		Queue: -1,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Code = mapErrnoToCode(errno)
		e.Errno = errno
	}
	return e
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENXIO:
		return ErrCodeDeviceNotFound
	case syscall.ENOTTY, syscall.ENODEV:
		return ErrCodeNotNVMe
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM:
		return ErrCodeInsufficientMemory
	case syscall.EAGAIN:
		return ErrCodeQueueFull
	case syscall.ECANCELED:
		return ErrCodeCanceled
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}
