package nvme

// OpcodeIOMgmtSend is the NVM command set opcode of IO Management Send
const OpcodeIOMgmtSend = 0x1D

// Generic status values reported in the completion
const (
	StatusSuccess        = 0x0000
	StatusInvalidOpcode  = 0x0001
	StatusInvalidField   = 0x0002
	StatusDataTransfer   = 0x0004
	StatusInternalError  = 0x0006
	StatusInvalidNS      = 0x000B
	StatusDoNotRetryFlag = 0x4000
)

// Response layout sizes
const (
	MaxRuhDescriptors = 16
	RuhStatusHdrSize  = 16
	RuhDescSize       = 32
	RuhStatusSize     = RuhStatusHdrSize + MaxRuhDescriptors*RuhDescSize
	UringCmdSize      = 72
)

// ioctl encoding constants
const (
	_IOC_NONE      = 0
	_IOC_WRITE     = 1
	_IOC_READ      = 2
	_IOC_SIZEBITS  = 14
	_IOC_DIRBITS   = 2
	_IOC_TYPEBITS  = 8
	_IOC_NRBITS    = 8
	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

// IoctlEncode creates an ioctl command number
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

// NVMe driver ioctls
var (
	// IoctlID returns the namespace id of an opened namespace node
	IoctlID = IoctlEncode(_IOC_NONE, 'N', 0x40, 0)

	// UringCmdIO is the cmd_op for NVM passthrough over IORING_OP_URING_CMD
	UringCmdIO = IoctlEncode(_IOC_READ|_IOC_WRITE, 'N', 0x80, UringCmdSize)
)

// StatusString returns a short name for well known status values
func StatusString(status int32) string {
	if status < 0 {
		return "errno"
	}
	switch status &^ StatusDoNotRetryFlag {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidOpcode:
		return "INVALID_OPCODE"
	case StatusInvalidField:
		return "INVALID_FIELD"
	case StatusDataTransfer:
		return "DATA_TRANSFER_ERROR"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusInvalidNS:
		return "INVALID_NAMESPACE"
	default:
		return "UNKNOWN"
	}
}
