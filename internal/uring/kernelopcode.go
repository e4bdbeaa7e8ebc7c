package uring

// IORING_OP_URING_CMD has been 46 since Linux 6.0.
const opUringCmd uint8 = 46

const opNop uint8 = 0

// poisonUserData tags entries that were neutralized after a failed enter.
// Queue user data never sets the top bits.
const poisonUserData = ^uint64(0)

// Setup flags required for NVMe passthrough: the 72-byte nvme_uring_cmd
// only fits in a 128-byte SQE, and the result dword needs a 32-byte CQE.
const (
	setupSQE128 uint32 = 1 << 10
	setupCQE32  uint32 = 1 << 11
)

// sqeCmdOffset is where the command area starts inside an SQE
const sqeCmdOffset = 48

// sqeCmdLen is the size of the command area of a 128-byte SQE
const sqeCmdLen = 80
