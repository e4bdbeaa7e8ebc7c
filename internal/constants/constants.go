package constants

// Default configuration constants
const (
	// MaxQueues is the upper bound on queues in a queue pool
	MaxQueues = 128

	// DefaultQueueCount is the number of queues created per run
	DefaultQueueCount = MaxQueues

	// DefaultQueueDepth is the default number of command contexts per queue
	DefaultQueueDepth = 128

	// MaxQueueDepth is the largest depth a queue may be created with
	MaxQueueDepth = 4096

	// DefaultBufferSize is the size of the payload buffer allocated per run (1MB)
	DefaultBufferSize = 1 << 20

	// DefaultSelect is the management operation specific field sent with every command
	DefaultSelect = 1

	// DefaultBackend is the async backend used to reach the device
	DefaultBackend = "io_uring"
)

// Management operation codes understood by the FEMU FDP firmware
const (
	// MONop does nothing
	MONop = 0x00

	// MORuhUpdate updates reclaim unit handles
	MORuhUpdate = 0x01

	// MOStatsReset prints placement statistics and resets the counters
	MOStatsReset = 0x02

	// MOStatsReadOnly prints placement statistics without resetting
	MOStatsReadOnly = 0x10
)

// Emulator defaults
const (
	// DefaultEmuHandles is the number of reclaim unit handles the emulator reports
	DefaultEmuHandles = 8

	// DefaultEmuNSID is the namespace id reported by the emulator
	DefaultEmuNSID = 1

	// DefaultEmuBlockSize is the logical block size reported by the emulator
	DefaultEmuBlockSize = 4096
)
