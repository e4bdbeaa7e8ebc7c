package fdpstat

import "github.com/ehrlich-b/go-fdpstat/internal/constants"

// Re-export constants for public API
const (
	MaxQueues         = constants.MaxQueues
	DefaultQueueCount = constants.DefaultQueueCount
	DefaultQueueDepth = constants.DefaultQueueDepth
	MaxQueueDepth     = constants.MaxQueueDepth
	DefaultBufferSize = constants.DefaultBufferSize
	DefaultSelect     = constants.DefaultSelect
	MOStatsReset      = constants.MOStatsReset
	MOStatsReadOnly   = constants.MOStatsReadOnly
)

// Backends accepted in Params.Backend
const (
	BackendIOUring = "io_uring"
	BackendEmu     = "emu"
)

// Modes understood by the default opcode table
const (
	ModeReset    = "reset"
	ModeReadOnly = "read_only"
)
