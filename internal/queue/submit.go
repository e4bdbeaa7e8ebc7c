package queue

import (
	"errors"
	"fmt"
	"sort"
	"unsafe"

	"github.com/ehrlich-b/go-fdpstat/internal/buffer"
	"github.com/ehrlich-b/go-fdpstat/internal/constants"
	"github.com/ehrlich-b/go-fdpstat/internal/logging"
	"github.com/ehrlich-b/go-fdpstat/internal/nvme"
)

var (
	// ErrInvalidParams is returned for malformed submission parameters
	ErrInvalidParams = errors.New("invalid submission parameters")

	// ErrUnknownMode is returned for a mode missing from the opcode table
	ErrUnknownMode = errors.New("unknown management operation mode")
)

// Mode names understood by the default opcode table
const (
	ModeReset     = "reset"
	ModeReadOnly  = "read_only"
	ModeNop       = "nop"
	ModeRuhUpdate = "ruh_update"
)

// OpcodeTable maps a mode name to the management operation sent for it
type OpcodeTable map[string]uint8

// DefaultOpcodeTable returns the management operations of FEMU FDP firmware
func DefaultOpcodeTable() OpcodeTable {
	return OpcodeTable{
		ModeReset:     constants.MOStatsReset,
		ModeReadOnly:  constants.MOStatsReadOnly,
		ModeNop:       constants.MONop,
		ModeRuhUpdate: constants.MORuhUpdate,
	}
}

// Modes returns the table's mode names in sorted order
func (t OpcodeTable) Modes() []string {
	modes := make([]string, 0, len(t))
	for m := range t {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}

// Engine builds IO Management Send commands and places them on a
// context's queue
type Engine struct {
	table  OpcodeTable
	logger *logging.Logger
}

// NewEngine creates an engine. A nil table selects DefaultOpcodeTable.
func NewEngine(table OpcodeTable, logger *logging.Logger) *Engine {
	if table == nil {
		table = DefaultOpcodeTable()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{table: table, logger: logger}
}

// Resolve returns the management operation for a mode name
func (e *Engine) Resolve(mode string) (uint8, error) {
	mo, ok := e.table[mode]
	if !ok {
		return 0, fmt.Errorf("%w %q (known: %v)", ErrUnknownMode, mode, e.table.Modes())
	}
	return mo, nil
}

// Submit sends IO Management Send with management operation op to nsid.
// resp, which may be empty, receives the command's data. The call returns
// once the command is queued; its completion is delivered by Drain.
func (e *Engine) Submit(c *CmdCtx, op uint8, nsid uint32, sel uint16, resp []byte) (*Pending, error) {
	return e.submit(c, op, nsid, sel, resp, nil)
}

// SubmitBuffer is Submit with the first n bytes of buf as the response
// region. buf is pinned until the completion is drained.
func (e *Engine) SubmitBuffer(c *CmdCtx, op uint8, nsid uint32, sel uint16, buf *buffer.Buffer, n int) (*Pending, error) {
	if buf == nil || n < 0 || n > buf.Len() {
		return nil, fmt.Errorf("%w: response length %d exceeds buffer", ErrInvalidParams, n)
	}
	if err := buf.Pin(); err != nil {
		return nil, err
	}
	p, err := e.submit(c, op, nsid, sel, buf.Bytes()[:n], buf.Unpin)
	if err != nil {
		buf.Unpin()
		return nil, err
	}
	return p, nil
}

func (e *Engine) submit(c *CmdCtx, op uint8, nsid uint32, sel uint16, resp []byte, onComplete func()) (*Pending, error) {
	if c == nil {
		return nil, ErrNotBound
	}
	if nsid == 0 || nsid == 0xffffffff {
		return nil, fmt.Errorf("%w: namespace id 0x%x", ErrInvalidParams, nsid)
	}
	// data length is carried as a dword count
	if len(resp)%4 != 0 {
		return nil, fmt.Errorf("%w: response length %d not dword aligned", ErrInvalidParams, len(resp))
	}

	var addr uint64
	if len(resp) > 0 {
		addr = uint64(uintptr(unsafe.Pointer(&resp[0])))
	}
	cmd := nvme.MgmtSend(nsid, op, sel, addr, uint32(len(resp)))

	p, err := c.q.submit(c, cmd, resp, onComplete)
	if err != nil {
		return nil, err
	}
	e.logger.CommandSubmitted("IO_MGMT_SEND", c.index, nsid)
	return p, nil
}
