package nvme

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructSizes(t *testing.T) {
	tests := []struct {
		name     string
		size     uintptr
		expected int
	}{
		{"UringCmd", unsafe.Sizeof(UringCmd{}), 72},
		{"RuhStatusDesc", unsafe.Sizeof(RuhStatusDesc{}), 32},
		{"RuhStatus", unsafe.Sizeof(RuhStatus{}), 528},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, int(tt.size))
		})
	}
}

func TestIoctlNumbers(t *testing.T) {
	assert.Equal(t, uint32(0x4E40), IoctlID)
	assert.Equal(t, uint32(0xC0484E80), UringCmdIO)
}

func TestMgmtSendEncoding(t *testing.T) {
	cmd := MgmtSend(1, 0x10, 1, 0x7f0000001000, RuhStatusSize)

	assert.Equal(t, uint8(OpcodeIOMgmtSend), cmd.Opcode)
	assert.Equal(t, uint32(1), cmd.Nsid)
	assert.Equal(t, uint8(0x10), cmd.MO())
	assert.Equal(t, uint16(1), cmd.MOS())
	assert.Equal(t, uint32(0x00010010), cmd.Cdw10)
	assert.Equal(t, uint32(RuhStatusSize/4-1), cmd.Cdw11)
	assert.Equal(t, uint32(RuhStatusSize), cmd.DataLen)

	buf, err := Marshal(&cmd)
	require.NoError(t, err)
	require.Len(t, buf, UringCmdSize)
	assert.Equal(t, byte(OpcodeIOMgmtSend), buf[0])
	assert.Equal(t, uint64(0x7f0000001000), binary.LittleEndian.Uint64(buf[24:32]))
	assert.Equal(t, uint32(0x00010010), binary.LittleEndian.Uint32(buf[40:44]))

	var back UringCmd
	require.NoError(t, Unmarshal(buf, &back))
	assert.Equal(t, cmd, back)
}

func TestMgmtSendWithoutData(t *testing.T) {
	cmd := MgmtSend(3, 0x02, 1, 0, 0)
	assert.Zero(t, cmd.Cdw11)
	assert.Zero(t, cmd.DataLen)
}

func rawStatus(nruhsd uint16, filled int) []byte {
	buf := make([]byte, RuhStatusSize)
	binary.LittleEndian.PutUint16(buf[14:16], nruhsd)
	for i := 0; i < filled; i++ {
		off := RuhStatusHdrSize + i*RuhDescSize
		binary.LittleEndian.PutUint16(buf[off:], uint16(i))
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(100+i))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(1000*i))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(1)<<40+uint64(i))
	}
	return buf
}

func TestDecodeRuhStatus(t *testing.T) {
	descs, status, err := DecodeRuhStatus(rawStatus(4, 16))
	require.NoError(t, err)
	require.Len(t, descs, 4)
	assert.False(t, status.Clamped())

	for i, d := range descs {
		assert.Equal(t, uint16(i), d.PID)
		assert.Equal(t, uint16(100+i), d.RUHID)
		assert.Equal(t, uint32(1000*i), d.EARUTR)
		assert.Equal(t, uint64(1)<<40+uint64(i), d.RUAMW)
	}
}

func TestDecodeClampsOversizedCount(t *testing.T) {
	descs, status, err := DecodeRuhStatus(rawStatus(200, 16))
	require.NoError(t, err)
	assert.Len(t, descs, MaxRuhDescriptors)
	assert.True(t, status.Clamped())
	assert.Equal(t, uint16(200), status.NRUHSD)
	assert.Equal(t, uint16(115), descs[15].RUHID)
}

func TestDecodeEmpty(t *testing.T) {
	descs, status, err := DecodeRuhStatus(rawStatus(0, 16))
	require.NoError(t, err)
	assert.Nil(t, descs)
	assert.Nil(t, status.Descriptors())
}

func TestDecodeRestartable(t *testing.T) {
	_, status, err := DecodeRuhStatus(rawStatus(3, 3))
	require.NoError(t, err)

	first := status.Descriptors()
	first[0].PID = 99
	second := status.Descriptors()
	assert.Equal(t, uint16(0), second[0].PID)
	assert.Len(t, second, 3)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := DecodeRuhStatus(make([]byte, RuhStatusSize-1))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRuhStatusEncodeDecode(t *testing.T) {
	in := &RuhStatus{NRUHSD: 2}
	in.Descs[0] = RuhStatusDesc{PID: 1, RUHID: 2, EARUTR: 3, RUAMW: 4}
	in.Descs[1] = RuhStatusDesc{PID: 5, RUHID: 6, EARUTR: 7, RUAMW: 8}

	buf, err := Marshal(in)
	require.NoError(t, err)

	var out RuhStatus
	require.NoError(t, Unmarshal(buf, &out))
	assert.Equal(t, *in, out)
}

func TestUnmarshalInvalidType(t *testing.T) {
	var x int
	assert.ErrorIs(t, Unmarshal(nil, &x), ErrInvalidType)
	_, err := Marshal(&x)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusString(0))
	assert.Equal(t, "INVALID_FIELD", StatusString(StatusInvalidField|StatusDoNotRetryFlag))
	assert.Equal(t, "errno", StatusString(-5))
	assert.Equal(t, "UNKNOWN", StatusString(0x77))
}
