package nvme

import (
	"encoding/binary"
)

// Marshal converts a wire struct to its little-endian byte layout
func Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *UringCmd:
		buf := make([]byte, UringCmdSize)
		MarshalUringCmd(val, buf)
		return buf, nil
	case *RuhStatus:
		buf := make([]byte, RuhStatusSize)
		MarshalRuhStatus(val, buf)
		return buf, nil
	default:
		return nil, ErrInvalidType
	}
}

// Unmarshal decodes bytes into a wire struct
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *UringCmd:
		return unmarshalUringCmd(data, val)
	case *RuhStatus:
		return UnmarshalRuhStatus(data, val)
	default:
		return ErrInvalidType
	}
}

// MarshalUringCmd writes cmd into buf, which must hold UringCmdSize bytes
func MarshalUringCmd(cmd *UringCmd, buf []byte) {
	_ = buf[UringCmdSize-1]

	buf[0] = cmd.Opcode
	buf[1] = cmd.Flags
	binary.LittleEndian.PutUint16(buf[2:4], cmd.Rsvd1)
	binary.LittleEndian.PutUint32(buf[4:8], cmd.Nsid)
	binary.LittleEndian.PutUint32(buf[8:12], cmd.Cdw2)
	binary.LittleEndian.PutUint32(buf[12:16], cmd.Cdw3)
	binary.LittleEndian.PutUint64(buf[16:24], cmd.Metadata)
	binary.LittleEndian.PutUint64(buf[24:32], cmd.Addr)
	binary.LittleEndian.PutUint32(buf[32:36], cmd.MetadataLen)
	binary.LittleEndian.PutUint32(buf[36:40], cmd.DataLen)
	binary.LittleEndian.PutUint32(buf[40:44], cmd.Cdw10)
	binary.LittleEndian.PutUint32(buf[44:48], cmd.Cdw11)
	binary.LittleEndian.PutUint32(buf[48:52], cmd.Cdw12)
	binary.LittleEndian.PutUint32(buf[52:56], cmd.Cdw13)
	binary.LittleEndian.PutUint32(buf[56:60], cmd.Cdw14)
	binary.LittleEndian.PutUint32(buf[60:64], cmd.Cdw15)
	binary.LittleEndian.PutUint32(buf[64:68], cmd.TimeoutMs)
	binary.LittleEndian.PutUint32(buf[68:72], cmd.Rsvd2)
}

func unmarshalUringCmd(data []byte, cmd *UringCmd) error {
	if len(data) < UringCmdSize {
		return ErrInsufficientData
	}

	cmd.Opcode = data[0]
	cmd.Flags = data[1]
	cmd.Rsvd1 = binary.LittleEndian.Uint16(data[2:4])
	cmd.Nsid = binary.LittleEndian.Uint32(data[4:8])
	cmd.Cdw2 = binary.LittleEndian.Uint32(data[8:12])
	cmd.Cdw3 = binary.LittleEndian.Uint32(data[12:16])
	cmd.Metadata = binary.LittleEndian.Uint64(data[16:24])
	cmd.Addr = binary.LittleEndian.Uint64(data[24:32])
	cmd.MetadataLen = binary.LittleEndian.Uint32(data[32:36])
	cmd.DataLen = binary.LittleEndian.Uint32(data[36:40])
	cmd.Cdw10 = binary.LittleEndian.Uint32(data[40:44])
	cmd.Cdw11 = binary.LittleEndian.Uint32(data[44:48])
	cmd.Cdw12 = binary.LittleEndian.Uint32(data[48:52])
	cmd.Cdw13 = binary.LittleEndian.Uint32(data[52:56])
	cmd.Cdw14 = binary.LittleEndian.Uint32(data[56:60])
	cmd.Cdw15 = binary.LittleEndian.Uint32(data[60:64])
	cmd.TimeoutMs = binary.LittleEndian.Uint32(data[64:68])
	cmd.Rsvd2 = binary.LittleEndian.Uint32(data[68:72])

	return nil
}

// MarshalRuhStatus writes the response layout into buf (RuhStatusSize bytes).
// All 16 slots are written; NRUHSD is written as-is.
func MarshalRuhStatus(s *RuhStatus, buf []byte) {
	_ = buf[RuhStatusSize-1]

	copy(buf[0:14], s.Rsvd0[:])
	binary.LittleEndian.PutUint16(buf[14:16], s.NRUHSD)
	for i := range s.Descs {
		off := RuhStatusHdrSize + i*RuhDescSize
		d := &s.Descs[i]
		binary.LittleEndian.PutUint16(buf[off:off+2], d.PID)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], d.RUHID)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], d.EARUTR)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], d.RUAMW)
		copy(buf[off+16:off+32], d.Rsvd16[:])
	}
}

// UnmarshalRuhStatus decodes the fixed-layout response. It never reads
// past the sixteenth slot regardless of NRUHSD.
func UnmarshalRuhStatus(data []byte, s *RuhStatus) error {
	if len(data) < RuhStatusSize {
		return ErrInsufficientData
	}

	copy(s.Rsvd0[:], data[0:14])
	s.NRUHSD = binary.LittleEndian.Uint16(data[14:16])
	for i := range s.Descs {
		off := RuhStatusHdrSize + i*RuhDescSize
		d := &s.Descs[i]
		d.PID = binary.LittleEndian.Uint16(data[off : off+2])
		d.RUHID = binary.LittleEndian.Uint16(data[off+2 : off+4])
		d.EARUTR = binary.LittleEndian.Uint32(data[off+4 : off+8])
		d.RUAMW = binary.LittleEndian.Uint64(data[off+8 : off+16])
		copy(d.Rsvd16[:], data[off+16:off+32])
	}
	return nil
}

// DecodeRuhStatus decodes a response region and returns its descriptors,
// clamped to min(NRUHSD, 16). The returned slice is nil when NRUHSD is 0.
func DecodeRuhStatus(data []byte) ([]RuhStatusDesc, *RuhStatus, error) {
	var s RuhStatus
	if err := UnmarshalRuhStatus(data, &s); err != nil {
		return nil, nil, err
	}
	return s.Descriptors(), &s, nil
}

// MgmtSend builds an IO Management Send command for the given management
// operation (MO) and operation specific field (MOS). The data region is
// described by addr and length.
func MgmtSend(nsid uint32, mo uint8, mos uint16, addr uint64, length uint32) UringCmd {
	cmd := UringCmd{
		Opcode:  OpcodeIOMgmtSend,
		Nsid:    nsid,
		Addr:    addr,
		DataLen: length,
		Cdw10:   uint32(mo) | uint32(mos)<<16,
	}
	// NUMD is a 0's based dword count
	if length >= 4 {
		cmd.Cdw11 = length/4 - 1
	}
	return cmd
}

// MarshalError is returned for malformed wire data
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
