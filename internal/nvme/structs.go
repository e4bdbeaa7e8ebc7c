// Package nvme holds the wire layouts exchanged with the NVMe driver and device
package nvme

import "unsafe"

// UringCmd must match the kernel's struct nvme_uring_cmd (72 bytes).
// It is copied into the command area of a 128-byte SQE.
type UringCmd struct {
	Opcode      uint8
	Flags       uint8
	Rsvd1       uint16
	Nsid        uint32
	Cdw2        uint32
	Cdw3        uint32
	Metadata    uint64
	Addr        uint64
	MetadataLen uint32
	DataLen     uint32
	Cdw10       uint32
	Cdw11       uint32
	Cdw12       uint32
	Cdw13       uint32
	Cdw14       uint32
	Cdw15       uint32
	TimeoutMs   uint32
	Rsvd2       uint32
}

var _ [UringCmdSize]byte = [unsafe.Sizeof(UringCmd{})]byte{}

// MO returns the management operation carried in CDW10
func (c *UringCmd) MO() uint8 {
	return uint8(c.Cdw10 & 0xff)
}

// MOS returns the management operation specific field carried in CDW10
func (c *UringCmd) MOS() uint16 {
	return uint16(c.Cdw10 >> 16)
}

// RuhStatusDesc describes one reclaim unit handle.
type RuhStatusDesc struct {
	PID    uint16 // placement identifier
	RUHID  uint16 // reclaim unit handle identifier
	EARUTR uint32 // estimated active reclaim unit time remaining
	RUAMW  uint64 // reclaim unit available media writes
	Rsvd16 [16]byte
}

var _ [RuhDescSize]byte = [unsafe.Sizeof(RuhStatusDesc{})]byte{}

// RuhStatus is the fixed-layout reclaim unit handle status response.
// NRUHSD is device supplied and may exceed the number of slots.
type RuhStatus struct {
	Rsvd0  [14]byte
	NRUHSD uint16
	Descs  [MaxRuhDescriptors]RuhStatusDesc
}

var _ [RuhStatusSize]byte = [unsafe.Sizeof(RuhStatus{})]byte{}

// Descriptors returns the valid descriptors, clamped to the slot count.
// It returns nil when the device reported none.
func (s *RuhStatus) Descriptors() []RuhStatusDesc {
	n := int(s.NRUHSD)
	if n == 0 {
		return nil
	}
	if n > MaxRuhDescriptors {
		n = MaxRuhDescriptors
	}
	out := make([]RuhStatusDesc, n)
	copy(out, s.Descs[:n])
	return out
}

// Clamped reports whether the device claimed more descriptors than fit
func (s *RuhStatus) Clamped() bool {
	return int(s.NRUHSD) > MaxRuhDescriptors
}
