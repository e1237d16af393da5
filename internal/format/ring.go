package format

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Magic numbers for file type identification
const (
	RingMagic     uint32 = 0x5051524C // "PQRL" - pqueue ring log
	SnapshotMagic uint32 = 0x50515353 // "PQSS" - pqueue snapshot
)

// Format version
const (
	FormatVersion1 uint16 = 1
	CurrentVersion uint16 = FormatVersion1
)

// RingHeaderSize is the size of one header slot (64 bytes - cache-line aligned).
// Layout: Magic(4) + Version(2) + Flags(2) + Seq(8) + FileLength(8) + Count(8) +
//
//	Head(8) + Tail(8) + Used(8) + Reserved(4) + HeaderCRC(4) = 64 bytes
const RingHeaderSize = 64

// RingHeaderSlots is the number of header slots at the start of the file.
// Commits alternate between slots so a torn header write leaves the
// previous commit intact.
const RingHeaderSlots = 2

// RingDataStart is the file offset where the ring data region begins.
const RingDataStart = RingHeaderSize * RingHeaderSlots

// FrameOverhead is the per-record overhead in the ring: Length(4) + CRC32C(4).
const FrameOverhead = 8

// MaxFramePayload is the largest payload a frame length field can describe.
const MaxFramePayload = math.MaxUint32 - FrameOverhead

// RingHeader is the commit record of an append-log file.
//
// Binary format (little-endian, 64 bytes):
//
//	[Magic:4][Version:2][Flags:2][Seq:8][FileLength:8][Count:8]
//	[Head:8][Tail:8][Used:8][Reserved:4][HeaderCRC:4]
type RingHeader struct {
	// Magic is the file format identifier (RingMagic)
	Magic uint32

	// Version is the format version
	Version uint16

	// Flags is reserved for future use
	Flags uint16

	// Seq increases by one with every commit; the slot with the highest
	// valid Seq is the current state
	Seq uint64

	// FileLength is the logical length of the file; the ring wraps here
	FileLength uint64

	// Count is the number of live records
	Count uint64

	// Head is the file offset of the oldest live frame
	Head uint64

	// Tail is the file offset where the next frame will be written
	Tail uint64

	// Used is the number of ring bytes occupied by live frames
	Used uint64
}

// NewRingHeader creates the header of an empty ring of the given file length.
func NewRingHeader(fileLength uint64) *RingHeader {
	return &RingHeader{
		Magic:      RingMagic,
		Version:    CurrentVersion,
		FileLength: fileLength,
		Head:       RingDataStart,
		Tail:       RingDataStart,
	}
}

// Capacity returns the size of the ring data region.
func (h *RingHeader) Capacity() uint64 {
	return h.FileLength - RingDataStart
}

// Free returns the number of ring bytes available for new frames.
func (h *RingHeader) Free() uint64 {
	return h.Capacity() - h.Used
}

// Wrap maps a position that may run past FileLength back into the ring.
func (h *RingHeader) Wrap(pos uint64) uint64 {
	if pos < h.FileLength {
		return pos
	}
	return RingDataStart + (pos - h.FileLength)
}

// Slot returns the header slot this header is written to.
func (h *RingHeader) Slot() int {
	return int(h.Seq % RingHeaderSlots)
}

// SlotOffset returns the file offset of the given header slot.
func SlotOffset(slot int) int64 {
	return int64(slot) * RingHeaderSize
}

// Marshal encodes the header into binary format with CRC32C checksum.
func (h *RingHeader) Marshal() []byte {
	buf := make([]byte, RingHeaderSize)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], h.Magic)
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], h.Version)
	offset += 2
	binary.LittleEndian.PutUint16(buf[offset:], h.Flags)
	offset += 2
	binary.LittleEndian.PutUint64(buf[offset:], h.Seq)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.FileLength)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.Count)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.Head)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.Tail)
	offset += 8
	binary.LittleEndian.PutUint64(buf[offset:], h.Used)
	offset += 8
	offset += 4 // reserved

	crc := ComputeCRC32C(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:], crc)

	return buf
}

// UnmarshalRingHeader decodes a header slot. It verifies the CRC but not
// the structural invariants; call Validate for that.
func UnmarshalRingHeader(buf []byte) (*RingHeader, error) {
	if len(buf) < RingHeaderSize {
		return nil, fmt.Errorf("ring header too short: %d bytes (need %d)", len(buf), RingHeaderSize)
	}
	buf = buf[:RingHeaderSize]

	storedCRC := binary.LittleEndian.Uint32(buf[RingHeaderSize-4:])
	computedCRC := ComputeCRC32C(buf[:RingHeaderSize-4])
	if storedCRC != computedCRC {
		return nil, fmt.Errorf("ring header CRC mismatch: stored=%08x computed=%08x", storedCRC, computedCRC)
	}

	return &RingHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint16(buf[4:6]),
		Flags:      binary.LittleEndian.Uint16(buf[6:8]),
		Seq:        binary.LittleEndian.Uint64(buf[8:16]),
		FileLength: binary.LittleEndian.Uint64(buf[16:24]),
		Count:      binary.LittleEndian.Uint64(buf[24:32]),
		Head:       binary.LittleEndian.Uint64(buf[32:40]),
		Tail:       binary.LittleEndian.Uint64(buf[40:48]),
		Used:       binary.LittleEndian.Uint64(buf[48:56]),
	}, nil
}

// Validate checks that the header describes a consistent ring.
func (h *RingHeader) Validate() error {
	if h.Magic != RingMagic {
		return fmt.Errorf("invalid magic number: got=%08x want=%08x", h.Magic, RingMagic)
	}
	if h.Version == 0 {
		return fmt.Errorf("invalid version: %d", h.Version)
	}
	if h.Version > CurrentVersion {
		return fmt.Errorf("unsupported version: %d (current=%d)", h.Version, CurrentVersion)
	}
	if h.FileLength <= RingDataStart {
		return fmt.Errorf("file length %d leaves no ring region", h.FileLength)
	}
	if h.Head < RingDataStart || h.Head >= h.FileLength {
		return fmt.Errorf("head %d outside ring [%d,%d)", h.Head, RingDataStart, h.FileLength)
	}
	if h.Tail < RingDataStart || h.Tail >= h.FileLength {
		return fmt.Errorf("tail %d outside ring [%d,%d)", h.Tail, RingDataStart, h.FileLength)
	}
	if h.Used > h.Capacity() {
		return fmt.Errorf("used bytes %d exceed capacity %d", h.Used, h.Capacity())
	}
	if (h.Count == 0) != (h.Used == 0) {
		return fmt.Errorf("count %d inconsistent with used bytes %d", h.Count, h.Used)
	}
	if h.Count > h.Used/FrameOverhead {
		return fmt.Errorf("count %d cannot fit in %d used bytes", h.Count, h.Used)
	}
	if want := h.Wrap(h.Head + h.Used); want != h.Tail {
		return fmt.Errorf("tail %d does not match head %d + used %d (want %d)", h.Tail, h.Head, h.Used, want)
	}
	return nil
}

// SelectRingHeader decodes every slot in buf and returns the valid header
// with the highest Seq. It fails only when no slot is valid.
func SelectRingHeader(buf []byte) (*RingHeader, error) {
	var (
		best    *RingHeader
		lastErr error
	)
	for slot := 0; slot < RingHeaderSlots; slot++ {
		start := int(SlotOffset(slot))
		if len(buf) < start+RingHeaderSize {
			lastErr = fmt.Errorf("slot %d: truncated", slot)
			continue
		}
		h, err := UnmarshalRingHeader(buf[start : start+RingHeaderSize])
		if err != nil {
			lastErr = fmt.Errorf("slot %d: %w", slot, err)
			continue
		}
		if err := h.Validate(); err != nil {
			lastErr = fmt.Errorf("slot %d: %w", slot, err)
			continue
		}
		if h.Slot() != slot {
			lastErr = fmt.Errorf("slot %d: holds sequence %d of slot %d", slot, h.Seq, h.Slot())
			continue
		}
		if best == nil || h.Seq > best.Seq {
			best = h
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no valid ring header: %w", lastErr)
	}
	return best, nil
}

// FrameSize returns the ring bytes needed for a payload of n bytes.
func FrameSize(n int) uint64 {
	return uint64(n) + FrameOverhead
}

// MarshalFrame encodes a ring frame.
//
// Binary format (little-endian):
//
//	[Length:4][Payload:N][CRC32C:4]
//
// Length is the payload length. The CRC covers Length and Payload.
func MarshalFrame(payload []byte) []byte {
	buf := make([]byte, FrameSize(len(payload)))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload))) //nolint:gosec // G115: callers bound payload by MaxFramePayload
	copy(buf[4:], payload)
	end := 4 + len(payload)
	binary.LittleEndian.PutUint32(buf[end:], ComputeCRC32C(buf[:end]))
	return buf
}

// FramePayloadLength reads the length prefix of a frame.
func FramePayloadLength(prefix []byte) uint32 {
	return binary.LittleEndian.Uint32(prefix[0:4])
}

// UnmarshalFrame verifies a complete frame and returns its payload.
// The returned slice aliases buf.
func UnmarshalFrame(buf []byte) ([]byte, error) {
	if len(buf) < FrameOverhead {
		return nil, fmt.Errorf("frame too short: %d bytes", len(buf))
	}
	n := int(FramePayloadLength(buf))
	if len(buf) != n+FrameOverhead {
		return nil, fmt.Errorf("frame length mismatch: header says %d payload bytes, frame has %d", n, len(buf)-FrameOverhead)
	}
	end := 4 + n
	storedCRC := binary.LittleEndian.Uint32(buf[end:])
	computedCRC := ComputeCRC32C(buf[:end])
	if storedCRC != computedCRC {
		return nil, fmt.Errorf("frame CRC mismatch: stored=%08x computed=%08x", storedCRC, computedCRC)
	}
	return buf[4:end], nil
}
