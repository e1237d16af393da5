package format

import (
	"encoding/binary"
	"fmt"
)

// SnapshotHeaderSize is the fixed size of the snapshot header (32 bytes).
// Layout: Magic(4) + Version(2) + Flags(2) + Count(8) + BodyLen(8) + BodyXXH64(8)
const SnapshotHeaderSize = 32

// SnapshotRecordOverhead is the per-record length prefix in a snapshot body.
const SnapshotRecordOverhead = 4

// SnapshotHeader describes a snapshot file.
//
// Binary format (little-endian):
//
//	[Magic:4][Version:2][Flags:2][Count:8][BodyLen:8][BodyXXH64:8]
//	[Body: Count x ([Length:4][Payload:N])]
type SnapshotHeader struct {
	Magic     uint32
	Version   uint16
	Flags     uint16
	Count     uint64
	BodyLen   uint64
	BodyXXH64 uint64
}

// MarshalSnapshot encodes the whole record sequence as one file image.
func MarshalSnapshot(records [][]byte) []byte {
	bodyLen := 0
	for _, r := range records {
		bodyLen += SnapshotRecordOverhead + len(r)
	}

	buf := make([]byte, SnapshotHeaderSize+bodyLen)
	body := buf[SnapshotHeaderSize:]
	offset := 0
	for _, r := range records {
		binary.LittleEndian.PutUint32(body[offset:], uint32(len(r))) //nolint:gosec // G115: callers bound records by MaxFramePayload
		offset += SnapshotRecordOverhead
		copy(body[offset:], r)
		offset += len(r)
	}

	binary.LittleEndian.PutUint32(buf[0:4], SnapshotMagic)
	binary.LittleEndian.PutUint16(buf[4:6], CurrentVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(records)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(bodyLen))
	binary.LittleEndian.PutUint64(buf[24:32], ComputeXXH64(body))

	return buf
}

// UnmarshalSnapshotHeader decodes and validates the fixed header.
func UnmarshalSnapshotHeader(buf []byte) (*SnapshotHeader, error) {
	if len(buf) < SnapshotHeaderSize {
		return nil, fmt.Errorf("snapshot header too short: %d bytes (need %d)", len(buf), SnapshotHeaderSize)
	}

	h := &SnapshotHeader{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint16(buf[4:6]),
		Flags:     binary.LittleEndian.Uint16(buf[6:8]),
		Count:     binary.LittleEndian.Uint64(buf[8:16]),
		BodyLen:   binary.LittleEndian.Uint64(buf[16:24]),
		BodyXXH64: binary.LittleEndian.Uint64(buf[24:32]),
	}

	if h.Magic != SnapshotMagic {
		return nil, fmt.Errorf("invalid magic number: got=%08x want=%08x", h.Magic, SnapshotMagic)
	}
	if h.Version == 0 || h.Version > CurrentVersion {
		return nil, fmt.Errorf("unsupported version: %d (current=%d)", h.Version, CurrentVersion)
	}
	if h.Flags != 0 {
		return nil, fmt.Errorf("unknown flags: %04x", h.Flags)
	}
	if h.Count > h.BodyLen/SnapshotRecordOverhead {
		return nil, fmt.Errorf("count %d cannot fit in %d body bytes", h.Count, h.BodyLen)
	}
	return h, nil
}

// UnmarshalSnapshot decodes a complete snapshot file image and returns its
// records in order. Returned records alias buf.
func UnmarshalSnapshot(buf []byte) ([][]byte, error) {
	h, err := UnmarshalSnapshotHeader(buf)
	if err != nil {
		return nil, err
	}

	body := buf[SnapshotHeaderSize:]
	if uint64(len(body)) != h.BodyLen {
		return nil, fmt.Errorf("body length mismatch: header says %d, file has %d", h.BodyLen, len(body))
	}
	if sum := ComputeXXH64(body); sum != h.BodyXXH64 {
		return nil, fmt.Errorf("body checksum mismatch: stored=%016x computed=%016x", h.BodyXXH64, sum)
	}

	records := make([][]byte, 0, h.Count)
	offset := uint64(0)
	for i := uint64(0); i < h.Count; i++ {
		if h.BodyLen-offset < SnapshotRecordOverhead {
			return nil, fmt.Errorf("record %d: truncated length prefix", i)
		}
		n := uint64(binary.LittleEndian.Uint32(body[offset:]))
		offset += SnapshotRecordOverhead
		if h.BodyLen-offset < n {
			return nil, fmt.Errorf("record %d: length %d overruns body", i, n)
		}
		records = append(records, body[offset:offset+n:offset+n])
		offset += n
	}
	if offset != h.BodyLen {
		return nil, fmt.Errorf("%d trailing body bytes after %d records", h.BodyLen-offset, h.Count)
	}

	return records, nil
}
