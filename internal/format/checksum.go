// Package format provides binary encoding/decoding for pqueue file formats.
//
// This package implements:
//   - Ring header: double-slotted, CRC-protected commit record of the append-log file
//   - Ring frame: length-prefixed, CRC-protected record stored in the ring region
//   - Snapshot file: header plus length-prefixed records, protected by XXH64
//   - Checksum utilities: CRC32C (Castagnoli) and XXH64
package format

import (
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// CRC32C table using Castagnoli polynomial.
// This is hardware-accelerated on modern Intel (SSE 4.2) and ARM processors.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ComputeCRC32C computes a CRC32C checksum over the given data.
func ComputeCRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// VerifyCRC32C verifies that the computed CRC matches the expected value.
func VerifyCRC32C(data []byte, expected uint32) bool {
	return ComputeCRC32C(data) == expected
}

// ComputeXXH64 computes the XXH64 digest used to seal snapshot bodies.
func ComputeXXH64(data []byte) uint64 {
	return xxhash.Sum64(data)
}
