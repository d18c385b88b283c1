// Package wire implements the word-aligned binary framing protocol shared
// between a tunnel node and its embedded relational engine: a fixed-size
// inline buffer that spills into a heap-allocated overflow buffer, and the
// primitive put/get routines that write and read values at 8-byte aligned
// offsets within it.
package wire

import "encoding/binary"

// Flip64 swaps the byte order of a 64-bit word. The wire format is
// big-endian; in-memory values are host-native until flipped at the
// boundary. Flip64 is its own inverse: Flip64(Flip64(x)) == x for all x.
func Flip64(u uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], u)
	return binary.BigEndian.Uint64(b[:])
}
