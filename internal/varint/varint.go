// Package varint provides the variable-byte codec the main index uses to
// delta-compress posting lists. The encoding is the same
// base-128 continuation scheme as encoding/binary's Uvarint, specialized to
// uint32 so posting-list blocks can size their buffers precisely.
package varint

// MaxUint32Len is the largest number of bytes PutUvarint32 ever writes.
const MaxUint32Len = 5

// PutUvarint32 encodes x into buf and returns the number of bytes written.
// buf must have at least MaxUint32Len bytes of room.
func PutUvarint32(buf []byte, x uint32) int {
	i := 0
	for x >= 0x80 {
		buf[i] = byte(x) | 0x80
		x >>= 7
		i++
	}
	buf[i] = byte(x)
	return i + 1
}

// Uvarint32 decodes a uint32 from the front of buf, returning the value and
// the number of bytes consumed. It returns (0, 0) if buf is too short and
// (0, -n) if the encoded value overflows a uint32, where n is the number of
// bytes read before the overflow was detected (mirroring encoding/binary's
// Uvarint contract).
func Uvarint32(buf []byte) (uint32, int) {
	var x uint32
	var s uint
	for i, b := range buf {
		if i == MaxUint32Len {
			return 0, -(i + 1)
		}
		if b < 0x80 {
			if i == MaxUint32Len-1 && b > 0x0f {
				return 0, -(i + 1)
			}
			return x | uint32(b)<<s, i + 1
		}
		x |= uint32(b&0x7f) << s
		s += 7
	}
	return 0, 0
}

// Len32 returns the number of bytes PutUvarint32 would write for x.
func Len32(x uint32) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
