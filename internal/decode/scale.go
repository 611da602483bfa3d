package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrTruncated = errors.New("scale: truncated input")

// Compact decodes a SCALE compact-encoded unsigned integer and returns the
// value and the number of bytes it occupied.
func Compact(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	switch b[0] & 0b11 {
	case 0b00:
		return uint64(b[0] >> 2), 1, nil
	case 0b01:
		if len(b) < 2 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint16(b) >> 2), 2, nil
	case 0b10:
		if len(b) < 4 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint32(b) >> 2), 4, nil
	default:
		n := int(b[0]>>2) + 4
		if n > 8 {
			return 0, 0, fmt.Errorf("scale: compact of %d bytes exceeds u64", n)
		}
		if len(b) < 1+n {
			return 0, 0, ErrTruncated
		}
		var buf [8]byte
		copy(buf[:], b[1:1+n])
		return binary.LittleEndian.Uint64(buf[:]), 1 + n, nil
	}
}

// EncodeCompact is the inverse of Compact for values that fit in u64.
func EncodeCompact(v uint64) []byte {
	switch {
	case v < 1<<6:
		return []byte{byte(v << 2)}
	case v < 1<<14:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(v<<2|0b01))
		return out
	case v < 1<<30:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(v<<2|0b10))
		return out
	default:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], v)
		n := 8
		for n > 4 && buf[n-1] == 0 {
			n--
		}
		return append([]byte{byte((n-4)<<2 | 0b11)}, buf[:n]...)
	}
}
