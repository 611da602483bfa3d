package model

import (
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampNowKey is the storage key of the timestamp pallet's Now value:
// twox128("Timestamp") ++ twox128("Now").
var TimestampNowKey = []byte{
	0xf0, 0xc3, 0x65, 0xc3, 0xcf, 0x59, 0xd6, 0x71, 0xeb, 0x72, 0xda, 0x0e, 0x7a, 0x41, 0x13, 0xc4,
	0x9f, 0x1f, 0x05, 0x15, 0xf4, 0x62, 0xcd, 0xcf, 0x84, 0xe0, 0xf1, 0xd6, 0x04, 0x5d, 0xfc, 0xbb,
}

// DecodeMillisTimestamp decodes a SCALE u64 millisecond epoch into a UTC time.
func DecodeMillisTimestamp(raw []byte) (time.Time, error) {
	if len(raw) != 8 {
		return time.Time{}, fmt.Errorf("decode timestamp: expected 8 bytes, got %d", len(raw))
	}
	millis := binary.LittleEndian.Uint64(raw)
	if millis > uint64(1<<63-1) {
		return time.Time{}, fmt.Errorf("decode timestamp: %d overflows int64", millis)
	}
	return time.UnixMilli(int64(millis)).UTC(), nil
}
