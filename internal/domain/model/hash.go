package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HashLength is the byte length of block, state and extrinsics hashes.
const HashLength = 32

// Hash is a 32-byte Blake2 digest as used by Substrate headers.
type Hash [HashLength]byte

// ParseHash decodes a 0x-prefixed (or bare) hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return h, fmt.Errorf("decode hash %q: %w", s, err)
	}
	if len(raw) != HashLength {
		return h, fmt.Errorf("decode hash %q: expected %d bytes, got %d", s, HashLength, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// HashFromBytes copies b into a Hash. b must be exactly HashLength bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("hash from bytes: expected %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
