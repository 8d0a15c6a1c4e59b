package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToHash32 decodes a 32 byte hash, with or without 0x prefix.
func HexToHash32(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash %q is %d bytes, want %d", s, len(raw), len(h))
	}
	copy(h[:], raw)
	return h, nil
}
