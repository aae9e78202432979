package ir

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TxHashSize is the length in bytes of a transaction hash.
const TxHashSize = 32

// TxHash identifies a transaction.
type TxHash [TxHashSize]byte

// SerialID identifies a priority operation. Serial ids are assigned
// monotonically by the upstream queue and never reused.
type SerialID uint64

// ParseTxHash decodes a 64 character hex string, with or without a 0x prefix.
func ParseTxHash(s string) (TxHash, error) {
	var h TxHash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != hex.EncodedLen(TxHashSize) {
		return h, fmt.Errorf("parse tx hash: want %d hex chars, got %d", hex.EncodedLen(TxHashSize), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("parse tx hash: %w", err)
	}
	return h, nil
}

// MustParseTxHash is like ParseTxHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseTxHash(s string) TxHash {
	h, err := ParseTxHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// String returns the lowercase hex encoding without prefix.
func (h TxHash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare orders hashes bytewise.
func (h TxHash) Compare(other TxHash) int {
	for i := range h {
		switch {
		case h[i] < other[i]:
			return -1
		case h[i] > other[i]:
			return 1
		}
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (h TxHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// yaml.v3 and encoding/json both route scalar decoding through it.
func (h *TxHash) UnmarshalText(text []byte) error {
	parsed, err := ParseTxHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
