// Package varint implements the 7-bit little-endian variable length integer
// encoding used by CryptoNote serialization, bounded by a caller supplied
// byte budget.
package varint

import (
	"trtl-signer/internal/status"
)

// MaxLength is the budget that always fits a uint64.
const MaxLength = 10

// Encode serializes value using at most maxLength bytes.
func Encode(value uint64, maxLength int) ([]byte, error) {
	return AppendEncode(make([]byte, 0, Size(value)), value, maxLength)
}

// AppendEncode appends the encoding of value to dst.
func AppendEncode(dst []byte, value uint64, maxLength int) ([]byte, error) {
	if Size(value) > maxLength {
		return dst, status.New(status.CodeVarintDataRange, "varint encode")
	}
	for value >= 0x80 {
		dst = append(dst, byte(value)|0x80)
		value >>= 7
	}
	return append(dst, byte(value)), nil
}

// Decode reads one value from the start of data and returns it together
// with the number of bytes consumed.
func Decode(data []byte, maxLength int) (uint64, int, error) {
	var value uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		if i >= maxLength || i >= MaxLength {
			return 0, 0, status.New(status.CodeVarintDataRange, "varint decode")
		}
		b := data[i]
		if i == MaxLength-1 && b > 1 {
			return 0, 0, status.New(status.CodeVarintDataRange, "varint decode")
		}
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, status.New(status.CodeVarintDataRange, "varint decode")
}

// Size returns the number of bytes needed to encode value.
func Size(value uint64) int {
	n := 1
	for value >= 0x80 {
		value >>= 7
		n++
	}
	return n
}
