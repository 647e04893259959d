// Package base58 implements the CryptoNote flavour of Base58, which encodes
// data in independent 8 byte blocks so that the output length depends only
// on the input length.
package base58

import (
	"strings"

	"trtl-signer/internal/status"
)

const (
	alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	fullBlockSize        = 8
	fullEncodedBlockSize = 11
)

// encodedBlockSizes maps a block length in bytes to its encoded length.
var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var alphabetIndex [256]int8

func init() {
	for i := range alphabetIndex {
		alphabetIndex[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		alphabetIndex[alphabet[i]] = int8(i)
	}
}

// EncodedLen returns the encoded length for n input bytes.
func EncodedLen(n int) int {
	return (n/fullBlockSize)*fullEncodedBlockSize + encodedBlockSizes[n%fullBlockSize]
}

// Encode returns the Base58 encoding of data.
func Encode(data []byte) string {
	var sb strings.Builder
	sb.Grow(EncodedLen(len(data)))
	for len(data) > 0 {
		n := min(len(data), fullBlockSize)
		encodeBlock(&sb, data[:n])
		data = data[n:]
	}
	return sb.String()
}

func encodeBlock(sb *strings.Builder, block []byte) {
	var num uint64
	for _, b := range block {
		num = num<<8 | uint64(b)
	}

	size := encodedBlockSizes[len(block)]
	out := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		out[i] = alphabet[num%58]
		num /= 58
	}
	sb.Write(out)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	full := len(s) / fullEncodedBlockSize
	rest := len(s) % fullEncodedBlockSize

	restBytes := -1
	for i, size := range encodedBlockSizes {
		if size == rest {
			restBytes = i
			break
		}
	}
	if restBytes < 0 {
		return nil, status.New(status.CodeBase58, "base58 decode: invalid length")
	}

	out := make([]byte, 0, full*fullBlockSize+restBytes)
	for i := 0; i < full; i++ {
		chunk := s[i*fullEncodedBlockSize : (i+1)*fullEncodedBlockSize]
		block, err := decodeBlock(chunk, fullBlockSize)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	if rest > 0 {
		block, err := decodeBlock(s[full*fullEncodedBlockSize:], restBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

func decodeBlock(chunk string, size int) ([]byte, error) {
	var num uint64
	for i := 0; i < len(chunk); i++ {
		digit := alphabetIndex[chunk[i]]
		if digit < 0 {
			return nil, status.New(status.CodeBase58, "base58 decode: invalid character")
		}
		hi := num >> 32
		lo := (num&0xffffffff)*58 + uint64(digit)
		hi = hi*58 + lo>>32
		if hi>>32 != 0 {
			return nil, status.New(status.CodeBase58, "base58 decode: block overflow")
		}
		num = hi<<32 | lo&0xffffffff
	}
	if size < fullBlockSize && num>>(8*uint(size)) != 0 {
		return nil, status.New(status.CodeBase58, "base58 decode: block overflow")
	}

	block := make([]byte, size)
	for i := size - 1; i >= 0; i-- {
		block[i] = byte(num)
		num >>= 8
	}
	return block, nil
}
