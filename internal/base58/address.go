package base58

import (
	"bytes"

	"golang.org/x/crypto/sha3"

	"trtl-signer/internal/status"
)

const (
	// ChecksumSize is the number of Keccak-256 bytes appended to an address.
	ChecksumSize = 4
	keySize      = 32
)

// TurtleCoinPrefix is the varint encoded TurtleCoin address prefix (3914525).
var TurtleCoinPrefix = []byte{157, 246, 238, 1}

// AddressLength is the encoded length of a standard TurtleCoin address.
var AddressLength = EncodedLen(len(TurtleCoinPrefix) + 2*keySize + ChecksumSize)

func checksum(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)[:ChecksumSize]
}

// EncodeAddress builds prefix || spend || view || checksum and encodes it.
func EncodeAddress(prefix []byte, spendPub, viewPub [32]byte) string {
	raw := make([]byte, 0, len(prefix)+2*keySize+ChecksumSize)
	raw = append(raw, prefix...)
	raw = append(raw, spendPub[:]...)
	raw = append(raw, viewPub[:]...)
	raw = append(raw, checksum(raw)...)
	return Encode(raw)
}

// DecodeAddress validates an address against prefix and returns its public
// spend and view keys.
func DecodeAddress(addr string, prefix []byte) (spendPub, viewPub [32]byte, err error) {
	raw, err := Decode(addr)
	if err != nil {
		return spendPub, viewPub, err
	}
	if len(raw) != len(prefix)+2*keySize+ChecksumSize {
		return spendPub, viewPub, status.New(status.CodeAddress, "decode address: invalid length")
	}
	if !bytes.HasPrefix(raw, prefix) {
		return spendPub, viewPub, status.New(status.CodeAddress, "decode address: prefix mismatch")
	}

	body := raw[:len(raw)-ChecksumSize]
	if !bytes.Equal(checksum(body), raw[len(raw)-ChecksumSize:]) {
		return spendPub, viewPub, status.New(status.CodeAddress, "decode address: checksum mismatch")
	}

	copy(spendPub[:], body[len(prefix):])
	copy(viewPub[:], body[len(prefix)+keySize:])
	return spendPub, viewPub, nil
}
