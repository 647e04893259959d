package base58

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"trtl-signer/internal/status"
)

func TestEncodeBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"single zero byte", []byte{0x00}, "11"},
		{"single max byte", []byte{0xff}, "5Q"},
		{"full zero block", make([]byte, 8), "11111111111"},
		{"full max block", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "jpXCZedGfVQ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.in))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for n := 0; n <= 80; n++ {
		data := make([]byte, n)
		_, err := rand.Read(data)
		require.NoError(t, err)

		encoded := Encode(data)
		assert.Len(t, encoded, EncodedLen(n))

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded, "length %d", n)
	}
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	t.Run("invalid character", func(t *testing.T) {
		_, err := Decode("0O")
		assert.True(t, status.Is(err, status.CodeBase58))
	})

	t.Run("invalid length", func(t *testing.T) {
		_, err := Decode("1")
		assert.True(t, status.Is(err, status.CodeBase58))
	})

	t.Run("block overflow", func(t *testing.T) {
		_, err := Decode("zz")
		assert.True(t, status.Is(err, status.CodeBase58))
	})

	t.Run("full block overflow", func(t *testing.T) {
		_, err := Decode("zzzzzzzzzzz")
		assert.True(t, status.Is(err, status.CodeBase58))
	})
}

func TestAddress(t *testing.T) {
	var spend, view [32]byte
	_, err := rand.Read(spend[:])
	require.NoError(t, err)
	_, err = rand.Read(view[:])
	require.NoError(t, err)

	addr := EncodeAddress(TurtleCoinPrefix, spend, view)
	assert.Len(t, addr, 99)
	assert.Equal(t, 99, AddressLength)
	assert.True(t, strings.HasPrefix(addr, "TRTL"))

	t.Run("round trip recovers keys and checksum", func(t *testing.T) {
		gotSpend, gotView, err := DecodeAddress(addr, TurtleCoinPrefix)
		require.NoError(t, err)
		assert.Equal(t, spend, gotSpend)
		assert.Equal(t, view, gotView)

		raw, err := Decode(addr)
		require.NoError(t, err)
		require.Len(t, raw, 72)

		h := sha3.NewLegacyKeccak256()
		h.Write(raw[:68])
		assert.Equal(t, h.Sum(nil)[:4], raw[68:])
	})

	t.Run("corrupted checksum is rejected", func(t *testing.T) {
		raw, err := Decode(addr)
		require.NoError(t, err)
		raw[71] ^= 0x01
		_, _, err = DecodeAddress(Encode(raw), TurtleCoinPrefix)
		assert.True(t, status.Is(err, status.CodeAddress))
	})

	t.Run("wrong prefix is rejected", func(t *testing.T) {
		_, _, err := DecodeAddress(addr, []byte{0x12, 0x34, 0x56, 0x01})
		assert.True(t, status.Is(err, status.CodeAddress))
	})
}

func TestAddressKnownAnswer(t *testing.T) {
	var spend, view [32]byte
	_, err := hex.Decode(spend[:], []byte("da3a4488a052c0dae2d92034a6537b072975daf50c8847a70a55b03f07a496f4"))
	require.NoError(t, err)
	_, err = hex.Decode(view[:], []byte("3f7d4bcd4cd60462be20255e153549caa545f4ee691bec5c229c7ace1a296dba"))
	require.NoError(t, err)

	const want = "TRTLv34Ag7RTpLWfd2ixVhUpa9TZzAPe436acCYTs8Yn2H9U5HkPAkkDrQX5GjZ63w4YkFWMMCNUdJah18sqbB1P5NoYhucguNj"
	assert.Equal(t, want, EncodeAddress(TurtleCoinPrefix, spend, view))
}
