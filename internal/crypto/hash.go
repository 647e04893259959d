package crypto

import (
	"encoding/hex"

	"filippo.io/edwards25519"
	"filippo.io/edwards25519/field"
	"golang.org/x/crypto/sha3"

	"trtl-signer/internal/status"
)

// Field constants of the CryptoNote hash-to-point map, given big-endian.
var (
	feFFFB1  = mustFieldBE("7e71fbefdad61b1720a9c53741fb19e3d19404a8b92a738d22a76975321c41ee") // sqrt(-2A(A+2))
	feFFFB2  = mustFieldBE("4d061e0a045a2cf691d451b7c0165fbe51de03460456f7dfd2de6483607c9ae0") // sqrt(2A(A+2))
	feFFFB3  = mustFieldBE("674a110d14c208efb89546403f0da2ed4024ff4ea5964229581b7d8717302c66") // sqrt(-sqrt(-1)A(A+2))
	feFFFB4  = mustFieldBE("1a43f3031067dbf926c0f4887ef7432eee46fc08a13f4a49853d1903b6b39186") // sqrt(sqrt(-1)A(A+2))
	feMA     = mustFieldBE("7ffffffffffffffffffffffffffffffffffffffffffffffffffffffffff892e7") // -A
	feMA2    = mustFieldBE("7fffffffffffffffffffffffffffffffffffffffffffffffffffffc8db3de3c9") // -A^2
	feSqrtM1 = mustFieldBE("2b8324804fc1df0b2b4d00993dfbd7a72f431806ad2fe478c4ee1b274a0ea0b0") // sqrt(-1)
	fe19     = new(field.Element).Mult32(new(field.Element).One(), 19)
)

func mustFieldBE(s string) *field.Element {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		panic("crypto: bad field constant " + s)
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	fe, err := new(field.Element).SetBytes(b)
	if err != nil {
		panic(err)
	}
	return fe
}

// Keccak returns the original Keccak-256 digest (cn_fast_hash) of the
// concatenated inputs.
func Keccak(data ...[]byte) Key {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var k Key
	h.Sum(k[:0])
	return k
}

// HashToScalar returns Keccak(data) reduced modulo l.
func HashToScalar(data ...[]byte) Key {
	digest := Keccak(data...)
	defer digest.Wipe()
	return Reduce(digest)
}

// HashToPoint maps Keccak(data) onto the prime order subgroup.
func HashToPoint(data Key) (Key, error) {
	digest := Keccak(data[:])
	p, err := fromFieldBytes(digest)
	if err != nil {
		return Key{}, err
	}
	return pointKey(p.MultByCofactor(p)), nil
}

// KeyImageGenerator returns Hp(P).
func KeyImageGenerator(pub Key) (Key, error) {
	return HashToPoint(pub)
}

// fromFieldBytes is the CryptoNote ge_fromfe_frombytes_vartime map. All 256
// bits of s are interpreted modulo p.
func fromFieldBytes(s Key) (*edwards25519.Point, error) {
	u, err := new(field.Element).SetBytes(s[:])
	if err != nil {
		return nil, status.Wrap(status.CodeGeFromBytesVartime, "hash to point", err)
	}
	if s[31]&0x80 != 0 {
		// 2^255 = 19 mod p
		u.Add(u, fe19)
	}

	one := new(field.Element).One()
	zero := new(field.Element).Zero()

	v := new(field.Element).Square(u)
	v.Add(v, v) // 2u^2
	w := new(field.Element).Add(v, one)
	x := new(field.Element).Square(w)
	y := new(field.Element).Multiply(feMA2, v)
	x.Add(x, y) // w^2 - 2A^2u^2

	rX := divPowM1(w, x)
	y.Square(rX)
	x.Multiply(y, x)
	y.Subtract(w, x)
	z := new(field.Element).Set(feMA)

	var sign int
	negative := false
	if y.Equal(zero) == 0 {
		y.Add(w, x)
		if y.Equal(zero) == 0 {
			negative = true
		} else {
			rX.Multiply(rX, feFFFB1)
		}
	} else {
		rX.Multiply(rX, feFFFB2)
	}

	if negative {
		x.Multiply(x, feSqrtM1)
		y.Subtract(w, x)
		if y.Equal(zero) == 0 {
			rX.Multiply(rX, feFFFB3)
		} else {
			rX.Multiply(rX, feFFFB4)
		}
		sign = 1
	} else {
		rX.Multiply(rX, u)
		z.Multiply(z, v)
		sign = 0
	}

	if rX.IsNegative() != sign {
		rX.Negate(rX)
	}

	rZ := new(field.Element).Add(z, w)
	rY := new(field.Element).Subtract(z, w)
	rX.Multiply(rX, rZ)

	// extended coordinates need T = XY/Z
	rT := new(field.Element).Invert(rZ)
	rT.Multiply(rT, rX)
	rT.Multiply(rT, rY)

	p, err := new(edwards25519.Point).SetExtendedCoordinates(rX, rY, rZ, rT)
	if err != nil {
		return nil, status.Wrap(status.CodeGeFromBytesVartime, "hash to point", err)
	}
	return p, nil
}

// divPowM1 returns u * v^3 * (u * v^7)^((p-5)/8).
func divPowM1(u, v *field.Element) *field.Element {
	v3 := new(field.Element).Square(v)
	v3.Multiply(v3, v)
	uv7 := new(field.Element).Square(v3)
	uv7.Multiply(uv7, v)
	uv7.Multiply(uv7, u)

	r := new(field.Element).Pow22523(uv7)
	r.Multiply(r, v3)
	r.Multiply(r, u)
	return r
}
