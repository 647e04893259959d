// Package crypto implements the CryptoNote primitives used by the signer:
// scalar and point arithmetic over Ed25519, hashing onto the curve, key
// derivation, key images, and Schnorr and ring signatures.
//
// Scalars are 32 byte little-endian values reduced modulo the group order l.
// Points are 32 byte compressed Ed25519 encodings.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/edwards25519"

	"trtl-signer/internal/status"
)

const (
	// KeySize is the size of a scalar or a compressed point.
	KeySize = 32
	// SignatureSize is the size of a (c, r) signature pair.
	SignatureSize = 64
	// RingSize is the number of participants in a ring signature.
	RingSize = 4
)

// Key is either a scalar or a compressed point.
type Key [KeySize]byte

// Signature holds the challenge c followed by the response r.
type Signature [SignatureSize]byte

// RingSignature holds one signature per ring participant.
type RingSignature [RingSize]Signature

// KeyPair is a private scalar and its public point.
type KeyPair struct {
	Public  Key
	Private Key
}

// randReader is the entropy source for scalars. Tests may replace it.
var randReader io.Reader = rand.Reader

// KeyFromBytes copies a 32 byte slice into a Key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, status.New(status.CodeWrongInputLength, fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(b)))
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromHex parses a 64 character hex string.
func KeyFromHex(s string) (Key, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, status.Wrap(status.CodeWrongInputLength, "parse key", err)
	}
	return KeyFromBytes(b)
}

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// C returns the challenge half of the signature.
func (s *Signature) C() Key {
	var k Key
	copy(k[:], s[:KeySize])
	return k
}

// R returns the response half of the signature.
func (s *Signature) R() Key {
	var k Key
	copy(k[:], s[KeySize:])
	return k
}

func (s *Signature) set(c, r Key) {
	copy(s[:KeySize], c[:])
	copy(s[KeySize:], r[:])
}

// scalar loads k reduced modulo l.
func scalar(k Key) *edwards25519.Scalar {
	var wide [64]byte
	copy(wide[:], k[:])
	// SetUniformBytes only fails on a wrong input length.
	s, _ := edwards25519.NewScalar().SetUniformBytes(wide[:])
	Wipe(wide[:])
	return s
}

func scalarKey(s *edwards25519.Scalar) Key {
	var k Key
	copy(k[:], s.Bytes())
	return k
}

func point(p Key) (*edwards25519.Point, error) {
	pt, err := new(edwards25519.Point).SetBytes(p[:])
	if err != nil {
		return nil, status.Wrap(status.CodeGeFromBytesVartime, "decompress point", err)
	}
	return pt, nil
}

func pointKey(p *edwards25519.Point) Key {
	var k Key
	copy(k[:], p.Bytes())
	return k
}

// Reduce returns s mod l.
func Reduce(s Key) Key {
	return scalarKey(scalar(s))
}

// ScalarAdd returns a + b mod l.
func ScalarAdd(a, b Key) Key {
	return scalarKey(edwards25519.NewScalar().Add(scalar(a), scalar(b)))
}

// ScalarSub returns a - b mod l.
func ScalarSub(a, b Key) Key {
	return scalarKey(edwards25519.NewScalar().Subtract(scalar(a), scalar(b)))
}

// ScalarMul returns a * b mod l.
func ScalarMul(a, b Key) Key {
	return scalarKey(edwards25519.NewScalar().Multiply(scalar(a), scalar(b)))
}

// ScalarMulSub returns c - a*b mod l.
func ScalarMulSub(a, b, c Key) Key {
	neg := edwards25519.NewScalar().Negate(scalar(a))
	return scalarKey(edwards25519.NewScalar().MultiplyAdd(neg, scalar(b), scalar(c)))
}

// CheckScalar reports whether s is already fully reduced.
func CheckScalar(s Key) bool {
	reduced := Reduce(s)
	ok := reduced == s
	reduced.Wipe()
	return ok
}

// CheckKey reports whether k looks like a public key rather than a scalar.
func CheckKey(k Key) bool {
	return !CheckScalar(k)
}

// RandomScalar returns a uniformly distributed scalar.
func RandomScalar() (Key, error) {
	var wide [64]byte
	defer Wipe(wide[:])
	if _, err := io.ReadFull(randReader, wide[:]); err != nil {
		return Key{}, status.Wrap(status.CodeUnknown, "random scalar", err)
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		return Key{}, status.Wrap(status.CodeUnknown, "random scalar", err)
	}
	return scalarKey(s), nil
}

// ScalarMultBase returns a*G.
func ScalarMultBase(a Key) Key {
	return pointKey(new(edwards25519.Point).ScalarBaseMult(scalar(a)))
}

// ScalarMult returns a*P.
func ScalarMult(p, a Key) (Key, error) {
	pt, err := point(p)
	if err != nil {
		return Key{}, err
	}
	return pointKey(new(edwards25519.Point).ScalarMult(scalar(a), pt)), nil
}

// PointAdd returns P + Q.
func PointAdd(p, q Key) (Key, error) {
	pp, err := point(p)
	if err != nil {
		return Key{}, err
	}
	qq, err := point(q)
	if err != nil {
		return Key{}, err
	}
	return pointKey(new(edwards25519.Point).Add(pp, qq)), nil
}

// Mul8 returns 8*P.
func Mul8(p Key) (Key, error) {
	pt, err := point(p)
	if err != nil {
		return Key{}, err
	}
	return pointKey(new(edwards25519.Point).MultByCofactor(pt)), nil
}

// DoubleScalarMultBase returns a*P + b*G.
func DoubleScalarMultBase(a, p, b Key) (Key, error) {
	pt, err := point(p)
	if err != nil {
		return Key{}, err
	}
	return pointKey(new(edwards25519.Point).VarTimeDoubleScalarBaseMult(scalar(a), pt, scalar(b))), nil
}

// DoubleScalarMult returns a*P + b*Q.
func DoubleScalarMult(a, p, b, q Key) (Key, error) {
	pp, err := point(p)
	if err != nil {
		return Key{}, err
	}
	qq, err := point(q)
	if err != nil {
		return Key{}, err
	}
	r := new(edwards25519.Point).VarTimeMultiScalarMult(
		[]*edwards25519.Scalar{scalar(a), scalar(b)},
		[]*edwards25519.Point{pp, qq},
	)
	return pointKey(r), nil
}
