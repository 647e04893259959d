package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trtl-signer/internal/status"
)

func mustKeyPair(t *testing.T) KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func TestKeccak(t *testing.T) {
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak().String())
	assert.Equal(t, Keccak([]byte("ab")), Keccak([]byte("a"), []byte("b")))
}

func TestScalarArithmetic(t *testing.T) {
	a, err := RandomScalar()
	require.NoError(t, err)
	b, err := RandomScalar()
	require.NoError(t, err)

	assert.True(t, CheckScalar(a))
	assert.Equal(t, a, ScalarSub(ScalarAdd(a, b), b))
	assert.Equal(t, ScalarSub(b, ScalarMul(a, b)), ScalarMulSub(a, b, b))

	var unreduced Key
	for i := range unreduced {
		unreduced[i] = 0xff
	}
	assert.False(t, CheckScalar(unreduced))
	assert.True(t, CheckKey(unreduced))
	assert.True(t, CheckScalar(Reduce(unreduced)))
}

func TestScalarMultBase(t *testing.T) {
	var one Key
	one[0] = 1
	assert.Equal(t, "5866666666666666666666666666666666666666666666666666666666666666", ScalarMultBase(one).String())

	a, err := RandomScalar()
	require.NoError(t, err)
	b, err := RandomScalar()
	require.NoError(t, err)

	// (a+b)G = aG + bG
	sum, err := PointAdd(ScalarMultBase(a), ScalarMultBase(b))
	require.NoError(t, err)
	assert.Equal(t, ScalarMultBase(ScalarAdd(a, b)), sum)

	// aP + bG with P = G equals (a+b)G
	g := ScalarMultBase(one)
	combined, err := DoubleScalarMultBase(a, g, b)
	require.NoError(t, err)
	assert.Equal(t, sum, combined)

	combined, err = DoubleScalarMult(a, g, b, g)
	require.NoError(t, err)
	assert.Equal(t, sum, combined)
}

func TestScalarMultRejectsInvalidPoint(t *testing.T) {
	// y = 2 has no matching x on the curve
	bad := Key{2}
	var one Key
	one[0] = 1

	_, err := ScalarMult(bad, one)
	require.Error(t, err)
	assert.Equal(t, status.CodeGeFromBytesVartime, status.CodeOf(err))
}

func TestHashToPoint(t *testing.T) {
	for i := 0; i < 32; i++ {
		var in Key
		in[0] = byte(i)
		in[31] = byte(i * 7)

		p1, err := HashToPoint(in)
		require.NoError(t, err)
		p2, err := HashToPoint(in)
		require.NoError(t, err)
		assert.Equal(t, p1, p2)

		// the result must decode as a curve point
		_, err = point(p1)
		require.NoError(t, err, "input %d", i)
		assert.NotEqual(t, Key{1}, p1)
	}
}

func TestKeyDerivationRoundTrip(t *testing.T) {
	view := mustKeyPair(t)
	spend := mustKeyPair(t)
	txKey := mustKeyPair(t)

	// sender computes 8rA, receiver computes 8aR
	sender, err := GenerateKeyDerivation(view.Public, txKey.Private)
	require.NoError(t, err)
	receiver, err := GenerateKeyDerivation(txKey.Public, view.Private)
	require.NoError(t, err)
	require.Equal(t, sender, receiver)

	for _, n := range []uint64{0, 1, 127, 128, 1 << 40} {
		pub, err := DerivePublicKey(receiver, n, spend.Public)
		require.NoError(t, err)
		priv, err := DeriveSecretKey(receiver, n, spend.Private)
		require.NoError(t, err)
		assert.Equal(t, pub, PrivateToPublic(priv), "output index %d", n)
	}

	a, err := DerivePublicKey(receiver, 0, spend.Public)
	require.NoError(t, err)
	b, err := DerivePublicKey(receiver, 1, spend.Public)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEphemeralKeys(t *testing.T) {
	view := mustKeyPair(t)
	spend := mustKeyPair(t)
	txKey := mustKeyPair(t)
	keys := WalletKeys{ViewPrivate: view.Private, SpendPrivate: spend.Private, SpendPublic: spend.Public}

	d, err := GenerateKeyDerivation(view.Public, txKey.Private)
	require.NoError(t, err)
	outputKey, err := DerivePublicKey(d, 3, spend.Public)
	require.NoError(t, err)

	t.Run("owned output", func(t *testing.T) {
		kp, err := EphemeralKeys(txKey.Public, 3, outputKey, keys)
		require.NoError(t, err)
		assert.Equal(t, outputKey, kp.Public)
		assert.Equal(t, kp.Public, PrivateToPublic(kp.Private))
	})

	t.Run("wrong output index", func(t *testing.T) {
		_, err := EphemeralKeys(txKey.Public, 4, outputKey, keys)
		require.Error(t, err)
		assert.True(t, status.Is(err, status.CodePubkeyMismatch))
	})

	t.Run("foreign output", func(t *testing.T) {
		other := mustKeyPair(t)
		_, err := EphemeralKeys(txKey.Public, 3, other.Public, keys)
		assert.ErrorIs(t, err, status.ErrPubkeyMismatch)
	})
}

func TestGenerateKeyImage(t *testing.T) {
	kp := mustKeyPair(t)

	i1, err := GenerateKeyImage(kp.Public, kp.Private)
	require.NoError(t, err)
	i2, err := GenerateKeyImage(kp.Public, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, i1, i2)

	hp, err := KeyImageGenerator(kp.Public)
	require.NoError(t, err)
	expected, err := ScalarMult(hp, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, expected, i1)

	other := mustKeyPair(t)
	i3, err := GenerateKeyImage(other.Public, other.Private)
	require.NoError(t, err)
	assert.NotEqual(t, i1, i3)
}

func TestSignature(t *testing.T) {
	kp := mustKeyPair(t)
	msg := Keccak([]byte("message"))

	sig, err := GenerateSignature(msg, kp.Public, kp.Private)
	require.NoError(t, err)

	ok, err := CheckSignature(msg, kp.Public, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("flipped message", func(t *testing.T) {
		for bit := 0; bit < 8; bit++ {
			m := msg
			m[bit*4] ^= 1 << bit
			ok, err := CheckSignature(m, kp.Public, sig)
			require.NoError(t, err)
			assert.False(t, ok)
		}
	})

	t.Run("flipped signature", func(t *testing.T) {
		for _, pos := range []int{0, 5, 31, 32, 40, 63} {
			s := sig
			s[pos] ^= 0x01
			ok, _ := CheckSignature(msg, kp.Public, s)
			assert.False(t, ok, "byte %d", pos)
		}
	})

	t.Run("other key", func(t *testing.T) {
		other := mustKeyPair(t)
		ok, err := CheckSignature(msg, other.Public, sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func newRing(t *testing.T, realIndex int) ([RingSize]Key, KeyPair, Key) {
	t.Helper()
	var pubs [RingSize]Key
	var signer KeyPair
	for i := range pubs {
		kp := mustKeyPair(t)
		pubs[i] = kp.Public
		if i == realIndex {
			signer = kp
		}
	}
	image, err := GenerateKeyImage(signer.Public, signer.Private)
	require.NoError(t, err)
	return pubs, signer, image
}

func TestRingSignatures(t *testing.T) {
	prefix := Keccak([]byte("transaction prefix"))

	for realIndex := 0; realIndex < RingSize; realIndex++ {
		pubs, signer, image := newRing(t, realIndex)

		sigs, err := GenerateRingSignatures(prefix, image, pubs, realIndex, signer.Private)
		require.NoError(t, err)

		ok, err := CheckRingSignatures(prefix, image, pubs, sigs)
		require.NoError(t, err)
		assert.True(t, ok, "real index %d", realIndex)

		ok, err = CheckRingSignatures(Keccak([]byte("other prefix")), image, pubs, sigs)
		require.NoError(t, err)
		assert.False(t, ok)

		other := mustKeyPair(t)
		wrongImage, err := GenerateKeyImage(other.Public, other.Private)
		require.NoError(t, err)
		ok, err = CheckRingSignatures(prefix, wrongImage, pubs, sigs)
		require.NoError(t, err)
		assert.False(t, ok)

		swapped := pubs
		swapped[(realIndex+1)%RingSize], swapped[realIndex] = swapped[realIndex], swapped[(realIndex+1)%RingSize]
		ok, err = CheckRingSignatures(prefix, image, swapped, sigs)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestPrepareAndCompleteRingSignature(t *testing.T) {
	prefix := Keccak([]byte("prefix"))
	pubs, signer, image := newRing(t, 2)

	sigs, k, err := PrepareRingSignatures(prefix, image, pubs, 2)
	require.NoError(t, err)
	assert.Equal(t, Key{}, sigs[2].R())

	ok, err := CheckRingSignatures(prefix, image, pubs, sigs)
	require.NoError(t, err)
	assert.False(t, ok)

	CompleteRingSignature(&sigs[2], k, signer.Private)
	ok, err = CheckRingSignatures(prefix, image, pubs, sigs)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRingSignatureRealIndexOutOfRange(t *testing.T) {
	prefix := Keccak([]byte("prefix"))
	pubs, signer, image := newRing(t, 0)

	for _, idx := range []int{-1, RingSize, 255} {
		_, err := GenerateRingSignatures(prefix, image, pubs, idx, signer.Private)
		require.Error(t, err)
		assert.Equal(t, status.CodeOutOfRange, status.CodeOf(err))
	}
}

func TestWipe(t *testing.T) {
	kp := mustKeyPair(t)
	kp.Private.Wipe()
	assert.Equal(t, Key{}, kp.Private)

	var s Signature
	s[0], s[63] = 1, 2
	s.Wipe()
	assert.Equal(t, Signature{}, s)
}

func TestKeyFromHex(t *testing.T) {
	k, err := KeyFromHex("5866666666666666666666666666666666666666666666666666666666666666")
	require.NoError(t, err)
	assert.Equal(t, byte(0x58), k[0])

	_, err = KeyFromHex("zz")
	assert.Error(t, err)
	_, err = KeyFromHex("00")
	assert.Equal(t, status.CodeWrongInputLength, status.CodeOf(err))
}
