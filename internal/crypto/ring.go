package crypto

import (
	"fmt"

	"trtl-signer/internal/status"
)

// ringBufferSize is the prefix hash followed by one (L, R) pair per member.
const ringBufferSize = KeySize + RingSize*2*KeySize

func checkRealIndex(realIndex int) error {
	if realIndex < 0 || realIndex >= RingSize {
		return status.New(status.CodeOutOfRange, fmt.Sprintf("real output index %d outside ring of %d", realIndex, RingSize))
	}
	return nil
}

// PrepareRingSignatures builds a ring signature over prefix where member
// realIndex is the signer. Every decoy slot is complete; the real slot carries its
// challenge with a zero response, to be filled by CompleteRingSignature with
// the returned nonce k.
func PrepareRingSignatures(prefix, image Key, pubs [RingSize]Key, realIndex int) (RingSignature, Key, error) {
	var sigs RingSignature
	if err := checkRealIndex(realIndex); err != nil {
		return sigs, Key{}, err
	}

	fail := func(err error) (RingSignature, Key, error) {
		return RingSignature{}, Key{}, status.Wrap(status.CodeGenerateRingSigs, "prepare ring signatures", err)
	}

	buf := make([]byte, 0, ringBufferSize)
	buf = append(buf, prefix[:]...)

	var sum, k Key
	for i, pub := range pubs {
		hp, err := HashToPoint(pub)
		if err != nil {
			k.Wipe()
			return fail(err)
		}

		var l, r Key
		if i == realIndex {
			k, err = RandomScalar()
			if err != nil {
				return fail(err)
			}
			l = ScalarMultBase(k)
			r, err = ScalarMult(hp, k)
			if err != nil {
				k.Wipe()
				return fail(err)
			}
		} else {
			c, err := RandomScalar()
			if err != nil {
				k.Wipe()
				return fail(err)
			}
			s, err := RandomScalar()
			if err != nil {
				k.Wipe()
				return fail(err)
			}
			if l, err = DoubleScalarMultBase(c, pub, s); err != nil {
				k.Wipe()
				return fail(err)
			}
			if r, err = DoubleScalarMult(s, hp, c, image); err != nil {
				k.Wipe()
				return fail(err)
			}
			sigs[i].set(c, s)
			sum = ScalarAdd(sum, c)
		}
		buf = append(buf, l[:]...)
		buf = append(buf, r[:]...)
	}

	h := HashToScalar(buf)
	sigs[realIndex].set(ScalarSub(h, sum), Key{})
	return sigs, k, nil
}

// CompleteRingSignature fills the response of a prepared real slot:
// r = k - c*x.
func CompleteRingSignature(sig *Signature, k, x Key) {
	r := ScalarMulSub(sig.C(), x, k)
	sig.set(sig.C(), r)
	r.Wipe()
}

// GenerateRingSignatures prepares and completes a ring signature in one step.
func GenerateRingSignatures(prefix, image Key, pubs [RingSize]Key, realIndex int, x Key) (RingSignature, error) {
	sigs, k, err := PrepareRingSignatures(prefix, image, pubs, realIndex)
	if err != nil {
		return RingSignature{}, err
	}
	defer k.Wipe()
	CompleteRingSignature(&sigs[realIndex], k, x)
	return sigs, nil
}

// CheckRingSignatures verifies sigs against the ring and key image.
func CheckRingSignatures(prefix, image Key, pubs [RingSize]Key, sigs RingSignature) (bool, error) {
	if _, err := point(image); err != nil {
		return false, status.Wrap(status.CodeCheckRingSigs, "check ring signatures", err)
	}

	buf := make([]byte, 0, ringBufferSize)
	buf = append(buf, prefix[:]...)

	var sum Key
	for i, pub := range pubs {
		c, r := sigs[i].C(), sigs[i].R()
		if !CheckScalar(c) || !CheckScalar(r) {
			return false, nil
		}
		hp, err := HashToPoint(pub)
		if err != nil {
			return false, status.Wrap(status.CodeCheckRingSigs, "check ring signatures", err)
		}
		l, err := DoubleScalarMultBase(c, pub, r)
		if err != nil {
			return false, status.Wrap(status.CodeCheckRingSigs, "check ring signatures", err)
		}
		rr, err := DoubleScalarMult(r, hp, c, image)
		if err != nil {
			return false, status.Wrap(status.CodeCheckRingSigs, "check ring signatures", err)
		}
		buf = append(buf, l[:]...)
		buf = append(buf, rr[:]...)
		sum = ScalarAdd(sum, c)
	}

	h := HashToScalar(buf)
	return ScalarSub(h, sum) == Key{}, nil
}
