package crypto

import (
	"trtl-signer/internal/status"
)

// GenerateSignature produces a Schnorr signature over a 32 byte message:
// c = Hs(m || P || kG), r = k - c*x.
func GenerateSignature(message, pub, priv Key) (Signature, error) {
	k, err := RandomScalar()
	if err != nil {
		return Signature{}, status.Wrap(status.CodeGenerateSignature, "generate signature", err)
	}
	defer k.Wipe()

	comm := ScalarMultBase(k)
	c := HashToScalar(message[:], pub[:], comm[:])
	r := ScalarMulSub(c, priv, k)

	var sig Signature
	sig.set(c, r)
	r.Wipe()
	return sig, nil
}

// CheckSignature verifies a signature produced by GenerateSignature.
func CheckSignature(message, pub Key, sig Signature) (bool, error) {
	c, r := sig.C(), sig.R()
	if !CheckScalar(c) || !CheckScalar(r) {
		return false, nil
	}
	comm, err := DoubleScalarMultBase(c, pub, r)
	if err != nil {
		return false, status.Wrap(status.CodeCheckSignature, "check signature", err)
	}
	h := HashToScalar(message[:], pub[:], comm[:])
	return ScalarSub(h, c) == Key{}, nil
}
