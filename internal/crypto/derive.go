package crypto

import (
	"trtl-signer/internal/status"
	"trtl-signer/internal/varint"
)

// GenerateKeyPair returns a random private scalar and its public point.
func GenerateKeyPair() (KeyPair, error) {
	priv, err := RandomScalar()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: ScalarMultBase(priv), Private: priv}, nil
}

// PrivateToPublic returns priv*G.
func PrivateToPublic(priv Key) Key {
	return ScalarMultBase(priv)
}

// ViewKeyFromSpend derives the private view key Hs(spend).
func ViewKeyFromSpend(spendPriv Key) Key {
	return HashToScalar(spendPriv[:])
}

// GenerateKeyDerivation returns D = 8 * (a * R) for the transaction public
// key R and the private view key a.
func GenerateKeyDerivation(txPub, viewPriv Key) (Key, error) {
	shared, err := ScalarMult(txPub, viewPriv)
	if err != nil {
		return Key{}, status.Wrap(status.CodeKeyDerivation, "generate key derivation", err)
	}
	defer shared.Wipe()
	d, err := Mul8(shared)
	if err != nil {
		return Key{}, status.Wrap(status.CodeKeyDerivation, "generate key derivation", err)
	}
	return d, nil
}

// DerivationToScalar returns Hs(D || varint(n)).
func DerivationToScalar(derivation Key, outputIndex uint64) (Key, error) {
	buf := make([]byte, 0, KeySize+varint.MaxLength)
	buf = append(buf, derivation[:]...)
	buf, err := varint.AppendEncode(buf, outputIndex, varint.MaxLength)
	if err != nil {
		return Key{}, err
	}
	defer Wipe(buf)
	return HashToScalar(buf), nil
}

// DerivePublicKey returns Hs(D || n)G + B.
func DerivePublicKey(derivation Key, outputIndex uint64, spendPub Key) (Key, error) {
	s, err := DerivationToScalar(derivation, outputIndex)
	if err != nil {
		return Key{}, status.Wrap(status.CodeDerivePubkey, "derive public key", err)
	}
	defer s.Wipe()
	p, err := PointAdd(ScalarMultBase(s), spendPub)
	if err != nil {
		return Key{}, status.Wrap(status.CodeDerivePubkey, "derive public key", err)
	}
	return p, nil
}

// DeriveSecretKey returns Hs(D || n) + b.
func DeriveSecretKey(derivation Key, outputIndex uint64, spendPriv Key) (Key, error) {
	s, err := DerivationToScalar(derivation, outputIndex)
	if err != nil {
		return Key{}, status.Wrap(status.CodeDeriveSeckey, "derive secret key", err)
	}
	defer s.Wipe()
	return ScalarAdd(s, spendPriv), nil
}

// GenerateKeyImage returns I = x * Hp(P).
func GenerateKeyImage(pub, priv Key) (Key, error) {
	hp, err := HashToPoint(pub)
	if err != nil {
		return Key{}, status.Wrap(status.CodeGenerateKeyImage, "generate key image", err)
	}
	image, err := ScalarMult(hp, priv)
	if err != nil {
		return Key{}, status.Wrap(status.CodeGenerateKeyImage, "generate key image", err)
	}
	return image, nil
}

// WalletKeys is the key material needed to recognise and spend outputs.
type WalletKeys struct {
	ViewPrivate  Key
	SpendPrivate Key
	SpendPublic  Key
}

// EphemeralFromDerivation derives the one-time key pair for output n of a
// transaction and checks that its public half equals outputKey. A mismatch
// means the output does not belong to the wallet.
func EphemeralFromDerivation(derivation Key, outputIndex uint64, outputKey Key, keys WalletKeys) (KeyPair, error) {
	pub, err := DerivePublicKey(derivation, outputIndex, keys.SpendPublic)
	if err != nil {
		return KeyPair{}, err
	}
	if pub != outputKey {
		return KeyPair{}, status.New(status.CodePubkeyMismatch, "derive ephemeral")
	}
	priv, err := DeriveSecretKey(derivation, outputIndex, keys.SpendPrivate)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// EphemeralKeys is EphemeralFromDerivation starting from the transaction
// public key.
func EphemeralKeys(txPub Key, outputIndex uint64, outputKey Key, keys WalletKeys) (KeyPair, error) {
	derivation, err := GenerateKeyDerivation(txPub, keys.ViewPrivate)
	if err != nil {
		return KeyPair{}, err
	}
	defer derivation.Wipe()
	return EphemeralFromDerivation(derivation, outputIndex, outputKey, keys)
}
