package device

import (
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/status"
)

// withKeys runs fn with a copy of the wallet keys and wipes the copy after
func (d *Device) withKeys(fn func(keys crypto.WalletKeys) error) error {
	keys := d.wallet.Keys()
	defer keys.ViewPrivate.Wipe()
	defer keys.SpendPrivate.Wipe()
	return fn(keys)
}

// withEphemeral recovers the one-time key pair of an owned output from the
// transaction public key
func (d *Device) withEphemeral(txPub crypto.Key, outputIndex uint32, outputKey crypto.Key, fn func(eph crypto.KeyPair) error) error {
	return d.withKeys(func(keys crypto.WalletKeys) error {
		eph, err := crypto.EphemeralKeys(txPub, uint64(outputIndex), outputKey, keys)
		if err != nil {
			return err
		}
		defer eph.Private.Wipe()
		return fn(eph)
	})
}

// GenerateKeyDerivation returns 8·a·R for the wallet view key a
func (d *Device) GenerateKeyDerivation(txPub crypto.Key) (crypto.Key, error) {
	var out crypto.Key
	err := d.withKeys(func(keys crypto.WalletKeys) error {
		var err error
		out, err = crypto.GenerateKeyDerivation(txPub, keys.ViewPrivate)
		return err
	})
	return out, err
}

// DerivePublicKey returns the one-time public key for output n
func (d *Device) DerivePublicKey(derivation crypto.Key, outputIndex uint32) (crypto.Key, error) {
	return crypto.DerivePublicKey(derivation, uint64(outputIndex), d.wallet.SpendPublic())
}

// DeriveSecretKey returns the one-time private key for output n
func (d *Device) DeriveSecretKey(derivation crypto.Key, outputIndex uint32) (crypto.Key, error) {
	var out crypto.Key
	err := d.withKeys(func(keys crypto.WalletKeys) error {
		var err error
		out, err = crypto.DeriveSecretKey(derivation, uint64(outputIndex), keys.SpendPrivate)
		return err
	})
	return out, err
}

// GenerateKeyImage returns the key image of an owned output
func (d *Device) GenerateKeyImage(txPub crypto.Key, outputIndex uint32, outputKey crypto.Key) (crypto.Key, error) {
	var image crypto.Key
	err := d.withEphemeral(txPub, outputIndex, outputKey, func(eph crypto.KeyPair) error {
		var err error
		image, err = keyImage(eph)
		return err
	})
	return image, err
}

// GenerateKeyImagePrimitive is GenerateKeyImage starting from a derivation
func (d *Device) GenerateKeyImagePrimitive(derivation crypto.Key, outputIndex uint32, outputKey crypto.Key) (crypto.Key, error) {
	var image crypto.Key
	err := d.withKeys(func(keys crypto.WalletKeys) error {
		eph, err := crypto.EphemeralFromDerivation(derivation, uint64(outputIndex), outputKey, keys)
		if err != nil {
			return err
		}
		defer eph.Private.Wipe()
		image, err = keyImage(eph)
		return err
	})
	return image, err
}

func keyImage(eph crypto.KeyPair) (crypto.Key, error) {
	return crypto.GenerateKeyImage(eph.Public, eph.Private)
}

// GenerateRingSignatures signs prefix with the owned output hidden at
// realIndex among pubs
func (d *Device) GenerateRingSignatures(txPub crypto.Key, outputIndex uint32, outputKey, prefix crypto.Key,
	pubs [crypto.RingSize]crypto.Key, realIndex uint32) (crypto.RingSignature, error) {
	var sigs crypto.RingSignature
	if realIndex >= crypto.RingSize {
		return sigs, status.New(status.CodeOutOfRange, "generate ring signatures")
	}
	err := d.withEphemeral(txPub, outputIndex, outputKey, func(eph crypto.KeyPair) error {
		image, err := keyImage(eph)
		if err != nil {
			return err
		}
		sigs, err = crypto.GenerateRingSignatures(prefix, image, pubs, int(realIndex), eph.Private)
		return err
	})
	return sigs, err
}

// CompleteRingSignature fills r of a prepared signature for the owned
// output using the caller's nonce k
func (d *Device) CompleteRingSignature(txPub crypto.Key, outputIndex uint32, outputKey, k crypto.Key,
	sig crypto.Signature) (crypto.Signature, error) {
	err := d.withEphemeral(txPub, outputIndex, outputKey, func(eph crypto.KeyPair) error {
		crypto.CompleteRingSignature(&sig, k, eph.Private)
		return nil
	})
	if err != nil {
		return crypto.Signature{}, err
	}
	return sig, nil
}

// GenerateSignature signs message with the wallet spend key
func (d *Device) GenerateSignature(message crypto.Key) (crypto.Signature, error) {
	spend := d.wallet.SpendKeyPair()
	defer spend.Private.Wipe()
	return crypto.GenerateSignature(message, spend.Public, spend.Private)
}
