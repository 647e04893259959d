package wallet

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"trtl-signer/internal/crypto"
)

const (
	// SeedSize is the size of the secret that the spend key is hashed from
	SeedSize = 32
	// HardenedOffset marks a hardened derivation index
	HardenedOffset uint32 = 0x80000000
	// MnemonicEntropyBits gives a 24 word mnemonic
	MnemonicEntropyBits = 256
)

// DerivationPath is m/44'/1984'/0'/0'/0'.
var DerivationPath = []uint32{
	44 | HardenedOffset,
	1984 | HardenedOffset,
	0 | HardenedOffset,
	0 | HardenedOffset,
	0 | HardenedOffset,
}

// Seed source kinds accepted in configuration
const (
	SourceRandom   = "random"
	SourceMnemonic = "mnemonic"
	SourceHex      = "hex"
)

// SeedSource yields the 32 byte secret that the spend key is derived from.
// The caller wipes the returned slice.
type SeedSource interface {
	SpendSeed() ([]byte, error)
}

// MnemonicSeed derives the seed from a BIP-39 mnemonic along the wallet
// derivation path using SLIP-10 for Ed25519.
type MnemonicSeed struct {
	Mnemonic   string
	Passphrase string
}

// SpendSeed implements SeedSource
func (m MnemonicSeed) SpendSeed() ([]byte, error) {
	mnemonic := strings.Join(strings.Fields(m.Mnemonic), " ")
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, m.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	defer crypto.Wipe(seed)
	return DeriveSLIP10(seed, DerivationPath)
}

// HexSeed is a raw seed given as 64 hex characters
type HexSeed struct {
	Hex string
}

// SpendSeed implements SeedSource
func (h HexSeed) SpendSeed() ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(h.Hex))
	if err != nil {
		return nil, fmt.Errorf("seed is not valid hex: %w", err)
	}
	if len(seed) != SeedSize {
		crypto.Wipe(seed)
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return seed, nil
}

// RandomSeed draws a fresh seed from the system entropy source
type RandomSeed struct {
	Reader io.Reader
}

// SpendSeed implements SeedSource
func (r RandomSeed) SpendSeed() ([]byte, error) {
	reader := r.Reader
	if reader == nil {
		reader = rand.Reader
	}
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("failed to read random seed: %w", err)
	}
	return seed, nil
}

// SeedConfig selects a seed source
type SeedConfig struct {
	Source     string `yaml:"source"`
	Mnemonic   string `yaml:"mnemonic"`
	Passphrase string `yaml:"passphrase"`
	Hex        string `yaml:"hex"`
}

// NewSeedSource builds the seed source named by cfg.Source
func NewSeedSource(cfg SeedConfig) (SeedSource, error) {
	switch cfg.Source {
	case "", SourceRandom:
		return RandomSeed{}, nil
	case SourceMnemonic:
		if cfg.Mnemonic == "" {
			return nil, fmt.Errorf("wallet.seed.mnemonic is required for source %q", SourceMnemonic)
		}
		return MnemonicSeed{Mnemonic: cfg.Mnemonic, Passphrase: cfg.Passphrase}, nil
	case SourceHex:
		if cfg.Hex == "" {
			return nil, fmt.Errorf("wallet.seed.hex is required for source %q", SourceHex)
		}
		return HexSeed{Hex: cfg.Hex}, nil
	default:
		return nil, fmt.Errorf("unknown seed source %q", cfg.Source)
	}
}

// GenerateMnemonic returns a new 24 word BIP-39 mnemonic
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	defer crypto.Wipe(entropy)
	return bip39.NewMnemonic(entropy)
}

// DeriveSLIP10 walks an Ed25519 SLIP-10 path from a BIP-39 seed and returns
// the 32 byte private node key. Ed25519 only supports hardened children.
func DeriveSLIP10(seed []byte, path []uint32) ([]byte, error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	node := mac.Sum(nil)
	defer crypto.Wipe(node)

	data := make([]byte, 1+32+4)
	defer crypto.Wipe(data)

	for _, index := range path {
		if index < HardenedOffset {
			return nil, fmt.Errorf("index %d is not hardened", index)
		}
		data[0] = 0x00
		copy(data[1:33], node[:32])
		binary.BigEndian.PutUint32(data[33:], index)

		mac = hmac.New(sha512.New, node[32:])
		mac.Write(data)
		next := mac.Sum(nil)
		copy(node, next)
		crypto.Wipe(next)
	}

	key := make([]byte, 32)
	copy(key, node[:32])
	return key, nil
}
