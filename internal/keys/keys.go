// Package keys manages the Ed25519 identity the signer presents on its
// libp2p transport. Keys travel as base64 in configuration and peer files.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// KeyManager generates and converts transport identity keys
type KeyManager struct{}

// NewKeyManager creates a new KeyManager instance
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// GeneratePrivateKey returns a new base64 Ed25519 private key
func (km *KeyManager) GeneratePrivateKey() (string, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(privateKey), nil
}

// ValidatePrivateKey accepts an empty key, which is generated on load, or a
// base64 Ed25519 private key
func (km *KeyManager) ValidatePrivateKey(privateKeyBase64 string) error {
	if privateKeyBase64 == "" {
		return nil
	}
	_, err := decodePrivate(privateKeyBase64)
	return err
}

// GetPublicKey returns the base64 public half of a private key, the form the
// authorized peer file lists
func (km *KeyManager) GetPublicKey(privateKeyBase64 string) (string, error) {
	priv, err := decodePrivate(privateKeyBase64)
	if err != nil {
		return "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

// Libp2pKey converts a base64 private key for use as a libp2p host identity
func (km *KeyManager) Libp2pKey(privateKeyBase64 string) (crypto.PrivKey, error) {
	priv, err := decodePrivate(privateKeyBase64)
	if err != nil {
		return nil, err
	}
	key, err := crypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Ed25519 private key: %w", err)
	}
	return key, nil
}

// PeerID returns the libp2p peer ID of a private key
func (km *KeyManager) PeerID(privateKeyBase64 string) (peer.ID, error) {
	key, err := km.Libp2pKey(privateKeyBase64)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(key)
}

func decodePrivate(privateKeyBase64 string) (ed25519.PrivateKey, error) {
	if privateKeyBase64 == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	raw, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("private key must be valid base64: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
