// Package types contains data structures shared by configuration and the
// authorized peer file
package types

import (
	"encoding/base64"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Constants for validation
const (
	// MaxAddresses defines the maximum number of addresses per peer
	MaxAddresses = 10
	// MinAddresses defines the minimum number of addresses per peer
	MinAddresses = 1
	// PublicKeyLength defines the expected length of base64-encoded public keys
	PublicKeyLength = 44 // 32 bytes base64 encoded
)

var (
	ipv4Pattern = regexp.MustCompile(`^/ip4/(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})/tcp/(\d+)$`)
	ipv6Pattern = regexp.MustCompile(`^/ip6/([^/]+)/tcp/(\d+)$`)
	dnsPattern  = regexp.MustCompile(`^/dns4?/([a-zA-Z0-9.-]+)/tcp/(\d+)$`)
)

// Peer is a client allowed to drive the signer, identified by its Ed25519
// transport key
type Peer struct {
	PublicKey string   `yaml:"public_key" json:"public_key"`
	Addresses []string `yaml:"addresses" json:"addresses"`
}

// PeerList represents the root structure for peers.yaml file
type PeerList struct {
	Peers []Peer `yaml:"peers" json:"peers"`
}

// Validate validates the peer data format and constraints
func (p *Peer) Validate() error {
	if err := p.validatePublicKey(); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}

	if err := p.validateAddresses(); err != nil {
		return fmt.Errorf("invalid addresses: %w", err)
	}

	return nil
}

// PeerID returns the libp2p peer ID derived from the public key
func (p *Peer) PeerID() (peer.ID, error) {
	if err := p.validatePublicKey(); err != nil {
		return "", err
	}
	raw, _ := base64.StdEncoding.DecodeString(p.PublicKey)
	pub, err := crypto.UnmarshalEd25519PublicKey(raw)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return peer.IDFromPublicKey(pub)
}

// validatePublicKey validates the public key format
func (p *Peer) validatePublicKey() error {
	if p.PublicKey == "" {
		return fmt.Errorf("public key cannot be empty")
	}

	decoded, err := base64.StdEncoding.DecodeString(p.PublicKey)
	if err != nil {
		return fmt.Errorf("public key must be valid base64: %w", err)
	}

	if len(decoded) != 32 {
		return fmt.Errorf("public key must be 32 bytes when decoded, got %d bytes", len(decoded))
	}

	return nil
}

// validateAddresses validates the address format and constraints
func (p *Peer) validateAddresses() error {
	if len(p.Addresses) < MinAddresses {
		return fmt.Errorf("peer must have at least %d address", MinAddresses)
	}

	if len(p.Addresses) > MaxAddresses {
		return fmt.Errorf("peer cannot have more than %d addresses", MaxAddresses)
	}

	for i, addr := range p.Addresses {
		if err := ValidateAddress(addr); err != nil {
			return fmt.Errorf("address %d is invalid: %w", i, err)
		}
	}

	return nil
}

// ValidateAddress checks a /ip4, /ip6 or /dns tcp multiaddr
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	var matches []string
	switch {
	case ipv4Pattern.MatchString(addr):
		matches = ipv4Pattern.FindStringSubmatch(addr)
		if net.ParseIP(matches[1]) == nil {
			return fmt.Errorf("invalid IPv4 address: %s", matches[1])
		}
	case ipv6Pattern.MatchString(addr):
		matches = ipv6Pattern.FindStringSubmatch(addr)
		if net.ParseIP(matches[1]) == nil {
			return fmt.Errorf("invalid IPv6 address: %s", matches[1])
		}
	case dnsPattern.MatchString(addr):
		matches = dnsPattern.FindStringSubmatch(addr)
		hostname := matches[1]
		if len(hostname) > 253 {
			return fmt.Errorf("invalid hostname length: %s", hostname)
		}
		if strings.Contains(hostname, "..") || strings.HasPrefix(hostname, ".") || strings.HasSuffix(hostname, ".") {
			return fmt.Errorf("invalid hostname format: %s", hostname)
		}
	default:
		return fmt.Errorf("unsupported address format: %s", addr)
	}

	return validatePort(matches[2])
}

// validatePort validates port number
func validatePort(portStr string) error {
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}

	return nil
}

// String returns a string representation of the peer
func (p *Peer) String() string {
	key := p.PublicKey
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("Peer{PublicKey: %s..., Addresses: %v}", key, p.Addresses)
}

// Equal checks if two peers are equal (same public key)
func (p *Peer) Equal(other *Peer) bool {
	return p.PublicKey == other.PublicKey
}
