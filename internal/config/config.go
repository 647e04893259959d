// Package config loads, validates and saves the signer's YAML configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"gopkg.in/yaml.v3"

	"trtl-signer/internal/confirm"
	"trtl-signer/internal/keys"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/types"
	"trtl-signer/internal/wallet"
)

// Manager handles configuration loading, validation, and management
type Manager struct {
	keyManager *keys.KeyManager
}

// NewManager creates a new configuration manager with dependencies
func NewManager(keyManager *keys.KeyManager) *Manager {
	return &Manager{
		keyManager: keyManager,
	}
}

// LoadConfig loads configuration from filePath, writing the defaults first
// when the file does not exist
func (m *Manager) LoadConfig(filePath string) (*types.Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := m.CreateConfigFile(filePath, types.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		logger.Info("Config: default configuration written", "path", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// The libp2p identity must stay stable across restarts
	if cfg.Transport.P2P.PrivateKey == "" {
		privateKey, err := m.keyManager.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		cfg.Transport.P2P.PrivateKey = privateKey

		if err := m.SaveConfig(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config with generated private key: %w", err)
		}
		logger.Info("Config: transport identity generated", "path", filePath)
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// CreateConfigFile creates a new configuration file with the given config
func (m *Manager) CreateConfigFile(filePath string, cfg *types.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// The file carries the transport identity and possibly a seed
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig saves the configuration to the specified file
func (m *Manager) SaveConfig(filePath string, cfg *types.Config) error {
	return m.CreateConfigFile(filePath, cfg)
}

// ValidateConfig validates the configuration structure and values
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := validateDeviceConfig(&cfg.Device); err != nil {
		return fmt.Errorf("device config validation failed: %w", err)
	}

	if err := validateSeedConfig(&cfg.Wallet.Seed); err != nil {
		return fmt.Errorf("wallet config validation failed: %w", err)
	}

	if err := validateConfirmationConfig(&cfg.Confirmation); err != nil {
		return fmt.Errorf("confirmation config validation failed: %w", err)
	}

	if err := m.validateTransportConfig(&cfg.Transport); err != nil {
		return fmt.Errorf("transport config validation failed: %w", err)
	}

	if err := validateMetricsConfig(&cfg.Metrics); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}

	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	return nil
}

func validateDeviceConfig(cfg *types.DeviceConfig) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("device.data_dir cannot be empty")
	}
	if _, err := ParseVersion(cfg.Version); err != nil {
		return fmt.Errorf("device.version %w", err)
	}
	return nil
}

func validateSeedConfig(cfg *types.SeedConfig) error {
	if _, err := wallet.NewSeedSource(SeedConfig(cfg)); err != nil {
		return err
	}
	if cfg.Source == wallet.SourceHex {
		raw, err := hex.DecodeString(cfg.Hex)
		if err != nil || len(raw) != wallet.SeedSize {
			return fmt.Errorf("wallet.seed.hex must be %d hex characters", 2*wallet.SeedSize)
		}
	}
	return nil
}

func validateConfirmationConfig(cfg *types.ConfirmationConfig) error {
	switch cfg.Mode {
	case confirm.ModePrompt, confirm.ModeApprove, confirm.ModeDeny:
		return nil
	}
	return fmt.Errorf("confirmation.mode must be one of: %s, %s, %s",
		confirm.ModePrompt, confirm.ModeApprove, confirm.ModeDeny)
}

func (m *Manager) validateTransportConfig(cfg *types.TransportConfig) error {
	if !cfg.TCP.Enabled && !cfg.P2P.Enabled {
		return fmt.Errorf("at least one of transport.tcp and transport.p2p must be enabled")
	}

	if cfg.TCP.Enabled {
		if err := validateMultiaddr(cfg.TCP.Address); err != nil {
			return fmt.Errorf("transport.tcp.address: %w", err)
		}
	}

	if cfg.P2P.Enabled {
		if len(cfg.P2P.Addresses) == 0 {
			return fmt.Errorf("transport.p2p.addresses cannot be empty")
		}
		for i, addr := range cfg.P2P.Addresses {
			if err := validateMultiaddr(addr); err != nil {
				return fmt.Errorf("invalid transport.p2p address at index %d: %w", i, err)
			}
		}
		if cfg.P2P.PeersFile == "" {
			return fmt.Errorf("transport.p2p.peers_file cannot be empty")
		}
	}

	if err := m.keyManager.ValidatePrivateKey(cfg.P2P.PrivateKey); err != nil {
		return fmt.Errorf("transport.p2p.private_key: %w", err)
	}
	return nil
}

func validateMetricsConfig(cfg *types.MetricsConfig) error {
	if !cfg.Enabled {
		return nil
	}
	_, port, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return fmt.Errorf("metrics.address must be host:port: %w", err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("metrics.address port must be between 1 and 65535")
	}
	return nil
}

func validateLoggingConfig(cfg *logger.Config) error {
	if err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		logger.FormatJSON: true, logger.FormatText: true,
	}
	if !validFormats[cfg.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if cfg.FileOutput && cfg.FileName == "" {
		return fmt.Errorf("logging.file_name cannot be empty when file_output is set")
	}
	return nil
}

// validateMultiaddr accepts tcp multiaddrs over ip4, ip6 or dns
func validateMultiaddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	if _, err := ma.ValueForProtocol(multiaddr.P_TCP); err != nil {
		return fmt.Errorf("multiaddr %q has no tcp component", addr)
	}
	if manet.IsThinWaist(ma) {
		return nil
	}
	for _, p := range []int{multiaddr.P_DNS, multiaddr.P_DNS4, multiaddr.P_DNS6} {
		if _, err := ma.ValueForProtocol(p); err == nil {
			return nil
		}
	}
	return fmt.Errorf("unsupported multiaddr format: %s", addr)
}

// SeedConfig converts the configured seed for the wallet package
func SeedConfig(cfg *types.SeedConfig) wallet.SeedConfig {
	return wallet.SeedConfig(*cfg)
}

// ParseVersion reads a major.minor.patch string. An empty string yields
// zeros, which the device replaces with its default.
func ParseVersion(s string) ([3]byte, error) {
	var v [3]byte
	if s == "" {
		return v, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("must be major.minor.patch, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return v, fmt.Errorf("component %q must be 0 to 255", p)
		}
		v[i] = byte(n)
	}
	return v, nil
}

// ResolvePath makes a relative path relative to the config file directory
func ResolvePath(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// LoadConfig is a convenience function that creates a manager and loads config
func LoadConfig(filePath string) (*types.Config, error) {
	keyManager := keys.NewKeyManager()
	configManager := NewManager(keyManager)
	return configManager.LoadConfig(filePath)
}
