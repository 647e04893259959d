package types

import "trtl-signer/internal/logger"

// Config represents the complete application configuration
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Wallet       WalletConfig       `yaml:"wallet"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Transport    TransportConfig    `yaml:"transport"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      logger.Config      `yaml:"logging"`
}

// DeviceConfig locates the durable store and sets device behaviour
type DeviceConfig struct {
	DataDir string `yaml:"data_dir"`
	// Debug lets requests without P1_CONFIRM skip the prompt
	Debug   bool   `yaml:"debug"`
	Version string `yaml:"version"`
}

// WalletConfig chooses where a new wallet's spend key comes from. It is
// only consulted when the store holds no wallet yet.
type WalletConfig struct {
	Seed SeedConfig `yaml:"seed"`
}

// SeedConfig mirrors wallet.SeedConfig
type SeedConfig struct {
	Source     string `yaml:"source"`
	Mnemonic   string `yaml:"mnemonic,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Hex        string `yaml:"hex,omitempty"`
}

// ConfirmationConfig selects how prompts are answered
type ConfirmationConfig struct {
	Mode string `yaml:"mode"`
}

// TransportConfig holds the command transports
type TransportConfig struct {
	TCP TCPConfig `yaml:"tcp"`
	P2P P2PConfig `yaml:"p2p"`
}

// TCPConfig is the Speculos compatible APDU port
type TCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// P2PConfig is the libp2p transport for remote hosts
type P2PConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Addresses  []string `yaml:"addresses"`
	PrivateKey string   `yaml:"private_key"`
	PeersFile  string   `yaml:"peers_file"`
}

// MetricsConfig is the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			DataDir: "data",
			Version: "1.0.0",
		},
		Wallet: WalletConfig{
			Seed: SeedConfig{Source: "random"},
		},
		Confirmation: ConfirmationConfig{
			Mode: "prompt",
		},
		Transport: TransportConfig{
			TCP: TCPConfig{
				Enabled: true,
				Address: "/ip4/127.0.0.1/tcp/9999",
			},
			P2P: P2PConfig{
				Enabled:    false,
				Addresses:  []string{"/ip4/0.0.0.0/tcp/9000"},
				PrivateKey: "", // generated on first load
				PeersFile:  "peers.yaml",
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9108",
		},
		Logging: logger.DefaultConfig(),
	}
}
