// Command trtl-signer runs the signing device behind its TCP and libp2p
// command transports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trtl-signer/internal/apdu"
	"trtl-signer/internal/config"
	"trtl-signer/internal/confirm"
	"trtl-signer/internal/device"
	"trtl-signer/internal/keys"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/metrics"
	"trtl-signer/internal/storage"
	"trtl-signer/internal/transport"
	"trtl-signer/internal/types"
	"trtl-signer/internal/wallet"
)

// storeFile is the durable image inside the data directory
const storeFile = "device.bin"

type options struct {
	Config   string `long:"config" env:"TRTL_SIGNER_CONFIG" description:"path to the YAML configuration" default:"config.yaml"`
	DataDir  string `long:"data-dir" env:"TRTL_SIGNER_DATA_DIR" description:"directory holding the durable store"`
	Debug    bool   `long:"debug" env:"TRTL_SIGNER_DEBUG" description:"allow requests without confirmation"`
	TCP      string `long:"tcp" env:"TRTL_SIGNER_TCP" description:"TCP listen multiaddr, enables the TCP transport"`
	Metrics  string `long:"metrics" env:"TRTL_SIGNER_METRICS" description:"metrics listen address, enables /metrics"`
	LogLevel string `long:"log-level" env:"TRTL_SIGNER_LOG_LEVEL" description:"debug, info, warn or error"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "failed to parse flags: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrapLogger(os.Stderr)
	if err := run(ctx, opts); err != nil {
		logger.Error("Signer: stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
}

// bootstrapLogger reports to w until run installs the configured logger
func bootstrapLogger(w io.Writer) {
	boot, err := logger.NewWithWriter(w, "info")
	if err != nil {
		fmt.Fprintf(w, "failed to create logger: %v\n", err)
		return
	}
	logger.SetDefault(boot)
}

// applyFlags overrides the file configuration with explicit flags
func applyFlags(cfg *types.Config, opts options) {
	if opts.DataDir != "" {
		cfg.Device.DataDir = opts.DataDir
	}
	if opts.Debug {
		cfg.Device.Debug = true
	}
	if opts.TCP != "" {
		cfg.Transport.TCP.Enabled = true
		cfg.Transport.TCP.Address = opts.TCP
	}
	if opts.Metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = opts.Metrics
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keyManager := keys.NewKeyManager()
	manager := config.NewManager(keyManager)
	cfg, err := manager.LoadConfig(opts.Config)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := manager.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	dataDir := config.ResolvePath(opts.Config, cfg.Device.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewFileStore(filepath.Join(dataDir, storeFile), device.StoreSize)
	if err != nil {
		return err
	}
	defer store.Close()

	seed, err := wallet.NewSeedSource(config.SeedConfig(&cfg.Wallet.Seed))
	if err != nil {
		return err
	}
	version, err := config.ParseVersion(cfg.Device.Version)
	if err != nil {
		return err
	}
	dev, err := device.New(device.Options{
		Store:   store,
		Seed:    seed,
		Debug:   cfg.Device.Debug,
		Version: version,
	})
	if err != nil {
		return err
	}

	confirmer, err := confirm.New(cfg.Confirmation.Mode, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	dispatcher := apdu.NewDispatcher(dev, confirmer, metrics.New(reg))

	errs := make(chan error, 3)
	running := 0

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Address, reg)
		running++
		go func() {
			logger.Info("Signer: metrics listening", "address", cfg.Metrics.Address)
			errs <- srv.Serve(ctx)
		}()
	}

	if cfg.Transport.TCP.Enabled {
		srv, err := transport.NewTCPServer(cfg.Transport.TCP.Address, dispatcher)
		if err != nil {
			return err
		}
		if err := srv.Listen(); err != nil {
			return err
		}
		running++
		go func() { errs <- srv.Serve(ctx) }()
	}

	if cfg.Transport.P2P.Enabled {
		identity, err := keyManager.Libp2pKey(cfg.Transport.P2P.PrivateKey)
		if err != nil {
			return err
		}
		peers := storage.NewFilePeerStorage(config.ResolvePath(opts.Config, cfg.Transport.P2P.PeersFile))
		srv, err := transport.NewP2PServer(cfg.Transport.P2P.Addresses, identity, dispatcher, peers)
		if err != nil {
			return err
		}
		defer srv.Close()
		if err := srv.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("Signer: running", "address", dev.Wallet().Address(), "debug", cfg.Device.Debug,
		"confirmation", cfg.Confirmation.Mode)

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-errs:
		running--
	}
	logger.Info("Signer: shutting down")
	cancel()

	for range running {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
