// Command keygen creates CryptoNote keys, wallet seeds and transport
// identities offline.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/keys"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/storage"
	"trtl-signer/internal/types"
	"trtl-signer/internal/wallet"
)

type options struct {
	Private        string   `long:"private" description:"print the public key of a hex CryptoNote private key"`
	Mnemonic       bool     `long:"mnemonic" description:"generate a 24 word mnemonic and the wallet it derives"`
	Restore        string   `long:"restore" description:"derive the wallet of an existing mnemonic"`
	Passphrase     string   `long:"passphrase" description:"BIP-39 passphrase for --mnemonic and --restore"`
	Seed           string   `long:"seed" description:"derive the wallet of a 64 character hex seed"`
	Identity       bool     `long:"identity" description:"generate a base64 Ed25519 transport identity"`
	IdentityPublic string   `long:"identity-public" description:"print the public key and peer ID of a transport identity"`
	Authorize      string   `long:"authorize" description:"add a client transport public key to the libp2p allowlist"`
	PeerAddresses  []string `long:"peer-address" description:"multiaddr of the authorized client, repeatable"`
	PeersFile      string   `long:"peers-file" description:"allowlist file updated by --authorize" default:"peers.yaml"`
}

func main() {
	// Utilities only log errors
	_ = logger.Init(logger.Config{
		ConsoleOutput: true,
		Level:         "error",
		Format:        logger.FormatText,
	})

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		logger.Error("Keygen failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	switch {
	case opts.Private != "":
		return printPublic(opts.Private)
	case opts.Mnemonic:
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			return err
		}
		fmt.Printf("Mnemonic:           %s\n", mnemonic)
		return printWallet(wallet.MnemonicSeed{Mnemonic: mnemonic, Passphrase: opts.Passphrase})
	case opts.Restore != "":
		return printWallet(wallet.MnemonicSeed{Mnemonic: opts.Restore, Passphrase: opts.Passphrase})
	case opts.Seed != "":
		return printWallet(wallet.HexSeed{Hex: opts.Seed})
	case opts.Identity:
		return printIdentity("")
	case opts.IdentityPublic != "":
		return printIdentity(opts.IdentityPublic)
	case opts.Authorize != "":
		return authorize(opts.PeersFile, types.Peer{PublicKey: opts.Authorize, Addresses: opts.PeerAddresses})
	default:
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		defer kp.Private.Wipe()
		fmt.Printf("Private Key: %s\n", kp.Private)
		fmt.Printf("Public Key:  %s\n", kp.Public)
		return nil
	}
}

func printPublic(privateHex string) error {
	priv, err := crypto.KeyFromHex(privateHex)
	if err != nil {
		return err
	}
	defer priv.Wipe()
	if !crypto.CheckScalar(priv) {
		return fmt.Errorf("private key is not a reduced scalar")
	}
	fmt.Printf("Public Key: %s\n", crypto.PrivateToPublic(priv))
	return nil
}

// printWallet derives a wallet exactly as the device would on first boot
func printWallet(seed wallet.SeedSource) error {
	mem := storage.NewMemoryStore(wallet.RecordSize)
	region, err := storage.NewRegion(mem, 0, wallet.RecordSize)
	if err != nil {
		return err
	}
	w := wallet.NewStore(region, seed)
	if err := w.Init(); err != nil {
		return err
	}
	spendPriv, viewPriv := w.SpendPrivate(), w.ViewPrivate()
	defer spendPriv.Wipe()
	defer viewPriv.Wipe()

	fmt.Printf("Private Spend Key:  %s\n", spendPriv)
	fmt.Printf("Public Spend Key:   %s\n", w.SpendPublic())
	fmt.Printf("Private View Key:   %s\n", viewPriv)
	fmt.Printf("Public View Key:    %s\n", w.ViewPublic())
	fmt.Printf("Address:            %s\n", w.Address())
	return nil
}

func printIdentity(privateKey string) error {
	km := keys.NewKeyManager()
	if privateKey == "" {
		generated, err := km.GeneratePrivateKey()
		if err != nil {
			return err
		}
		privateKey = generated
		fmt.Printf("Private Key: %s\n", privateKey)
	}
	publicKey, err := km.GetPublicKey(privateKey)
	if err != nil {
		return err
	}
	id, err := km.PeerID(privateKey)
	if err != nil {
		return err
	}
	fmt.Printf("Public Key:  %s\n", publicKey)
	fmt.Printf("Peer ID:     %s\n", id)
	return nil
}

func authorize(peersFile string, p types.Peer) error {
	id, err := p.PeerID()
	if err != nil {
		return err
	}
	if err := storage.NewFilePeerStorage(peersFile).AuthorizePeer(p); err != nil {
		return err
	}
	fmt.Printf("Authorized %s in %s\n", id, peersFile)
	return nil
}
