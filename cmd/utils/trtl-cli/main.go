// Command trtl-cli sends commands to a running trtl-signer over TCP or
// libp2p.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"trtl-signer/internal/apdu"
	"trtl-signer/internal/confirm"
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/keys"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/transaction"
	"trtl-signer/internal/transport"
)

type globalOptions struct {
	TCP       string        `long:"tcp" env:"TRTL_CLI_TCP" description:"signer TCP multiaddr" default:"/ip4/127.0.0.1/tcp/9999"`
	P2P       string        `long:"p2p" env:"TRTL_CLI_P2P" description:"signer libp2p multiaddr ending in /p2p/<id>, replaces --tcp"`
	Key       string        `long:"key" env:"TRTL_CLI_KEY" description:"base64 libp2p identity, generated when empty"`
	NoConfirm bool          `long:"no-confirm" description:"ask a debug signer to skip the confirmation prompt"`
	Timeout   time.Duration `long:"timeout" description:"per command timeout" default:"2m"`
}

var global globalOptions

type session struct {
	client *apdu.Client
	closer io.Closer
}

func connect(ctx context.Context) (*session, error) {
	if global.P2P != "" {
		km := keys.NewKeyManager()
		key := global.Key
		if key == "" {
			generated, err := km.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			key = generated
		}
		identity, err := km.Libp2pKey(key)
		if err != nil {
			return nil, err
		}
		c, err := transport.NewP2PClient(identity)
		if err != nil {
			return nil, err
		}
		if err := c.Connect(ctx, global.P2P); err != nil {
			c.Close()
			return nil, err
		}
		logger.Debug("Connected over libp2p", "peer_id", c.ID().String())
		return newSession(c, c), nil
	}

	c, err := transport.DialTCP(ctx, global.TCP)
	if err != nil {
		return nil, err
	}
	return newSession(c, c), nil
}

func newSession(ex apdu.Exchanger, closer io.Closer) *session {
	client := apdu.NewClient(ex)
	client.Confirm = !global.NoConfirm
	return &session{client: client, closer: closer}
}

// withClient runs fn against a fresh connection
func withClient(fn func(ctx context.Context, c *apdu.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), global.Timeout)
	defer cancel()

	s, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer s.closer.Close()
	return fn(ctx, s.client)
}

type versionCommand struct{}

func (versionCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		v, err := c.Version(ctx)
		if err != nil {
			return err
		}
		debug, err := c.Debug(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Version: %d.%d.%d\n", v[0], v[1], v[2])
		fmt.Printf("Debug:   %t\n", debug)
		return nil
	})
}

type identCommand struct{}

func (identCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		ident, err := c.Ident(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ident)
		return nil
	})
}

type addressCommand struct{}

func (addressCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		addr, err := c.Address(ctx)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	})
}

type publicKeysCommand struct{}

func (publicKeysCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		spend, view, err := c.PublicKeys(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Public Spend Key: %s\n", spend)
		fmt.Printf("Public View Key:  %s\n", view)
		return nil
	})
}

type checkKeyCommand struct {
	Args struct {
		Key string `positional-arg-name:"key" description:"hex encoded public key"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *checkKeyCommand) Execute([]string) error {
	k, err := crypto.KeyFromHex(cmd.Args.Key)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		ok, err := c.CheckKey(ctx, k)
		if err != nil {
			return err
		}
		fmt.Printf("Valid: %t\n", ok)
		return nil
	})
}

type txStateCommand struct{}

func (txStateCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		state, err := c.TxState(ctx)
		if err != nil {
			return err
		}
		fmt.Println(state)
		return nil
	})
}

type txResetCommand struct{}

func (txResetCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		if err := c.TxReset(ctx); err != nil {
			return err
		}
		fmt.Println("Transaction state reset")
		return nil
	})
}

type txDumpCommand struct {
	Size   uint16 `long:"size" required:"yes" description:"transaction size reported by tx sign"`
	Decode bool   `long:"decode" description:"print the decoded transaction instead of hex"`
}

func (cmd *txDumpCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		raw, err := c.TxDumpAll(ctx, cmd.Size)
		if err != nil {
			return err
		}
		if !cmd.Decode {
			fmt.Println(hex.EncodeToString(raw))
			return nil
		}
		tx, err := transaction.Decode(raw)
		if err != nil {
			return err
		}
		printTransaction(tx)
		return nil
	})
}

func printTransaction(tx *transaction.Transaction) {
	amount := func(v uint64) string {
		s, err := confirm.FormatAmount(v, 64)
		if err != nil {
			return fmt.Sprint(v)
		}
		return s
	}

	fmt.Printf("Hash:           %s\n", tx.Hash())
	fmt.Printf("Prefix Hash:    %s\n", tx.PrefixHash())
	fmt.Printf("Unlock Time:    %d\n", tx.UnlockTime)
	fmt.Printf("Public Key:     %s\n", tx.TxPublicKey)
	if tx.PaymentID != nil {
		fmt.Printf("Payment ID:     %s\n", *tx.PaymentID)
	}
	fmt.Printf("Fee:            %s\n", amount(tx.Fee()))
	for i, in := range tx.Inputs {
		fmt.Printf("Input %d:        %s image %s offsets %v\n", i, amount(in.Amount), in.KeyImage, in.Offsets)
	}
	for i, out := range tx.Outputs {
		fmt.Printf("Output %d:       %s to %s\n", i, amount(out.Amount), out.Key)
	}
}

type resetKeysCommand struct{}

func (resetKeysCommand) Execute([]string) error {
	return withClient(func(ctx context.Context, c *apdu.Client) error {
		if err := c.ResetKeys(ctx); err != nil {
			return err
		}
		addr, err := c.Address(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("New Address: %s\n", addr)
		return nil
	})
}

func main() {
	_ = logger.Init(logger.Config{
		ConsoleOutput: true,
		Level:         "warn",
		Format:        logger.FormatText,
	})

	parser := flags.NewParser(&global, flags.Default)
	commands := []struct {
		name, short string
		data        interface{}
	}{
		{"version", "Show the signer version and debug flag", &versionCommand{}},
		{"ident", "Show the wallet identity constant", &identCommand{}},
		{"address", "Show the wallet address", &addressCommand{}},
		{"public-keys", "Show the public spend and view keys", &publicKeysCommand{}},
		{"check-key", "Check that a key is a valid curve point", &checkKeyCommand{}},
		{"tx-state", "Show the transaction builder state", &txStateCommand{}},
		{"tx-reset", "Abandon the transaction under construction", &txResetCommand{}},
		{"tx-dump", "Page out the signed transaction", &txDumpCommand{}},
		{"reset-keys", "Replace the wallet with fresh keys", &resetKeysCommand{}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.short, c.data); err != nil {
			fmt.Fprintf(os.Stderr, "register %s: %v\n", c.name, err)
			os.Exit(2)
		}
	}

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		// flags.Default already printed parse errors
		if !errors.As(err, &ferr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
