// Package device ties the wallet key store and the transaction builder to a
// single durable store and binds the wallet keys to the signing primitives.
package device

import (
	"fmt"
	"sync"

	"trtl-signer/internal/crypto"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/storage"
	"trtl-signer/internal/transaction"
	"trtl-signer/internal/wallet"
)

// StoreSize is the size of the durable image: wallet record, transaction
// info, pre-signature records and the raw transaction, in that order
const StoreSize = wallet.RecordSize + transaction.InfoSize + transaction.PreSignaturesSize + transaction.MaxSize

// DefaultVersion is reported by VERSION when Options.Version is zero
var DefaultVersion = [3]byte{1, 0, 0}

// Options configures a Device
type Options struct {
	Store   storage.DurableStore
	Seed    wallet.SeedSource
	Debug   bool
	Version [3]byte
}

// Device is the signer core
type Device struct {
	wallet  *wallet.Store
	tx      *transaction.Builder
	debug   bool
	version [3]byte
	log     *logger.Logger

	approvalMu  sync.Mutex
	preApproved map[string]bool
}

// New lays out the durable regions, loads or creates the wallet and clears
// any transaction left over from a previous run
func New(opts Options) (*Device, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("durable store cannot be nil")
	}
	if opts.Store.Size() < StoreSize {
		return nil, fmt.Errorf("durable store is %d bytes, need %d", opts.Store.Size(), StoreSize)
	}

	regions, err := storage.Layout(opts.Store,
		wallet.RecordSize,
		transaction.InfoSize,
		transaction.PreSignaturesSize,
		transaction.MaxSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lay out durable store: %w", err)
	}

	w := wallet.NewStore(regions[0], opts.Seed)
	if err := w.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize wallet: %w", err)
	}

	tx, err := transaction.NewBuilder(w, transaction.Regions{
		Info:          regions[1],
		PreSignatures: regions[2],
		Raw:           regions[3],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transaction builder: %w", err)
	}

	version := opts.Version
	if version == ([3]byte{}) {
		version = DefaultVersion
	}

	d := &Device{
		wallet:      w,
		tx:          tx,
		debug:       opts.Debug,
		version:     version,
		log:         logger.Default().With("device"),
		preApproved: make(map[string]bool),
	}
	d.log.Info("Device: ready", "address", w.Address(), "debug", opts.Debug,
		"version", fmt.Sprintf("%d.%d.%d", version[0], version[1], version[2]))
	return d, nil
}

// Wallet returns the key store
func (d *Device) Wallet() *wallet.Store { return d.wallet }

// Tx returns the transaction builder
func (d *Device) Tx() *transaction.Builder { return d.tx }

// Debug reports whether unconfirmed requests are allowed
func (d *Device) Debug() bool { return d.debug }

// Version returns major, minor and patch
func (d *Device) Version() [3]byte { return d.version }

// Ident returns the wallet magic
func (d *Device) Ident() crypto.Key { return d.wallet.Ident() }

// PreApproved reports whether command was approved for the whole session
func (d *Device) PreApproved(command string) bool {
	d.approvalMu.Lock()
	defer d.approvalMu.Unlock()
	return d.preApproved[command]
}

// SetPreApproved records a session wide approval for command
func (d *Device) SetPreApproved(command string, approved bool) {
	d.approvalMu.Lock()
	defer d.approvalMu.Unlock()
	if approved {
		d.preApproved[command] = true
		return
	}
	delete(d.preApproved, command)
}

// ResetSession drops every session wide approval
func (d *Device) ResetSession() {
	d.approvalMu.Lock()
	defer d.approvalMu.Unlock()
	clear(d.preApproved)
}

// ResetKeys clears the pending transaction, replaces the wallet keys and
// drops session approvals
func (d *Device) ResetKeys() error {
	d.ResetSession()
	if err := d.tx.Reset(); err != nil {
		return err
	}
	if err := d.wallet.Reset(); err != nil {
		return err
	}
	d.log.Warn("Device: wallet keys replaced", "address", d.wallet.Address())
	return nil
}
