// Package wallet keeps the signer's long-lived spend and view keys in a
// durable record and exposes them to the device core.
package wallet

import (
	"bytes"
	"sync"

	"trtl-signer/internal/base58"
	"trtl-signer/internal/crypto"
	"trtl-signer/internal/logger"
	"trtl-signer/internal/status"
)

// Magic marks an initialized record and is returned by IDENT.
const Magic = "TurtleCoin is not a Monero fork!"

// Record layout
const (
	offSpendPrivate = 0
	offSpendPublic  = offSpendPrivate + crypto.KeySize
	offViewPrivate  = offSpendPublic + crypto.KeySize
	offViewPublic   = offViewPrivate + crypto.KeySize
	offAddress      = offViewPublic + crypto.KeySize
	offMagic        = offAddress + AddressSize

	// AddressSize is the length of a TurtleCoin address
	AddressSize = 99
	// MagicSize is the length of Magic
	MagicSize = 32
	// RecordSize is the size of the durable wallet record
	RecordSize = offMagic + MagicSize
)

// Magic must fill MagicSize exactly
var _ [MagicSize]byte = [len(Magic)]byte{}

// Durable is the region the record lives in
type Durable interface {
	ReadAt(p []byte, off int64) error
	WriteAt(p []byte, off int64) error
}

// Store is the wallet key store. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	region Durable
	seed   SeedSource
	log    *logger.Logger

	spend   crypto.KeyPair
	view    crypto.KeyPair
	address string
	ready   bool
}

// NewStore returns a store over region. Init must be called before use.
func NewStore(region Durable, seed SeedSource) *Store {
	return &Store{
		region: region,
		seed:   seed,
		log:    logger.Default().With("wallet"),
	}
}

// Init loads the record, or derives and persists a new one when the region
// does not hold a valid record yet. Calling it again is a no-op.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init()
}

func (s *Store) init() error {
	if s.ready {
		return nil
	}

	rec := make([]byte, RecordSize)
	defer crypto.Wipe(rec)

	if err := s.region.ReadAt(rec, 0); err != nil {
		return status.Wrap(status.CodeNVRAMRead, "wallet init", err)
	}

	if matchesMagic(rec) {
		if err := s.load(rec); err != nil {
			return err
		}
		s.log.Info("Wallet: loaded keys", "address", s.address)
		return nil
	}

	if err := s.derive(rec); err != nil {
		return err
	}
	if err := s.region.WriteAt(rec, 0); err != nil {
		s.wipeMemory()
		return status.Wrap(status.CodeNVRAMWrite, "wallet init", err)
	}
	if err := s.load(rec); err != nil {
		return err
	}
	s.log.Info("Wallet: created keys", "address", s.address)
	return nil
}

// derive fills rec from the seed source
func (s *Store) derive(rec []byte) error {
	if s.seed == nil {
		return status.New(status.CodePrivateSpend, "wallet init: no seed source")
	}
	seed, err := s.seed.SpendSeed()
	if err != nil {
		return status.Wrap(status.CodePrivateSpend, "wallet init", err)
	}
	defer crypto.Wipe(seed)

	spendPriv := crypto.Reduce(crypto.Keccak(seed))
	defer spendPriv.Wipe()
	viewPriv := crypto.ViewKeyFromSpend(spendPriv)
	defer viewPriv.Wipe()

	spendPub := crypto.PrivateToPublic(spendPriv)
	viewPub := crypto.PrivateToPublic(viewPriv)
	addr := base58.EncodeAddress(base58.TurtleCoinPrefix, spendPub, viewPub)
	if len(addr) != AddressSize {
		return status.New(status.CodeAddress, "wallet init: unexpected address length")
	}

	copy(rec[offSpendPrivate:], spendPriv[:])
	copy(rec[offSpendPublic:], spendPub[:])
	copy(rec[offViewPrivate:], viewPriv[:])
	copy(rec[offViewPublic:], viewPub[:])
	copy(rec[offAddress:], addr)
	copy(rec[offMagic:], Magic)
	return nil
}

// load checks a persisted record and caches it
func (s *Store) load(rec []byte) error {
	var spend, view crypto.KeyPair
	copy(spend.Private[:], rec[offSpendPrivate:offSpendPublic])
	copy(spend.Public[:], rec[offSpendPublic:offViewPrivate])
	copy(view.Private[:], rec[offViewPrivate:offViewPublic])
	copy(view.Public[:], rec[offViewPublic:offAddress])
	address := string(rec[offAddress:offMagic])

	consistent := crypto.PrivateToPublic(spend.Private) == spend.Public &&
		crypto.PrivateToPublic(view.Private) == view.Public &&
		base58.EncodeAddress(base58.TurtleCoinPrefix, spend.Public, view.Public) == address
	if !consistent {
		spend.Private.Wipe()
		view.Private.Wipe()
		return status.New(status.CodeNVRAMRead, "wallet init: stored keys are inconsistent")
	}

	s.spend = spend
	s.view = view
	s.address = address
	s.ready = true
	return nil
}

// Reset zeroes the durable record and derives fresh keys from the seed
// source.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wipeMemory()
	if err := s.region.WriteAt(make([]byte, RecordSize), 0); err != nil {
		return status.Wrap(status.CodeResetKeys, "wallet reset", err)
	}
	if err := s.init(); err != nil {
		return status.Wrap(status.CodeResetKeys, "wallet reset", err)
	}
	s.log.Warn("Wallet: keys reset", "address", s.address)
	return nil
}

func (s *Store) wipeMemory() {
	s.spend.Private.Wipe()
	s.view.Private.Wipe()
	s.spend = crypto.KeyPair{}
	s.view = crypto.KeyPair{}
	s.address = ""
	s.ready = false
}

// Ready reports whether keys are loaded
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// SpendPublic returns the public spend key
func (s *Store) SpendPublic() crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spend.Public
}

// ViewPublic returns the public view key
func (s *Store) ViewPublic() crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Public
}

// PublicKeys returns spend.public followed by view.public
func (s *Store) PublicKeys() [2 * crypto.KeySize]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out [2 * crypto.KeySize]byte
	copy(out[:], s.spend.Public[:])
	copy(out[crypto.KeySize:], s.view.Public[:])
	return out
}

// Address returns the 99 character wallet address
func (s *Store) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// Ident returns the record magic
func (s *Store) Ident() crypto.Key {
	var k crypto.Key
	copy(k[:], Magic)
	return k
}

// SpendPrivate returns the private spend key. The caller wipes the copy.
func (s *Store) SpendPrivate() crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spend.Private
}

// ViewPrivate returns the private view key. The caller wipes the copy.
func (s *Store) ViewPrivate() crypto.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Private
}

// SpendKeyPair returns the spend key pair. The caller wipes the private half.
func (s *Store) SpendKeyPair() crypto.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spend
}

// Keys returns the key material for output recognition. The caller wipes
// the private halves.
func (s *Store) Keys() crypto.WalletKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return crypto.WalletKeys{
		ViewPrivate:  s.view.Private,
		SpendPrivate: s.spend.Private,
		SpendPublic:  s.spend.Public,
	}
}

// matchesMagic reports whether rec carries an initialized record
func matchesMagic(rec []byte) bool {
	return len(rec) == RecordSize && bytes.Equal(rec[offMagic:], []byte(Magic))
}
