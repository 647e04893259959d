// Package storage contains the durable byte store that backs wallet and
// transaction state, fixed regions over it, and the authorized peer file.
package storage

import (
	"errors"

	"trtl-signer/internal/types"
)

var (
	// ErrOutOfBounds is returned for reads or writes past the end of a store or region
	ErrOutOfBounds = errors.New("access outside durable store bounds")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("durable store closed")
)

// DurableStore is a fixed-size byte image that survives restarts. A WriteAt
// that returns nil has reached stable storage.
type DurableStore interface {
	// ReadAt fills p from offset off
	ReadAt(p []byte, off int64) error

	// WriteAt writes p at offset off and syncs it
	WriteAt(p []byte, off int64) error

	// Size returns the capacity of the store in bytes
	Size() int64

	// Close releases any resources held by the store
	Close() error
}

// PeerStorage defines the interface for authorized peer operations
type PeerStorage interface {
	// GetPeers returns all currently loaded peers
	GetPeers() ([]types.Peer, error)

	// LoadPeers refreshes the peer list from storage
	LoadPeers() error

	// SavePeers saves the provided peers to storage
	SavePeers(peers []types.Peer) error
}

func checkBounds(size int64, n int, off int64) error {
	if off < 0 || int64(n) > size || off > size-int64(n) {
		return ErrOutOfBounds
	}
	return nil
}
