package storage

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"trtl-signer/internal/types"
)

// DefaultPeersFile is the default filename for authorized peers
const DefaultPeersFile = "peers.yaml"

// FilePeerStorage implements PeerStorage over the YAML peers file. The
// listed peers are the only clients allowed to reach the signer over libp2p.
type FilePeerStorage struct {
	filePath string
	mutex    sync.RWMutex
	peers    []types.Peer
}

// NewFilePeerStorage creates a new file-based peer storage
func NewFilePeerStorage(filePath string) *FilePeerStorage {
	if filePath == "" {
		filePath = DefaultPeersFile
	}
	return &FilePeerStorage{
		filePath: filePath,
		peers:    make([]types.Peer, 0),
	}
}

// GetPeers returns the current list of peers
func (s *FilePeerStorage) GetPeers() ([]types.Peer, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	peers := make([]types.Peer, len(s.peers))
	copy(peers, s.peers)
	return peers, nil
}

// LoadPeers loads peers from the YAML file. A missing file yields an empty
// list.
func (s *FilePeerStorage) LoadPeers() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.peers = make([]types.Peer, 0)
			return nil
		}
		return fmt.Errorf("failed to read peer file %s: %w", s.filePath, err)
	}

	var peerList types.PeerList
	if err := yaml.Unmarshal(data, &peerList); err != nil {
		return fmt.Errorf("failed to parse peer file: %w", err)
	}

	validPeers, err := validateAndFilterPeers(peerList.Peers)
	if err != nil {
		return fmt.Errorf("peer validation failed: %w", err)
	}

	s.peers = validPeers
	return nil
}

// SavePeers saves peers to the YAML file using atomic operations
func (s *FilePeerStorage) SavePeers(peers []types.Peer) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	validPeers, err := validateAndFilterPeers(peers)
	if err != nil {
		return fmt.Errorf("peer validation failed: %w", err)
	}

	data, err := yaml.Marshal(&types.PeerList{Peers: validPeers})
	if err != nil {
		return fmt.Errorf("failed to marshal peers: %w", err)
	}

	if err := writeFileAtomic(s.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write peer file: %w", err)
	}

	s.peers = validPeers
	return nil
}

// AuthorizePeer adds p to the peer file, replacing the entry with the same
// public key
func (s *FilePeerStorage) AuthorizePeer(p types.Peer) error {
	if err := s.LoadPeers(); err != nil {
		return err
	}
	peers, err := s.GetPeers()
	if err != nil {
		return err
	}

	replaced := false
	for i := range peers {
		if peers[i].PublicKey == p.PublicKey {
			peers[i] = p
			replaced = true
		}
	}
	if !replaced {
		peers = append(peers, p)
	}
	return s.SavePeers(peers)
}

// validateAndFilterPeers validates peer data and removes duplicates
func validateAndFilterPeers(peers []types.Peer) ([]types.Peer, error) {
	seen := make(map[string]bool)
	validPeers := make([]types.Peer, 0, len(peers))

	for i, peer := range peers {
		if err := peer.Validate(); err != nil {
			return nil, fmt.Errorf("peer %d is invalid: %w", i, err)
		}

		if seen[peer.PublicKey] {
			continue
		}
		seen[peer.PublicKey] = true

		validPeers = append(validPeers, peer)
	}

	return validPeers, nil
}
