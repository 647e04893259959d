package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"

	"trtl-signer/internal/logger"
	"trtl-signer/internal/storage"
)

// ProtocolID is the libp2p protocol carrying command frames
const ProtocolID protocol.ID = "/trtl-signer/apdu/1.0.0"

// streamTimeout bounds one exchange on a stream. Confirmation prompts run
// inside it.
const streamTimeout = 5 * time.Minute

// newHost builds a libp2p host over tcp that keeps at most one connection
// per peer
func newHost(listen []string, identity crypto.PrivKey) (host.Host, error) {
	var opts []libp2p.Option
	if identity != nil {
		opts = append(opts, libp2p.Identity(identity))
	}
	opts = append(opts,
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
	)

	connManager, err := connmgr.NewConnManager(
		16, 32,
		connmgr.WithGracePeriod(10*time.Second),
		connmgr.WithSilencePeriod(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	opts = append(opts, libp2p.ConnectionManager(connManager))

	limits := rcmgr.PartialLimitConfig{
		System: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(64),
			ConnsInbound:  rcmgr.LimitVal(32),
			ConnsOutbound: rcmgr.LimitVal(32),
		},
		PeerDefault: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(1),
			ConnsInbound:  rcmgr.LimitVal(1),
			ConnsOutbound: rcmgr.LimitVal(1),
		},
	}.Build(rcmgr.DefaultLimits.AutoScale())
	resourceManager, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limits))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}
	opts = append(opts, libp2p.ResourceManager(resourceManager))

	if len(listen) == 0 {
		opts = append(opts, libp2p.NoListenAddrs)
	} else {
		addrs := make([]multiaddr.Multiaddr, 0, len(listen))
		for _, s := range listen {
			addr, err := multiaddr.NewMultiaddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid listen address %q: %w", s, err)
			}
			addrs = append(addrs, addr)
		}
		opts = append(opts, libp2p.ListenAddrs(addrs...))
	}

	return libp2p.New(opts...)
}

// P2PServer answers command streams from authorized peers
type P2PServer struct {
	host    host.Host
	handler Handler
	peers   storage.PeerStorage
	log     *logger.Logger

	mu      sync.RWMutex
	allowed map[peer.ID]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewP2PServer starts a host on the listen addresses. Streams are refused
// until Start.
func NewP2PServer(listen []string, identity crypto.PrivKey, h Handler, peers storage.PeerStorage) (*P2PServer, error) {
	if peers == nil {
		return nil, fmt.Errorf("peer storage cannot be nil")
	}
	hst, err := newHost(listen, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return &P2PServer{
		host:    hst,
		handler: h,
		peers:   peers,
		log:     logger.Default().With("p2p"),
		allowed: make(map[peer.ID]struct{}),
	}, nil
}

// Start loads the authorized peers and registers the protocol. Streams are
// served with ctx.
func (s *P2PServer) Start(ctx context.Context) error {
	if err := s.ReloadPeers(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.host.SetStreamHandler(ProtocolID, s.handleStream)
	s.log.Info("P2P: serving", "peer_id", s.host.ID().String(), "addresses", s.Addrs())
	return nil
}

// ReloadPeers rebuilds the allowlist from the peer file
func (s *P2PServer) ReloadPeers() error {
	if err := s.peers.LoadPeers(); err != nil {
		return fmt.Errorf("failed to load authorized peers: %w", err)
	}
	list, err := s.peers.GetPeers()
	if err != nil {
		return err
	}
	allowed := make(map[peer.ID]struct{}, len(list))
	for i := range list {
		id, err := list[i].PeerID()
		if err != nil {
			return fmt.Errorf("authorized peer %s: %w", list[i].String(), err)
		}
		allowed[id] = struct{}{}
	}

	s.mu.Lock()
	s.allowed = allowed
	s.mu.Unlock()
	if len(allowed) == 0 {
		s.log.Warn("P2P: no authorized peers, every stream will be refused")
	}
	return nil
}

// Authorized reports whether id may open command streams
func (s *P2PServer) Authorized(id peer.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowed[id]
	return ok
}

// ID returns the host's peer ID
func (s *P2PServer) ID() peer.ID {
	return s.host.ID()
}

// Addrs returns the dialable addresses including the /p2p component
func (s *P2PServer) Addrs() []multiaddr.Multiaddr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: s.host.ID(), Addrs: s.host.Addrs()})
	if err != nil {
		return nil
	}
	return addrs
}

func (s *P2PServer) handleStream(stream network.Stream) {
	remote := stream.Conn().RemotePeer()
	if !s.Authorized(remote) {
		s.log.Warn("P2P: refused stream", "peer_id", remote.String(), "error", ErrPeerNotAuthorized)
		_ = stream.Reset()
		return
	}
	defer stream.Close()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	if err := serveConn(ctx, stream, s.handler); err != nil {
		s.log.Warn("P2P: stream failed", "peer_id", remote.String(), "error", err)
		_ = stream.Reset()
	}
}

// Close stops serving and shuts the host down
func (s *P2PServer) Close() error {
	s.host.RemoveStreamHandler(ProtocolID)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.host.Close()
}

// P2PClient sends commands to a P2PServer, one stream per exchange
type P2PClient struct {
	host   host.Host
	target peer.ID
}

// NewP2PClient creates a dial-only host with the given identity
func NewP2PClient(identity crypto.PrivKey) (*P2PClient, error) {
	hst, err := newHost(nil, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return &P2PClient{host: hst}, nil
}

// Connect dials a server address that ends in /p2p/<peer-id>
func (c *P2PClient) Connect(ctx context.Context, addr string) error {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return fmt.Errorf("address %q has no peer ID: %w", addr, err)
	}
	if err := c.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}
	c.target = info.ID
	return nil
}

// Exchange implements apdu.Exchanger
func (c *P2PClient) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if c.target == "" {
		return nil, ErrNotConnected
	}
	stream, err := c.host.NewStream(ctx, c.target, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}
	if err := WriteRequest(stream, request); err != nil {
		_ = stream.Reset()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return nil, err
	}
	resp, err := ReadResponse(stream)
	if err != nil {
		_ = stream.Reset()
		return nil, err
	}
	return resp, nil
}

// ID returns the client's peer ID
func (c *P2PClient) ID() peer.ID {
	return c.host.ID()
}

// Close shuts the host down
func (c *P2PClient) Close() error {
	return c.host.Close()
}
