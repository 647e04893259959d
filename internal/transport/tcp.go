package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"trtl-signer/internal/logger"
)

// TCPServer serves the Speculos compatible APDU port
type TCPServer struct {
	addr    multiaddr.Multiaddr
	handler Handler
	log     *logger.Logger

	mu       sync.Mutex
	listener manet.Listener
	conns    map[manet.Conn]struct{}
	wg       sync.WaitGroup
}

// NewTCPServer prepares a server on a tcp multiaddr such as
// /ip4/127.0.0.1/tcp/9999
func NewTCPServer(addr string, h Handler) (*TCPServer, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return &TCPServer{
		addr:    ma,
		handler: h,
		log:     logger.Default().With("tcp"),
		conns:   make(map[manet.Conn]struct{}),
	}, nil
}

// Listen binds the listening socket
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	l, err := manet.Listen(s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = l
	s.log.Info("TCP: listening", "address", l.Multiaddr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Listen
func (s *TCPServer) Addr() multiaddr.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Multiaddr()
	}
	return s.addr
}

// Serve accepts connections until ctx is cancelled
func (s *TCPServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *TCPServer) handle(ctx context.Context, conn manet.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	remote := conn.RemoteMultiaddr().String()
	s.log.Debug("TCP: client connected", "remote", remote)
	if err := serveConn(ctx, conn, s.handler); err != nil && ctx.Err() == nil {
		s.log.Warn("TCP: connection closed", "remote", remote, "error", err)
		return
	}
	s.log.Debug("TCP: client disconnected", "remote", remote)
}

func (s *TCPServer) track(conn manet.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

func (s *TCPServer) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// TCPClient talks to a TCPServer or a Speculos APDU port
type TCPClient struct {
	mu   sync.Mutex
	conn manet.Conn
}

// DialTCP connects to addr, a tcp multiaddr
func DialTCP(ctx context.Context, addr string) (*TCPClient, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	var d manet.Dialer
	conn, err := d.DialContext(ctx, ma)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &TCPClient{conn: conn}, nil
}

// Exchange implements apdu.Exchanger
func (c *TCPClient) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteRequest(c.conn, request); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	resp, err := ReadResponse(c.conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}

// Close closes the connection
func (c *TCPClient) Close() error {
	return c.conn.Close()
}
