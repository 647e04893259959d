// Package transport carries command frames between a host and the signer,
// over plain TCP in the Speculos APDU framing or over libp2p streams.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"trtl-signer/internal/apdu"
)

var (
	// ErrFrameTooLarge is returned for a length prefix above MaxFrameSize
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrPeerNotAuthorized is returned when a stream comes from a peer missing
	// from the authorized peer list
	ErrPeerNotAuthorized = errors.New("peer is not authorized")
	// ErrNotConnected is returned by a client used before Connect
	ErrNotConnected = errors.New("client is not connected")
)

// MaxFrameSize bounds a request frame: a full header and the largest data
const MaxFrameSize = apdu.HeaderSize + apdu.MaxDataSize

// swSize is the status word that follows response data
const swSize = 2

// Handler processes one raw command and returns the raw response. The apdu
// dispatcher satisfies it.
type Handler interface {
	Exchange(ctx context.Context, request []byte) []byte
}

func readLength(r io.Reader) (int, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	return int(n), nil
}

// ReadRequest reads one length prefixed command
func ReadRequest(r io.Reader) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d byte request: %w", n, err)
	}
	return buf, nil
}

// WriteRequest writes one length prefixed command
func WriteRequest(w io.Writer, request []byte) error {
	if len(request) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(request))
	}
	buf := make([]byte, 4, 4+len(request))
	binary.BigEndian.PutUint32(buf, uint32(len(request)))
	_, err := w.Write(append(buf, request...))
	return err
}

// WriteResponse writes data and status word. The length prefix counts the
// data only.
func WriteResponse(w io.Writer, response []byte) error {
	if len(response) < swSize {
		return fmt.Errorf("response of %d bytes has no status word", len(response))
	}
	buf := make([]byte, 4, 4+len(response))
	binary.BigEndian.PutUint32(buf, uint32(len(response)-swSize))
	_, err := w.Write(append(buf, response...))
	return err
}

// ReadResponse reads data and status word as one slice
func ReadResponse(r io.Reader) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n+swSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d byte response: %w", n, err)
	}
	return buf, nil
}

// serveConn answers requests on rw until it fails or closes
func serveConn(ctx context.Context, rw io.ReadWriter, h Handler) error {
	for {
		req, err := ReadRequest(rw)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		resp := h.Exchange(ctx, req)
		if err := WriteResponse(rw, resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}
