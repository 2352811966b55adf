package rackrpc

import (
	"fmt"
	"io"
	"net"
)

// Transport is the pluggable send/recv trait both the TCP and
// shared-memory implementations satisfy. MaxSend/MaxRecv bound the
// payload sizes a caller may pass to Send/RecvMsg so a fixed-size
// shared-memory ring never needs to grow.
type Transport interface {
	// SendMsg writes header followed by the concatenation of payload,
	// matching header.MsgLen.
	SendMsg(header Header, payload ...[]byte) error
	// RecvMsg reads one frame and copies its payload into out, which must
	// be at least header.MsgLen bytes; it returns the decoded header.
	RecvMsg(out []byte) (Header, error)
	MaxSend() int
	MaxRecv() int
	Close() error
}

// connTransport implements Transport over any net.Conn: used directly by
// the TCP transport, and by tests that substitute an in-memory pipe
// (net.Pipe) for a real socket.
type connTransport struct {
	conn           net.Conn
	maxSend, maxRecv int
}

const defaultMaxFrame = 1 << 20

// NewConnTransport wraps an established connection. maxFrame bounds the
// payload size SendMsg/RecvMsg will accept; 0 selects a 1 MiB default.
func NewConnTransport(conn net.Conn, maxFrame int) Transport {
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrame
	}
	return &connTransport{conn: conn, maxSend: maxFrame, maxRecv: maxFrame}
}

func (t *connTransport) SendMsg(header Header, payload ...[]byte) error {
	var total int
	for _, p := range payload {
		total += len(p)
	}
	if total > t.maxSend {
		return fmt.Errorf("rackrpc: payload %d bytes exceeds max send %d", total, t.maxSend)
	}
	header.MsgLen = uint64(total)
	if err := EncodeHeader(t.conn, header); err != nil {
		return fmt.Errorf("rackrpc: send header: %w", err)
	}
	for _, p := range payload {
		if len(p) == 0 {
			continue
		}
		if _, err := t.conn.Write(p); err != nil {
			return fmt.Errorf("rackrpc: send payload: %w", err)
		}
	}
	return nil
}

func (t *connTransport) RecvMsg(out []byte) (Header, error) {
	header, err := DecodeHeader(t.conn)
	if err != nil {
		return Header{}, err
	}
	if header.MsgLen > uint64(t.maxRecv) {
		return Header{}, fmt.Errorf("rackrpc: incoming frame %d bytes exceeds max recv %d", header.MsgLen, t.maxRecv)
	}
	if header.MsgLen > uint64(len(out)) {
		return Header{}, fmt.Errorf("%w: buffer too small for %d-byte frame", ErrExtraData, header.MsgLen)
	}
	if header.MsgLen > 0 {
		if _, err := io.ReadFull(t.conn, out[:header.MsgLen]); err != nil {
			return Header{}, fmt.Errorf("rackrpc: recv payload: %w", err)
		}
	}
	return header, nil
}

func (t *connTransport) MaxSend() int { return t.maxSend }
func (t *connTransport) MaxRecv() int { return t.maxRecv }
func (t *connTransport) Close() error { return t.conn.Close() }

// DialTCP connects to a controller server listening on base+clientID,
// the per-client port assignment the controller uses for the TCP
// transport.
func DialTCP(host string, base int, clientID uint64) (Transport, error) {
	port := base + int(clientID)
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("rackrpc: dial client %d at %s:%d: %w", clientID, host, port, err)
	}
	return NewConnTransport(conn, 0), nil
}

// ListenTCP opens the per-client listener for clientID at base+clientID
// and returns it; it does not accept connections itself.
func ListenTCP(host string, base int, clientID uint64) (net.Listener, error) {
	port := base + int(clientID)
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("rackrpc: listen for client %d at %s:%d: %w", clientID, host, port, err)
	}
	return ln, nil
}
