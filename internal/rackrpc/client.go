package rackrpc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Client is a synchronous, single-threaded-per-call rackscale client.
// The first call it ever makes is an implicit registration; every call
// after that carries the client_id the server assigned.
type Client struct {
	mu        sync.Mutex
	transport Transport
	pid       uint64
	clientID  uint64
	reqID     atomic.Uint64
	registered bool
	recvBuf   []byte
}

// NewClient wraps transport for a process identified by pid. The
// transport must already be connected (client_connect in the spec's
// terms); registration happens lazily on the first Call.
func NewClient(transport Transport, pid uint64) *Client {
	return &Client{transport: transport, pid: pid, recvBuf: make([]byte, transport.MaxRecv())}
}

// Call sends msgType with payload and returns the response payload. It
// registers first if this is the client's first call. A client_id or
// req_id mismatch on the response is reported as ErrMalformedResponse,
// per spec a fatal condition from the client's perspective.
func (c *Client) Call(msgType MsgType, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registered {
		if err := c.registerLocked(); err != nil {
			return nil, err
		}
	}
	return c.callLocked(msgType, payload)
}

func (c *Client) registerLocked() error {
	resp, err := c.callLocked(MsgRegister, nil)
	if err != nil {
		return fmt.Errorf("rackrpc: register: %w", err)
	}
	if len(resp) < 8 {
		return fmt.Errorf("%w: register response too short", ErrMalformedResponse)
	}
	c.clientID = decodeUint64(resp)
	c.registered = true
	return nil
}

func (c *Client) callLocked(msgType MsgType, payload []byte) ([]byte, error) {
	reqID := c.reqID.Add(1)
	req := Header{ClientID: c.clientID, ReqID: reqID, PID: c.pid, MsgType: uint8(msgType)}
	if err := c.transport.SendMsg(req, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnect, err)
	}

	resp, err := c.transport.RecvMsg(c.recvBuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnect, err)
	}
	// Registration responses don't yet know client_id, so only req_id is
	// checked there; every later call checks both.
	if msgType != MsgRegister && resp.ClientID != c.clientID {
		return nil, fmt.Errorf("%w: client_id %d, want %d", ErrMalformedResponse, resp.ClientID, c.clientID)
	}
	if resp.ReqID != reqID {
		return nil, fmt.Errorf("%w: req_id %d, want %d", ErrMalformedResponse, resp.ReqID, reqID)
	}
	out := make([]byte, resp.MsgLen)
	copy(out, c.recvBuf[:resp.MsgLen])
	return out, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
