package rackrpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Handler processes one decoded request against shared controller state
// and returns the encoded response payload. header carries the request's
// identity (client_id/req_id echoed by the caller, pid, msg_type); state
// is whatever the controller passed to NewServer, type-asserted by the
// handler to its concrete type.
type Handler func(header Header, payload []byte, state any) ([]byte, error)

// Registry maps a msg_type to the Handler that serves it.
type Registry map[MsgType]Handler

// Server is one per connected client on the controller: it owns a
// transport, a registry, and a reference to shared controller state.
// Poll is non-blocking: a single Poll call attempts exactly one
// request/response exchange and returns immediately if none is pending.
type Server struct {
	transport Transport
	registry  Registry
	state     any
	clientID  uint64
	recvBuf   []byte
	log       *slog.Logger
}

// NewServer wires transport to registry for a client assigned clientID
// by the controller's registration step. state is shared, mutable
// controller state every handler call receives.
func NewServer(transport Transport, registry Registry, clientID uint64, state any, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		transport: transport,
		registry:  registry,
		state:     state,
		clientID:  clientID,
		recvBuf:   make([]byte, transport.MaxRecv()),
		log:       log,
	}
}

// ClientID reports the id this server was registered under.
func (s *Server) ClientID() uint64 { return s.clientID }

// Serve blocks, handling requests on this server's transport until it
// returns a non-nil error (including io.EOF on a clean client
// disconnect). It is the blocking counterpart to the controller's
// non-blocking Poll, used when a server gets its own goroutine instead
// of being multiplexed.
func (s *Server) Serve() error {
	for {
		if err := s.handleOne(); err != nil {
			return err
		}
	}
}

// Poll attempts exactly one request/response exchange without blocking
// on the transport's own terms; transports that cannot report readiness
// simply return quickly on a closed or empty connection. It reports
// io.EOF when the client has disconnected, and nil when there is
// currently nothing to do (callers distinguish by ignoring a wrapped
// io.ErrNoProgress-style sentinel — here, ErrWouldBlock).
func (s *Server) Poll() error {
	return s.handleOne()
}

// ErrWouldBlock is returned by Poll when no request is currently
// pending. The controller's round-robin loop treats it identically to a
// handled request: move on to the next server.
var ErrWouldBlock = fmt.Errorf("rackrpc: no request pending")

func (s *Server) handleOne() error {
	header, err := s.transport.RecvMsg(s.recvBuf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("rackrpc: recv: %w", err)
	}
	payload := s.recvBuf[:header.MsgLen]

	handler, ok := s.registry[MsgType(header.MsgType)]
	if !ok {
		s.log.Warn("rackrpc: no handler registered", "msg_type", MsgType(header.MsgType), "client_id", s.clientID)
		return s.respondError(header, fmt.Errorf("rackrpc: unknown msg_type %d", header.MsgType))
	}

	resp, err := handler(header, payload, s.state)
	if err != nil {
		return s.respondError(header, err)
	}
	return s.transport.SendMsg(header, resp)
}

func (s *Server) respondError(header Header, handlerErr error) error {
	s.log.Error("rackrpc: handler failed", "msg_type", MsgType(header.MsgType), "client_id", s.clientID, "err", handlerErr)
	var code uint32 = 1
	if kerr, ok := handlerErr.(*KError); ok {
		code = kerr.Code
	}
	msg := handlerErr.Error()
	payload := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(payload[0:4], code)
	copy(payload[4:], msg)
	return s.transport.SendMsg(header, payload)
}

// HandleRegistration answers a MsgRegister frame with a freshly assigned
// client_id. The controller calls this once, before wrapping the same
// transport in a Server for the rest of the client's lifetime.
func HandleRegistration(transport Transport, assignedID uint64) (Header, error) {
	buf := make([]byte, HeaderSize)
	header, err := transport.RecvMsg(buf)
	if err != nil {
		return Header{}, fmt.Errorf("rackrpc: recv registration: %w", err)
	}
	if MsgType(header.MsgType) != MsgRegister {
		return Header{}, fmt.Errorf("rackrpc: expected registration, got %s", MsgType(header.MsgType))
	}
	resp := make([]byte, 8)
	binary.LittleEndian.PutUint64(resp, assignedID)
	header.ClientID = assignedID
	if err := transport.SendMsg(header, resp); err != nil {
		return Header{}, fmt.Errorf("rackrpc: send registration response: %w", err)
	}
	return header, nil
}
