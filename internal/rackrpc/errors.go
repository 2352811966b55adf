package rackrpc

import "fmt"

// Transport error taxonomy. These are the errors the client surfaces to
// its caller; handlers on the controller respond with a KError encoded
// into the reply payload instead of returning one of these directly.
var (
	ErrMalformedResponse = fmt.Errorf("rackrpc: malformed response")
	ErrExtraData         = fmt.Errorf("rackrpc: extra data in response")
	ErrTimeout            = fmt.Errorf("rackrpc: timeout")
	ErrDisconnect         = fmt.Errorf("rackrpc: disconnected")
)

// KError is the typed error a handler encodes back to the client when a
// request fails. It travels inside the payload, not the header: the
// header always round-trips client_id/req_id even on failure.
type KError struct {
	Code    uint32
	Message string
}

func (e *KError) Error() string {
	return fmt.Sprintf("rackrpc: controller error %d: %s", e.Code, e.Message)
}
