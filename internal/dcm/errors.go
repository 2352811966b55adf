package dcm

import "fmt"

// Failure taxonomy the resource allocator surfaces. The rackrpc
// handlers map these onto the caller's KError kind rather than
// propagating a dcm error type across the RPC boundary.
var (
	ErrSchedulerUnreachable = fmt.Errorf("dcm: scheduler unreachable")
	ErrAllocationRefused    = fmt.Errorf("dcm: allocation refused")
	ErrMalformedResponse    = fmt.Errorf("dcm: malformed response")
)
