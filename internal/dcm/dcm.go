// Package dcm implements the client side of the distributed cluster
// manager interface: a UDP socket for affinity-allocation requests and a
// TCP-RPC client to the external scheduler for the rest of the resource
// allocation surface.
package dcm

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPort is the fixed DCM UDP port used in the reference.
const DefaultPort = 6971

// NodeTopology describes one rack node's resources, loaded from the
// controller's YAML manifest at startup (see config.go) and sent via
// RegisterNode.
type NodeTopology struct {
	NodeID int    `yaml:"node_id"`
	Cores  int    `yaml:"cores"`
	Memory uint64 `yaml:"memory"`
}

// Client is the DCM interface: register_node, resource_alloc,
// resource_release, affinity_alloc. Failures are wrapped with %w so
// callers can match the sentinel errors below; the rackrpc handlers map
// these onto a KError in the reply payload.
type Client struct {
	udp     *net.UDPConn
	tcpAddr string
	limiter *rate.Limiter
}

// Dial opens the UDP socket used for affinity-allocation traffic and
// records the scheduler's TCP address for the rest of the RPC surface.
// retryRate bounds how often AffinityAlloc may send a request; no call
// is retried after a failure.
func Dial(udpAddr, tcpAddr string, retryRate rate.Limit) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dcm: resolve udp addr %s: %w", udpAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dcm: dial udp %s: %w", udpAddr, err)
	}
	return &Client{udp: conn, tcpAddr: tcpAddr, limiter: rate.NewLimiter(retryRate, 1)}, nil
}

func (c *Client) Close() error {
	if c.udp == nil {
		return nil
	}
	return c.udp.Close()
}

// RegisterNode announces a node's resources to the scheduler.
func (c *Client) RegisterNode(ctx context.Context, node NodeTopology) error {
	conn, err := c.dialTCP(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := make([]byte, 1+20)
	req[0] = opRegisterNode
	binary.LittleEndian.PutUint64(req[1:9], uint64(node.NodeID))
	binary.LittleEndian.PutUint64(req[9:17], uint64(node.Cores))
	binary.LittleEndian.PutUint32(req[17:21], uint32(node.Memory))
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("dcm: register_node: %w", err)
	}
	return readStatus(conn, "register_node")
}

// ResourceAlloc requests nCores hardware threads and nFrames physical
// frames for pid, returning the machine ids and frame ids the scheduler
// granted.
func (c *Client) ResourceAlloc(ctx context.Context, pid uint64, nCores, nFrames int) (machineIDs []int, frameIDs []uint64, err error) {
	conn, err := c.dialTCP(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	req := make([]byte, 1+24)
	req[0] = opResourceAlloc
	binary.LittleEndian.PutUint64(req[1:9], pid)
	binary.LittleEndian.PutUint64(req[9:17], uint64(nCores))
	binary.LittleEndian.PutUint64(req[17:25], uint64(nFrames))
	if _, err := conn.Write(req); err != nil {
		return nil, nil, fmt.Errorf("dcm: resource_alloc: %w", err)
	}

	resp := make([]byte, 4096)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: resource_alloc: %v", ErrSchedulerUnreachable, err)
	}
	return decodeAllocResponse(resp[:n])
}

// ResourceRelease returns previously allocated machine/frame ids.
func (c *Client) ResourceRelease(ctx context.Context, pid uint64, machineIDs []int, frameIDs []uint64) error {
	conn, err := c.dialTCP(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := make([]byte, 1+8+4+4*len(machineIDs)+4+8*len(frameIDs))
	off := 0
	req[off] = opResourceRelease
	off++
	binary.LittleEndian.PutUint64(req[off:off+8], pid)
	off += 8
	binary.LittleEndian.PutUint32(req[off:off+4], uint32(len(machineIDs)))
	off += 4
	for _, m := range machineIDs {
		binary.LittleEndian.PutUint32(req[off:off+4], uint32(m))
		off += 4
	}
	binary.LittleEndian.PutUint32(req[off:off+4], uint32(len(frameIDs)))
	off += 4
	for _, f := range frameIDs {
		binary.LittleEndian.PutUint64(req[off:off+8], f)
		off += 8
	}
	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("dcm: resource_release: %w", err)
	}
	return readStatus(conn, "resource_release")
}

// AffinityAlloc requests nLargePages huge pages affine to machine mid,
// over the fixed UDP port (6971 in the reference), per §6.
func (c *Client) AffinityAlloc(mid int, nLargePages int) ([]uint64, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("dcm: affinity_alloc rate limit: %w", err)
	}

	req := make([]byte, 1+12)
	req[0] = opAffinityAlloc
	binary.LittleEndian.PutUint32(req[1:5], uint32(mid))
	binary.LittleEndian.PutUint64(req[5:13], uint64(nLargePages))

	c.udp.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.udp.Write(req); err != nil {
		return nil, fmt.Errorf("%w: affinity_alloc write: %v", ErrSchedulerUnreachable, err)
	}

	resp := make([]byte, 4096)
	n, err := c.udp.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: affinity_alloc read: %v", ErrSchedulerUnreachable, err)
	}
	return decodeFrameList(resp[:n])
}

func (c *Client) dialTCP(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrSchedulerUnreachable, c.tcpAddr, err)
	}
	return conn, nil
}

func readStatus(conn net.Conn, op string) error {
	var status [1]byte
	if _, err := conn.Read(status[:]); err != nil {
		return fmt.Errorf("%w: %s status: %v", ErrSchedulerUnreachable, op, err)
	}
	if status[0] != 0 {
		return fmt.Errorf("%w: %s rejected (code %d)", ErrAllocationRefused, op, status[0])
	}
	return nil
}

func decodeAllocResponse(b []byte) ([]int, []uint64, error) {
	if len(b) < 8 {
		return nil, nil, fmt.Errorf("%w: alloc response too short", ErrMalformedResponse)
	}
	nMachines := int(binary.LittleEndian.Uint32(b[0:4]))
	off := 4
	if off+4*nMachines+4 > len(b) {
		return nil, nil, fmt.Errorf("%w: alloc response truncated", ErrMalformedResponse)
	}
	machines := make([]int, nMachines)
	for i := range machines {
		machines[i] = int(binary.LittleEndian.Uint32(b[off : off+4]))
		off += 4
	}
	nFrames := int(binary.LittleEndian.Uint32(b[off : off+4]))
	off += 4
	if off+8*nFrames > len(b) {
		return nil, nil, fmt.Errorf("%w: alloc response truncated", ErrMalformedResponse)
	}
	frames := make([]uint64, nFrames)
	for i := range frames {
		frames[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	return machines, frames, nil
}

func decodeFrameList(b []byte) ([]uint64, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: affinity response too short", ErrMalformedResponse)
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	if 4+8*n > len(b) {
		return nil, fmt.Errorf("%w: affinity response truncated", ErrMalformedResponse)
	}
	frames := make([]uint64, n)
	for i := range frames {
		frames[i] = binary.LittleEndian.Uint64(b[4+8*i : 4+8*i+8])
	}
	return frames, nil
}

const (
	opRegisterNode byte = iota
	opResourceAlloc
	opResourceRelease
	opAffinityAlloc
)
