package rackrpc

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// shmemRing is a single-producer/single-consumer byte ring backed by
// anonymous shared memory: one flat mmap'd slice addressed by plain
// offsets, with no separate kernel object per message.
type shmemRing struct {
	mem  []byte  // the full mapping, including the cursor header; owned for Munmap
	buf  []byte  // mem[shmemHeaderBytes:], the actual byte ring
	head *uint64 // write cursor, producer-owned
	tail *uint64 // read cursor, consumer-owned
}

const shmemHeaderBytes = 16 // two uint64 cursors

func newShmemRing(capacity int) (*shmemRing, error) {
	mem, err := unix.Mmap(-1, 0, shmemHeaderBytes+capacity, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("rackrpc: mmap shmem ring: %w", err)
	}
	return &shmemRing{
		mem:  mem,
		buf:  mem[shmemHeaderBytes:],
		head: (*uint64)(unsafePointer(&mem[0])),
		tail: (*uint64)(unsafePointer(&mem[8])),
	}, nil
}

func (r *shmemRing) close() error {
	return unix.Munmap(r.mem)
}

func (r *shmemRing) write(p []byte) {
	cap := len(r.buf)
	head := atomic.LoadUint64(r.head)
	for i, b := range p {
		r.buf[(int(head)+i)%cap] = b
	}
	atomic.StoreUint64(r.head, head+uint64(len(p)))
}

func (r *shmemRing) read(p []byte) {
	capLen := len(r.buf)
	tail := atomic.LoadUint64(r.tail)
	for i := range p {
		p[i] = r.buf[(int(tail)+i)%capLen]
	}
	atomic.StoreUint64(r.tail, tail+uint64(len(p)))
}

func (r *shmemRing) available() uint64 {
	return atomic.LoadUint64(r.head) - atomic.LoadUint64(r.tail)
}

// ShmemTransport is the shared-memory Transport: two rings, one per
// direction, polled with a short sleep between attempts rather than a
// blocking primitive, since the memory has no associated wait queue.
type ShmemTransport struct {
	send, recv *shmemRing
	maxFrame   int
	pollEvery  time.Duration
}

// NewShmemPair creates a connected pair of ShmemTransports: writes on
// one's send ring are reads on the other's recv ring.
func NewShmemPair(capacity, maxFrame int) (a, b *ShmemTransport, err error) {
	ring1, err := newShmemRing(capacity)
	if err != nil {
		return nil, nil, err
	}
	ring2, err := newShmemRing(capacity)
	if err != nil {
		return nil, nil, err
	}
	a = &ShmemTransport{send: ring1, recv: ring2, maxFrame: maxFrame, pollEvery: time.Millisecond}
	b = &ShmemTransport{send: ring2, recv: ring1, maxFrame: maxFrame, pollEvery: time.Millisecond}
	return a, b, nil
}

func (t *ShmemTransport) SendMsg(header Header, payload ...[]byte) error {
	var total int
	for _, p := range payload {
		total += len(p)
	}
	if total > t.maxFrame {
		return fmt.Errorf("rackrpc: payload %d bytes exceeds shmem max frame %d", total, t.maxFrame)
	}
	header.MsgLen = uint64(total)

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], header.ClientID)
	binary.LittleEndian.PutUint64(hdr[8:16], header.ReqID)
	binary.LittleEndian.PutUint64(hdr[16:24], header.PID)
	hdr[24] = header.MsgType
	binary.LittleEndian.PutUint64(hdr[32:40], header.MsgLen)

	t.send.write(hdr[:])
	for _, p := range payload {
		if len(p) > 0 {
			t.send.write(p)
		}
	}
	return nil
}

func (t *ShmemTransport) RecvMsg(out []byte) (Header, error) {
	for t.recv.available() < HeaderSize {
		time.Sleep(t.pollEvery)
	}
	var hdr [HeaderSize]byte
	t.recv.read(hdr[:])
	header := Header{
		ClientID: binary.LittleEndian.Uint64(hdr[0:8]),
		ReqID:    binary.LittleEndian.Uint64(hdr[8:16]),
		PID:      binary.LittleEndian.Uint64(hdr[16:24]),
		MsgType:  hdr[24],
		MsgLen:   binary.LittleEndian.Uint64(hdr[32:40]),
	}
	if header.MsgLen > uint64(len(out)) {
		return Header{}, fmt.Errorf("%w: buffer too small for %d-byte frame", ErrExtraData, header.MsgLen)
	}
	for header.MsgLen > 0 && t.recv.available() < header.MsgLen {
		time.Sleep(t.pollEvery)
	}
	if header.MsgLen > 0 {
		t.recv.read(out[:header.MsgLen])
	}
	return header, nil
}

func (t *ShmemTransport) MaxSend() int { return t.maxFrame }
func (t *ShmemTransport) MaxRecv() int { return t.maxFrame }

func (t *ShmemTransport) Close() error {
	if err := t.send.close(); err != nil {
		return err
	}
	return t.recv.close()
}
