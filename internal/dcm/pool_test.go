package dcm

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"golang.org/x/time/rate"
)

// startFakeScheduler serves a single resource_alloc request with the
// given machine/frame grant (or, if refuse is true, a rejected status
// byte) and returns the address to dial.
func startFakeScheduler(t *testing.T, machines []int, frames []uint64, refuse bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req := make([]byte, 1+24)
		if _, err := conn.Read(req); err != nil {
			return
		}
		if refuse {
			conn.Write([]byte{1})
			return
		}

		resp := make([]byte, 4+4*len(machines)+4+8*len(frames))
		off := 0
		binary.LittleEndian.PutUint32(resp[off:], uint32(len(machines)))
		off += 4
		for _, m := range machines {
			binary.LittleEndian.PutUint32(resp[off:], uint32(m))
			off += 4
		}
		binary.LittleEndian.PutUint32(resp[off:], uint32(len(frames)))
		off += 4
		for _, f := range frames {
			binary.LittleEndian.PutUint64(resp[off:], f)
			off += 8
		}
		conn.Write(resp)
	}()

	return ln.Addr().String()
}

func TestPoolResourceAllocReturnsFirstGrant(t *testing.T) {
	refusing := startFakeScheduler(t, nil, nil, true)
	granting := startFakeScheduler(t, []int{2}, []uint64{0x4000}, false)

	cRefuse, err := Dial("127.0.0.1:0", refusing, rate.Limit(1))
	if err != nil {
		t.Fatalf("dial refusing: %v", err)
	}
	defer cRefuse.Close()
	cGrant, err := Dial("127.0.0.1:0", granting, rate.Limit(1))
	if err != nil {
		t.Fatalf("dial granting: %v", err)
	}
	defer cGrant.Close()

	pool, err := NewPool(cRefuse, cGrant)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	machines, frames, err := pool.ResourceAlloc(context.Background(), 1, 1, 1)
	if err != nil {
		t.Fatalf("ResourceAlloc: %v", err)
	}
	if len(machines) != 1 || machines[0] != 2 {
		t.Errorf("machines = %v, want [2]", machines)
	}
	if len(frames) != 1 || frames[0] != 0x4000 {
		t.Errorf("frames = %v, want [0x4000]", frames)
	}
}

func TestPoolResourceAllocAllRefused(t *testing.T) {
	a := startFakeScheduler(t, nil, nil, true)
	b := startFakeScheduler(t, nil, nil, true)

	cA, _ := Dial("127.0.0.1:0", a, rate.Limit(1))
	defer cA.Close()
	cB, _ := Dial("127.0.0.1:0", b, rate.Limit(1))
	defer cB.Close()

	pool, _ := NewPool(cA, cB)
	if _, _, err := pool.ResourceAlloc(context.Background(), 1, 1, 1); err == nil {
		t.Fatal("expected an error when every candidate refuses")
	}
}

func TestNewPoolRejectsEmpty(t *testing.T) {
	if _, err := NewPool(); err == nil {
		t.Fatal("expected an error constructing an empty pool")
	}
}
