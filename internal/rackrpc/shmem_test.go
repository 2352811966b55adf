package rackrpc

import (
	"fmt"
	"testing"
)

func TestShmemTransportRoundTrip(t *testing.T) {
	a, b, err := NewShmemPair(4096, 1024)
	if err != nil {
		t.Fatalf("NewShmemPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	req := Header{ClientID: 1, ReqID: 2, PID: 9, MsgType: uint8(MsgRequestCore)}
	payload := []byte("shmem payload")

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1024)
		hdr, err := b.RecvMsg(buf)
		if err != nil {
			done <- err
			return
		}
		if string(buf[:hdr.MsgLen]) != string(payload) {
			done <- fmt.Errorf("payload mismatch: got %q, want %q", buf[:hdr.MsgLen], payload)
			return
		}
		done <- nil
	}()

	if err := a.SendMsg(req, payload); err != nil {
		t.Fatalf("SendMsg: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("receiver: %v", err)
	}
}

func TestShmemTransportRejectsOversizedPayload(t *testing.T) {
	a, b, err := NewShmemPair(4096, 8)
	if err != nil {
		t.Fatalf("NewShmemPair: %v", err)
	}
	defer a.Close()
	defer b.Close()

	if err := a.SendMsg(Header{}, make([]byte, 64)); err == nil {
		t.Fatal("SendMsg with an over-max-frame payload succeeded")
	}
}
