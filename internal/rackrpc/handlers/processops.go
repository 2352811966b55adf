package handlers

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rackscale/corekernel/internal/rackrpc"
)

func allocatePhysical(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: allocatePhysical: unexpected state type %T", state)
	}
	if len(payload) < 4 {
		err := fmt.Errorf("handlers: allocate_physical payload too short")
		return encodeKError(err), err
	}
	nFrames := int(binary.LittleEndian.Uint32(payload[0:4]))

	_, frameIDs, err := cs.dcm.ResourceAlloc(context.Background(), header.PID, 0, nFrames)
	if err != nil {
		return encodeKError(err), err
	}
	out := make([]byte, 4+8*len(frameIDs))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(frameIDs)))
	for i, f := range frameIDs {
		binary.LittleEndian.PutUint64(out[4+8*i:4+8*i+8], f)
	}
	return out, nil
}

func releasePhysical(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: releasePhysical: unexpected state type %T", state)
	}
	if len(payload) < 4 {
		err := fmt.Errorf("handlers: release_physical payload too short")
		return encodeKError(err), err
	}
	n := int(binary.LittleEndian.Uint32(payload[0:4]))
	if 4+8*n > len(payload) {
		err := fmt.Errorf("handlers: release_physical frame list truncated")
		return encodeKError(err), err
	}
	frames := make([]uint64, n)
	for i := range frames {
		frames[i] = binary.LittleEndian.Uint64(payload[4+8*i : 4+8*i+8])
	}
	if err := cs.dcm.ResourceRelease(context.Background(), header.PID, nil, frames); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func logMessage(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: logMessage: unexpected state type %T", state)
	}
	cs.logMu.Lock()
	cs.processLog[header.PID] = append(cs.processLog[header.PID], string(payload))
	cs.logMu.Unlock()
	return nil, nil
}

func makeProcess(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: makeProcess: unexpected state type %T", state)
	}
	if cs.MakeProcess == nil {
		return nil, nil
	}
	if err := cs.MakeProcess(header.PID); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func getProcessLogs(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: getProcessLogs: unexpected state type %T", state)
	}
	cs.logMu.Lock()
	lines := append([]string(nil), cs.processLog[header.PID]...)
	cs.logMu.Unlock()

	var total int
	for _, l := range lines {
		total += 4 + len(l)
	}
	out := make([]byte, 4+total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(lines)))
	off := 4
	for _, l := range lines {
		binary.LittleEndian.PutUint32(out[off:off+4], uint32(len(l)))
		off += 4
		copy(out[off:], l)
		off += len(l)
	}
	return out, nil
}

func getShmemFrames(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: getShmemFrames: unexpected state type %T", state)
	}
	client, err := cs.client(header.ClientID)
	if err != nil {
		return encodeKError(err), err
	}
	client.mu.Lock()
	n := len(client.hwThreads)
	client.mu.Unlock()
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(n))
	return out, nil
}

func getWorkqueues(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: getWorkqueues: unexpected state type %T", state)
	}
	client, err := cs.client(header.ClientID)
	if err != nil {
		return encodeKError(err), err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	out := make([]byte, 4+len(client.hwThreads)*8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(client.hwThreads)))
	off := 4
	for _, slot := range client.hwThreads {
		binary.LittleEndian.PutUint64(out[off:off+8], slot.thread.GTID)
		off += 8
	}
	return out, nil
}

func getNrLog(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: getNrLog: unexpected state type %T", state)
	}
	cs.logMu.Lock()
	cs.nrLogCalls++
	n := cs.nrLogCalls
	cs.logMu.Unlock()
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, n)
	return out, nil
}

// coreWork is the CoreWorkBatch opcode supplemented from the original
// userspace scheduler's batch-submission path: a client amortizes many
// independent work items into one request instead of one round trip
// each. The payload is a length-prefixed array of opaque work records;
// the controller only counts them here, since dispatching them onto a
// real scheduler queue is outside this handler's concern.
func coreWork(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	if len(payload) < 4 {
		err := fmt.Errorf("handlers: core_work payload too short")
		return encodeKError(err), err
	}
	n := binary.LittleEndian.Uint32(payload[0:4])
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, n)
	return out, nil
}
