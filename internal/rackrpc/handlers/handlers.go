// Package handlers implements the rackscale controller's msg_type
// registry: file ops, process ops (including request_core), and system
// ops, each returning its encoded response payload as a new slice.
package handlers

import (
	"context"
	"encoding/binary"
	"fmt"

	gsync "gvisor.dev/gvisor/pkg/sync"

	"github.com/rackscale/corekernel/internal/rackrpc"
)

// MachineSelector is the slice of the dcm.Client surface request_core
// and allocate_physical need: choosing machines and frames for a pid.
// *dcm.Client satisfies this directly; tests substitute a fake.
type MachineSelector interface {
	ResourceAlloc(ctx context.Context, pid uint64, nCores, nFrames int) (machineIDs []int, frameIDs []uint64, err error)
	ResourceRelease(ctx context.Context, pid uint64, machineIDs []int, frameIDs []uint64) error
}

// ThreadDesc identifies one hardware thread a node exposes for
// allocation: its global thread id and the node it lives on.
type ThreadDesc struct {
	GTID   uint64
	NodeID int
}

type threadSlot struct {
	thread ThreadDesc
	inUse  bool
}

// ClientState is the controller's per-client record: the hardware
// threads a client's process may draw from, guarded by its own lock so
// unrelated clients never contend.
type ClientState struct {
	mu        gsync.Mutex
	hwThreads []threadSlot
}

// NewClientState seeds a client's thread pool from threads.
func NewClientState(threads []ThreadDesc) *ClientState {
	slots := make([]threadSlot, len(threads))
	for i, t := range threads {
		slots[i] = threadSlot{thread: t}
	}
	return &ClientState{hwThreads: slots}
}

// AllocateCore is injected by the kernel build: given a validated
// (pid, entry_point, node_id, gtid), it installs the process on that
// thread and returns an error if the kernel refuses.
type AllocateCoreFunc func(pid uint64, entryPoint uint64, nodeID int, gtid uint64) error

// MakeProcessFunc creates the filesystem-visible process record for a
// freshly allocated pid. RequestCore calls it when its new_pid flag is
// set, and the make_process handler calls it for the header's pid.
type MakeProcessFunc func(pid uint64) error

// ControllerState is the shared state every Handler in this package
// operates on: per-client hardware-thread tables, a DCM client for
// machine selection, and the two kernel callbacks request_core drives.
type ControllerState struct {
	mu      gsync.Mutex
	clients map[uint64]*ClientState
	dcm     MachineSelector

	AllocateCore AllocateCoreFunc
	MakeProcess  MakeProcessFunc

	// FS backs the file-op handlers. It is deliberately an interface: the
	// controller owns whatever actually serves the calls (local disk,
	// proxied to another service); the handlers here only (de)serialize.
	FS FileSystem

	logMu      gsync.Mutex
	processLog map[uint64][]string
	nrLogCalls uint64
}

// NewControllerState creates empty controller state bound to a DCM
// client.
func NewControllerState(dcmClient MachineSelector, fs FileSystem) *ControllerState {
	return &ControllerState{
		clients:    make(map[uint64]*ClientState),
		dcm:        dcmClient,
		FS:         fs,
		processLog: make(map[uint64][]string),
	}
}

// RegisterClient installs per-client hardware-thread state, indexed by
// the client_id the rackrpc registration handshake assigned.
func (cs *ControllerState) RegisterClient(clientID uint64, threads []ThreadDesc) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.clients[clientID] = NewClientState(threads)
}

func (cs *ControllerState) client(clientID uint64) (*ClientState, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("handlers: no state registered for client %d", clientID)
	}
	return c, nil
}

// Registry returns the full msg_type -> Handler table for the enumerated
// file, process and system operations.
func Registry() rackrpc.Registry {
	return rackrpc.Registry{
		rackrpc.MsgFileOpen:     fileOpen,
		rackrpc.MsgFileClose:    fileClose,
		rackrpc.MsgFileDelete:   fileDelete,
		rackrpc.MsgFileMkdir:    fileMkdir,
		rackrpc.MsgFileRename:   fileRename,
		rackrpc.MsgFileRead:     fileRead,
		rackrpc.MsgFileReadAt:   fileReadAt,
		rackrpc.MsgFileWrite:    fileWrite,
		rackrpc.MsgFileWriteAt:  fileWriteAt,

		rackrpc.MsgRequestCore:       requestCore,
		rackrpc.MsgAllocatePhysical:  allocatePhysical,
		rackrpc.MsgReleasePhysical:   releasePhysical,
		rackrpc.MsgLog:               logMessage,
		rackrpc.MsgMakeProcess:       makeProcess,
		rackrpc.MsgGetProcessLogs:    getProcessLogs,
		rackrpc.MsgGetShmemFrames:    getShmemFrames,
		rackrpc.MsgGetWorkqueues:     getWorkqueues,
		rackrpc.MsgGetNrLog:          getNrLog,
		rackrpc.MsgCoreWork:          coreWork,

		rackrpc.MsgGetHardwareThreads: getHardwareThreads,
	}
}

func encodeKError(err error) []byte {
	kerr, ok := err.(*rackrpc.KError)
	if !ok {
		kerr = &rackrpc.KError{Code: 1, Message: err.Error()}
	}
	payload := make([]byte, 4+len(kerr.Message))
	binary.LittleEndian.PutUint32(payload[0:4], kerr.Code)
	copy(payload[4:], kerr.Message)
	return payload
}

func encodeGTIDResult(gtid uint64, code uint32) []byte {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint64(payload[0:8], gtid)
	binary.LittleEndian.PutUint32(payload[8:12], code)
	return payload
}

// requestCore implements §4.8's request_core: decode {pid, new_pid,
// entry_point}; ask DCM for a machine id; acquire the client's state
// lock; claim the first free hardware thread on that machine; call the
// kernel's allocate-core callback; optionally create the process
// record; encode (gtid, 0) on success or the error otherwise.
func requestCore(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: requestCore: unexpected state type %T", state)
	}
	if len(payload) < 17 {
		return encodeGTIDResult(0, 1), fmt.Errorf("handlers: request_core payload too short")
	}
	pid := binary.LittleEndian.Uint64(payload[0:8])
	newPid := payload[8] != 0
	entryPoint := binary.LittleEndian.Uint64(payload[9:17])

	client, err := cs.client(header.ClientID)
	if err != nil {
		return encodeKError(err), err
	}

	machineIDs, _, err := cs.dcm.ResourceAlloc(context.Background(), pid, 1, 0)
	if err != nil || len(machineIDs) == 0 {
		if err == nil {
			err = fmt.Errorf("handlers: dcm granted zero machines for pid %d", pid)
		}
		return encodeKError(err), err
	}
	mid := machineIDs[0]

	client.mu.Lock()
	var claimed *threadSlot
	for i := range client.hwThreads {
		slot := &client.hwThreads[i]
		if !slot.inUse && slot.thread.NodeID == mid {
			slot.inUse = true
			claimed = slot
			break
		}
	}
	client.mu.Unlock()

	if claimed == nil {
		err := fmt.Errorf("handlers: no free hardware thread on machine %d for pid %d", mid, pid)
		return encodeKError(err), err
	}

	if cs.AllocateCore != nil {
		if err := cs.AllocateCore(pid, entryPoint, claimed.thread.NodeID, claimed.thread.GTID); err != nil {
			client.mu.Lock()
			claimed.inUse = false
			client.mu.Unlock()
			return encodeKError(err), err
		}
	}

	if newPid && cs.MakeProcess != nil {
		if err := cs.MakeProcess(pid); err != nil {
			return encodeKError(err), err
		}
	}

	return encodeGTIDResult(claimed.thread.GTID, 0), nil
}

func getHardwareThreads(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: getHardwareThreads: unexpected state type %T", state)
	}
	client, err := cs.client(header.ClientID)
	if err != nil {
		return encodeKError(err), err
	}
	client.mu.Lock()
	defer client.mu.Unlock()

	out := make([]byte, 4+len(client.hwThreads)*9)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(client.hwThreads)))
	off := 4
	for _, slot := range client.hwThreads {
		binary.LittleEndian.PutUint64(out[off:off+8], slot.thread.GTID)
		if slot.inUse {
			out[off+8] = 1
		}
		off += 9
	}
	return out, nil
}
