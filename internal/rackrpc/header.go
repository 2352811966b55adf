// Package rackrpc implements the rackscale request/response fabric: a
// typed header, pluggable transports (TCP, shared memory), a synchronous
// client, and a per-client server the controller polls round-robin.
package rackrpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the on-wire size of Header: three u64 fields, one byte
// msg type, seven reserved bytes, one u64 length. Little-endian, no
// padding beyond what this layout implies.
const HeaderSize = 8 + 8 + 8 + 1 + 7 + 8

// Header is the fixed-size frame prefix preceding every rackscale
// message's payload.
type Header struct {
	ClientID uint64
	ReqID    uint64
	PID      uint64
	MsgType  uint8
	MsgLen   uint64
}

// MsgType enumerates the rackscale handler registry. MsgRegister is the
// client's first call on a fresh connection; the server answers it with
// the ClientID the client must echo on every subsequent call.
type MsgType uint8

const (
	MsgRegister MsgType = iota

	MsgFileOpen
	MsgFileClose
	MsgFileDelete
	MsgFileMkdir
	MsgFileRename
	MsgFileRead
	MsgFileReadAt
	MsgFileWrite
	MsgFileWriteAt

	MsgRequestCore
	MsgAllocatePhysical
	MsgReleasePhysical
	MsgLog
	MsgMakeProcess
	MsgGetProcessLogs
	MsgGetShmemFrames
	MsgGetWorkqueues
	MsgGetNrLog
	MsgCoreWork

	MsgGetHardwareThreads
)

func (m MsgType) String() string {
	names := [...]string{
		"Register",
		"FileOpen", "FileClose", "FileDelete", "FileMkdir", "FileRename",
		"FileRead", "FileReadAt", "FileWrite", "FileWriteAt",
		"RequestCore", "AllocatePhysical", "ReleasePhysical", "Log",
		"MakeProcess", "GetProcessLogs", "GetShmemFrames", "GetWorkqueues",
		"GetNrLog", "CoreWork",
		"GetHardwareThreads",
	}
	if int(m) < 0 || int(m) >= len(names) {
		return fmt.Sprintf("MsgType(%d)", int(m))
	}
	return names[m]
}

// EncodeHeader writes h in the wire layout described in the external
// interfaces section: client_id, req_id, pid, msg_type, 7 reserved
// bytes, msg_len, all little-endian.
func EncodeHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.ClientID)
	binary.LittleEndian.PutUint64(buf[8:16], h.ReqID)
	binary.LittleEndian.PutUint64(buf[16:24], h.PID)
	buf[24] = h.MsgType
	binary.LittleEndian.PutUint64(buf[32:40], h.MsgLen)
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader reads a Header in EncodeHeader's layout.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("rackrpc: read header: %w", err)
	}
	return Header{
		ClientID: binary.LittleEndian.Uint64(buf[0:8]),
		ReqID:    binary.LittleEndian.Uint64(buf[8:16]),
		PID:      binary.LittleEndian.Uint64(buf[16:24]),
		MsgType:  buf[24],
		MsgLen:   binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}
