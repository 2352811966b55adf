package handlers

import (
	"encoding/binary"
	"fmt"

	"github.com/rackscale/corekernel/internal/rackrpc"
)

// FileSystem is the controller-side surface the file-op handlers proxy
// to. It is satisfied by whatever the controller actually wires up; the
// handlers in this file only decode the request and encode the result.
type FileSystem interface {
	Open(pid uint64, path string, flags uint32) (fd uint64, err error)
	Close(pid uint64, fd uint64) error
	Delete(pid uint64, path string) error
	Mkdir(pid uint64, path string, mode uint32) error
	Rename(pid uint64, oldPath, newPath string) error
	Read(pid uint64, fd uint64, n uint32) ([]byte, error)
	ReadAt(pid uint64, fd uint64, offset uint64, n uint32) ([]byte, error)
	Write(pid uint64, fd uint64, data []byte) (written uint32, err error)
	WriteAt(pid uint64, fd uint64, offset uint64, data []byte) (written uint32, err error)
}

func decodeString(b []byte, off *int) (string, error) {
	if *off+4 > len(b) {
		return "", fmt.Errorf("handlers: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(b[*off : *off+4]))
	*off += 4
	if *off+n > len(b) {
		return "", fmt.Errorf("handlers: truncated string body")
	}
	s := string(b[*off : *off+n])
	*off += n
	return s, nil
}

func fsState(state any) (*ControllerState, error) {
	cs, ok := state.(*ControllerState)
	if !ok {
		return nil, fmt.Errorf("handlers: unexpected state type %T", state)
	}
	if cs.FS == nil {
		return nil, fmt.Errorf("handlers: no FileSystem wired into controller state")
	}
	return cs, nil
}

func fileOpen(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	off := 0
	path, err := decodeString(payload, &off)
	if err != nil {
		return encodeKError(err), err
	}
	if off+4 > len(payload) {
		err := fmt.Errorf("handlers: file_open missing flags")
		return encodeKError(err), err
	}
	flags := binary.LittleEndian.Uint32(payload[off : off+4])

	fd, err := cs.FS.Open(header.PID, path, flags)
	if err != nil {
		return encodeKError(err), err
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, fd)
	return out, nil
}

func fileClose(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	if len(payload) < 8 {
		err := fmt.Errorf("handlers: file_close missing fd")
		return encodeKError(err), err
	}
	fd := binary.LittleEndian.Uint64(payload[0:8])
	if err := cs.FS.Close(header.PID, fd); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func fileDelete(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	off := 0
	path, err := decodeString(payload, &off)
	if err != nil {
		return encodeKError(err), err
	}
	if err := cs.FS.Delete(header.PID, path); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func fileMkdir(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	off := 0
	path, err := decodeString(payload, &off)
	if err != nil {
		return encodeKError(err), err
	}
	if off+4 > len(payload) {
		err := fmt.Errorf("handlers: mkdir missing mode")
		return encodeKError(err), err
	}
	mode := binary.LittleEndian.Uint32(payload[off : off+4])
	if err := cs.FS.Mkdir(header.PID, path, mode); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func fileRename(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	off := 0
	oldPath, err := decodeString(payload, &off)
	if err != nil {
		return encodeKError(err), err
	}
	newPath, err := decodeString(payload, &off)
	if err != nil {
		return encodeKError(err), err
	}
	if err := cs.FS.Rename(header.PID, oldPath, newPath); err != nil {
		return encodeKError(err), err
	}
	return nil, nil
}

func fileRead(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	if len(payload) < 12 {
		err := fmt.Errorf("handlers: file_read payload too short")
		return encodeKError(err), err
	}
	fd := binary.LittleEndian.Uint64(payload[0:8])
	n := binary.LittleEndian.Uint32(payload[8:12])
	data, err := cs.FS.Read(header.PID, fd, n)
	if err != nil {
		return encodeKError(err), err
	}
	return encodeBytes(data), nil
}

func fileReadAt(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	if len(payload) < 20 {
		err := fmt.Errorf("handlers: file_readat payload too short")
		return encodeKError(err), err
	}
	fd := binary.LittleEndian.Uint64(payload[0:8])
	offset := binary.LittleEndian.Uint64(payload[8:16])
	n := binary.LittleEndian.Uint32(payload[16:20])
	data, err := cs.FS.ReadAt(header.PID, fd, offset, n)
	if err != nil {
		return encodeKError(err), err
	}
	return encodeBytes(data), nil
}

func fileWrite(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	if len(payload) < 8 {
		err := fmt.Errorf("handlers: file_write payload too short")
		return encodeKError(err), err
	}
	fd := binary.LittleEndian.Uint64(payload[0:8])
	written, err := cs.FS.Write(header.PID, fd, payload[8:])
	if err != nil {
		return encodeKError(err), err
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, written)
	return out, nil
}

func fileWriteAt(header rackrpc.Header, payload []byte, state any) ([]byte, error) {
	cs, err := fsState(state)
	if err != nil {
		return encodeKError(err), err
	}
	if len(payload) < 16 {
		err := fmt.Errorf("handlers: file_writeat payload too short")
		return encodeKError(err), err
	}
	fd := binary.LittleEndian.Uint64(payload[0:8])
	offset := binary.LittleEndian.Uint64(payload[8:16])
	written, err := cs.FS.WriteAt(header.PID, fd, offset, payload[16:])
	if err != nil {
		return encodeKError(err), err
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, written)
	return out, nil
}

func encodeBytes(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	copy(out[4:], data)
	return out
}
