// Package klog is the architecture layer's logger: a fixed-capacity ring
// of records, sized for code that runs below "exit boot services", where
// neither a goroutine scheduler nor a guaranteed-present heap may be
// assumed. Every record
// lives in a preallocated array slot; a writer never grows the ring or
// blocks, it only overwrites the oldest entry once the ring wraps.
package klog

import (
	"fmt"
	"sync/atomic"
)

// Level classifies a record the way the trap dispatcher and VSpace
// builder's fatal paths distinguish diagnostic noise from a condition
// that is about to shut the core down.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarn
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelFatal:
		return "FATAL"
	default:
		return "???"
	}
}

// sourceCap and messageCap bound each record so the ring is a flat
// array of fixed-size structs, never a slice of pointers: there is no
// allocation on the record itself once NewSized has sized the ring.
const (
	sourceCap  = 16
	messageCap = 112
)

// Record is one ring slot. Seq is the monotonically increasing write
// index, not the slot index, so a reader can tell how many older
// records were overwritten by the time it observes the ring.
type Record struct {
	Seq     uint64
	Level   Level
	Source  [sourceCap]byte
	SrcLen  uint8
	Message [messageCap]byte
	MsgLen  uint8
}

// SourceString returns the record's source tag as a string.
func (r *Record) SourceString() string { return string(r.Source[:r.SrcLen]) }

// MessageString returns the record's formatted message as a string.
func (r *Record) MessageString() string { return string(r.Message[:r.MsgLen]) }

// defaultCapacity records of this struct's size (144 bytes each, 2304
// bytes in all) fit within a single 4 KiB page, so a real build can back
// the ring with one allocated frame instead of a Go heap slice.
const defaultCapacity = 16

// Ring is a fixed-capacity, allocation-free-on-the-hot-path log ring.
// The zero Ring is unusable; construct one with New or NewSized.
type Ring struct {
	records []Record
	next    atomic.Uint64
}

// New returns a Ring sized to defaultCapacity.
func New() *Ring { return NewSized(defaultCapacity) }

// NewSized returns a Ring with room for capacity records. capacity must
// be a power of two so slot selection is a mask, not a division.
func NewSized(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic(fmt.Sprintf("klog: capacity %d must be a positive power of two", capacity))
	}
	return &Ring{records: make([]Record, capacity)}
}

// Logf formats message and writes it as a new record tagged source/level.
// Formatting happens in a scratch buffer outside the ring; only the
// bounded, truncated result is copied into the ring slot, so a ring
// slot itself is never resized. This is the one place the package is
// not strictly allocation-free — see DESIGN.md for why that is an
// acceptable deviation for a host-testable model of the trampoline's
// logger.
func (r *Ring) Logf(level Level, source, format string, args ...any) {
	idx := r.next.Add(1) - 1
	slot := &r.records[idx&uint64(len(r.records)-1)]

	slot.Seq = idx
	slot.Level = level
	slot.SrcLen = uint8(copy(slot.Source[:], source))

	msg := fmt.Appendf(nil, format, args...)
	slot.MsgLen = uint8(copy(slot.Message[:], msg))
}

// Len reports how many records have ever been written, including ones
// since overwritten.
func (r *Ring) Len() uint64 { return r.next.Load() }

// Snapshot returns up to the ring's capacity most-recent records, in
// the order they were written (oldest of the retained set first).
func (r *Ring) Snapshot() []Record {
	written := r.next.Load()
	cap64 := uint64(len(r.records))
	n := written
	if n > cap64 {
		n = cap64
	}
	out := make([]Record, 0, n)
	start := written - n
	for i := start; i < written; i++ {
		out = append(out, r.records[i&(cap64-1)])
	}
	return out
}

// Default is the process-wide ring the architecture layer logs
// through when no more specific Ring has been threaded in; per-core
// code should prefer a Ring reachable from its own KCB once one
// exists, the same way CURRENT_SAVE_AREA is per-core rather than
// global.
var Default = New()

// Logf writes a record to Default.
func Logf(level Level, source, format string, args ...any) {
	Default.Logf(level, source, format, args...)
}
