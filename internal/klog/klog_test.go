package klog

import "testing"

func TestLogfRoundTripsSourceAndMessage(t *testing.T) {
	r := NewSized(4)
	r.Logf(LevelWarn, "vspace", "unmapped %s at %#x", "page", 0x1000)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	rec := snap[0]
	if rec.Level != LevelWarn {
		t.Errorf("Level = %v, want LevelWarn", rec.Level)
	}
	if got := rec.SourceString(); got != "vspace" {
		t.Errorf("SourceString() = %q, want %q", got, "vspace")
	}
	if got, want := rec.MessageString(), "unmapped page at 0x1000"; got != want {
		t.Errorf("MessageString() = %q, want %q", got, want)
	}
}

func TestRingWrapsWithoutGrowing(t *testing.T) {
	r := NewSized(2)
	for i := 0; i < 5; i++ {
		r.Logf(LevelInfo, "trap", "event %d", i)
	}
	if got := r.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want ring capacity 2", len(snap))
	}
	if snap[0].MessageString() != "event 3" || snap[1].MessageString() != "event 4" {
		t.Errorf("Snapshot() = %q, %q, want the two most recent events", snap[0].MessageString(), snap[1].MessageString())
	}
}

func TestSourceAndMessageTruncateRatherThanOverflow(t *testing.T) {
	r := NewSized(1)
	longSource := "this-source-name-is-far-too-long-for-the-fixed-buffer"
	r.Logf(LevelFatal, longSource, "%s", "this message is also longer than the fixed 112-byte slot allows for, by design, so it must be truncated safely without panicking")

	rec := r.Snapshot()[0]
	if len(rec.SourceString()) != sourceCap {
		t.Errorf("SourceString() len = %d, want %d (truncated)", len(rec.SourceString()), sourceCap)
	}
	if len(rec.MessageString()) != messageCap {
		t.Errorf("MessageString() len = %d, want %d (truncated)", len(rec.MessageString()), messageCap)
	}
}

func TestNewSizedRejectsNonPowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewSized(3) did not panic")
		}
	}()
	NewSized(3)
}
