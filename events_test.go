package vfdgateway

import "testing"

func TestEventSinkCapacityBound(t *testing.T) {
	s := newEventSink()
	for i := 0; i < eventRingCapacity+10; i++ {
		s.emit(KindInfo, "tick")
	}
	if got := len(s.snapshot()); got != eventRingCapacity {
		t.Fatalf("event ring length = %d, want %d", got, eventRingCapacity)
	}
}

func TestEventSinkDropsOldest(t *testing.T) {
	s := newEventSink()
	for i := 0; i < eventRingCapacity; i++ {
		s.emit(KindInfo, "first-batch")
	}
	s.emit(KindWarn, "marker")
	snap := s.snapshot()
	if snap[len(snap)-1].Text != "marker" {
		t.Fatalf("newest event not retained: %+v", snap[len(snap)-1])
	}
	if snap[0].Text != "first-batch" {
		t.Fatalf("expected oldest retained entry still from first batch, got %+v", snap[0])
	}
}

func TestEventSinkSince(t *testing.T) {
	s := newEventSink()
	s.emit(KindInfo, "a")
	s.emit(KindInfo, "b")
	s.emit(KindInfo, "c")

	got := s.since(1)
	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Fatalf("since(1) = %+v, want [b c]", got)
	}

	if got := s.since(10); got != nil {
		t.Fatalf("since(cursor beyond length) = %+v, want nil", got)
	}

	if got := s.since(-5); len(got) != 3 {
		t.Fatalf("since(negative) should clamp to 0, got %d entries", len(got))
	}
}

func TestDecodedMessageRingCapacityBound(t *testing.T) {
	s := newEventSink()
	for i := 0; i < decodedRingCapacity+5; i++ {
		s.emitDecoded(decodeStructured(0x0001, uint16(i), "WRITE"))
	}
	if got := len(s.decodedSnapshot()); got != decodedRingCapacity {
		t.Fatalf("decoded ring length = %d, want %d", got, decodedRingCapacity)
	}
}

func TestDecodedMessageRingFieldsPopulatedFromDecodeTable(t *testing.T) {
	s := newEventSink()
	s.emitDecoded(decodeStructured(0x0001, 0x0001, "WRITE"))
	got := s.decodedSnapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 decoded message, got %d", len(got))
	}
	msg := got[0]
	if msg.Register != 0x0001 || msg.Name != "COMMAND" || msg.Operation != "WRITE" || msg.Value != 0x0001 {
		t.Fatalf("unexpected decoded message: %+v", msg)
	}
	if msg.Description == "" || msg.Interpreted == "" {
		t.Fatalf("expected non-empty description/interpreted fields: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("emitDecoded did not stamp Timestamp")
	}
}

func TestDecodedMessageSince(t *testing.T) {
	s := newEventSink()
	s.emitDecoded(decodeStructured(0x0001, 1, "WRITE"))
	s.emitDecoded(decodeStructured(0x0002, 2, "WRITE"))
	s.emitDecoded(decodeStructured(0x0009, 3, "WRITE"))

	got := s.decodedSince(1)
	if len(got) != 2 || got[0].Register != 0x0002 || got[1].Register != 0x0009 {
		t.Fatalf("decodedSince(1) = %+v, want registers [0x0002 0x0009]", got)
	}

	if got := s.decodedSince(10); got != nil {
		t.Fatalf("decodedSince(cursor beyond length) = %+v, want nil", got)
	}
}

func TestEventSinkSnapshotIsACopy(t *testing.T) {
	s := newEventSink()
	s.emit(KindInfo, "one")
	snap := s.snapshot()
	snap[0].Text = "mutated"
	if s.snapshot()[0].Text != "one" {
		t.Fatal("mutating a snapshot slice affected the sink's internal state")
	}
}
