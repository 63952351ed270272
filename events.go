package vfdgateway

import (
	"sync"
	"time"
)

// eventRingCapacity bounds the primary HMI-facing event sink.
const eventRingCapacity = 100

// decodedRingCapacity bounds the supplementary decoded-message ring
// recovered from the source's add_decoded_message/decoded_messages
// feature, which spec.md's distillation dropped.
const decodedRingCapacity = 50

// Event kinds, per spec §3.
const (
	KindInfo      = "INFO"
	KindWarn      = "WARN"
	KindError     = "ERROR"
	KindSuccess   = "SUCCESS"
	KindRecv      = "RECV"
	KindSend      = "SEND"
	KindDecode    = "DECODE"
	KindTranslate = "TRANSLATE"
	KindQueue     = "QUEUE"
	KindRaw       = "RAW"
	KindDebug     = "DEBUG"
)

// event is one entry in the event ring.
type event struct {
	TimestampLocalMs int64
	Kind             string
	Text             string
}

// DecodedMessage is one entry in the decoded-message ring (C10b): the
// structured register decode recovered from the source's
// decode_yaskawa_command/add_decoded_message feature, which spec.md's
// distillation dropped but SPEC_FULL.md reinstates.
type DecodedMessage struct {
	Timestamp   time.Time
	Register    uint16
	Name        string
	Description string
	Value       uint16
	Operation   string
	Interpreted string
}

// eventSink is the bounded, thread-safe event/decoded-message store C9
// exposes read-only snapshots of.
type eventSink struct {
	mu      sync.Mutex
	events  []event
	decoded []DecodedMessage
}

func newEventSink() *eventSink {
	return &eventSink{}
}

// emit appends an event, dropping the oldest if the ring is full.
func (s *eventSink) emit(kind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{
		TimestampLocalMs: time.Now().UnixMilli(),
		Kind:             kind,
		Text:             text,
	})
	if len(s.events) > eventRingCapacity {
		s.events = s.events[len(s.events)-eventRingCapacity:]
	}
}

// emitDecoded appends a structured decoded-message record (C10b),
// dropping the oldest if the ring is full. The timestamp is stamped here
// rather than by the caller, matching emit's handling of the event ring.
func (s *eventSink) emitDecoded(msg DecodedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Timestamp = time.Now()
	s.decoded = append(s.decoded, msg)
	if len(s.decoded) > decodedRingCapacity {
		s.decoded = s.decoded[len(s.decoded)-decodedRingCapacity:]
	}
}

// snapshot returns a copy of the current event ring, oldest first.
func (s *eventSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event, len(s.events))
	copy(out, s.events)
	return out
}

// since returns events after cursor (an index into the logical, ever
// growing event sequence isn't tracked — callers compare by count from
// the most recent snapshot instead).
func (s *eventSink) since(cursor int) []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor >= len(s.events) {
		return nil
	}
	if cursor < 0 {
		cursor = 0
	}
	out := make([]event, len(s.events)-cursor)
	copy(out, s.events[cursor:])
	return out
}

// decodedSnapshot returns a copy of the decoded-message ring, oldest first.
func (s *eventSink) decodedSnapshot() []DecodedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DecodedMessage, len(s.decoded))
	copy(out, s.decoded)
	return out
}

// decodedSince returns decoded-message ring entries after cursor, the
// parallel of since(cursor) for the C10b ring, per spec §4.9.
func (s *eventSink) decodedSince(cursor int) []DecodedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor >= len(s.decoded) {
		return nil
	}
	if cursor < 0 {
		cursor = 0
	}
	out := make([]DecodedMessage, len(s.decoded)-cursor)
	copy(out, s.decoded[cursor:])
	return out
}
