package vfdgateway

import (
	"sync"
	"testing"
	"time"
)

// fakeSerialPort is an in-memory serialPort for exercising run()/drainIdle()/
// sendToWEG() without a physical line. feed() queues bytes a Read will
// return; an optional autoReply is appended to the read queue the instant a
// Write lands, simulating an RTU slave that answers immediately.
type fakeSerialPort struct {
	mu        sync.Mutex
	rx        []byte
	written   [][]byte
	autoReply []byte
	idleGap   time.Duration
	preSend   time.Duration
}

func newFakeSerialPort() *fakeSerialPort {
	return &fakeSerialPort{idleGap: 2 * time.Millisecond, preSend: time.Millisecond}
}

func (f *fakeSerialPort) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *fakeSerialPort) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, nil
	}
	n := copy(buf, f.rx)
	f.rx = f.rx[n:]
	return n, nil
}

func (f *fakeSerialPort) Write(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), frame...))
	if len(f.autoReply) > 0 {
		f.rx = append(f.rx, f.autoReply...)
	}
	return nil
}

func (f *fakeSerialPort) Close() error                  { return nil }
func (f *fakeSerialPort) IdleGap() time.Duration        { return f.idleGap }
func (f *fakeSerialPort) PreSendDelay() time.Duration   { return f.preSend }

func (f *fakeSerialPort) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// newTestArbitrator wires an arbitrator around a fake port with an
// hour-long heartbeat interval, so during a short-lived run() test at most
// one heartbeat (the first, which is due at once) can fall due.
func newTestArbitrator(port serialPort, cfg Config) (*arbitrator, *eventSink) {
	sink := newEventSink()
	regs := newRegisterImage()
	queue := newCommandQueue(testLogger())
	slave := newSlaveEngine(regs, queue, sink, cfg.translatorConfig())
	slave.mode = cfg.Mode
	hb := newHeartbeatScheduler(func() time.Duration { return time.Hour })
	return newArbitrator(port, testLogger(), sink, slave, queue, hb, cfg), sink
}

func TestBusLockMutualExclusion(t *testing.T) {
	b := newBusLock()
	b.lock()
	if b.tryLock(20 * time.Millisecond) {
		t.Fatal("tryLock succeeded while the lock was held")
	}
	b.unlock()
	if !b.tryLock(20 * time.Millisecond) {
		t.Fatal("tryLock failed once the lock was released")
	}
}

func TestBusLockTryLockSucceedsWhenFree(t *testing.T) {
	b := newBusLock()
	if !b.tryLock(time.Millisecond) {
		t.Fatal("tryLock failed on a free lock")
	}
}

// Exercises the configSnapshot/updateConfig seam the polling loop uses to
// pick up control-surface changes without racing on Config fields read
// every iteration. scanAndRespond/sendToWEG are covered by the
// fake-port tests below.
func TestArbitratorConfigSnapshotReflectsUpdates(t *testing.T) {
	a := &arbitrator{cfg: DefaultConfig()}
	if got := a.configSnapshot().SlaveIDYaskawa; got != DefaultConfig().SlaveIDYaskawa {
		t.Fatalf("initial snapshot SlaveIDYaskawa = %d, want %d", got, DefaultConfig().SlaveIDYaskawa)
	}

	updated := DefaultConfig()
	updated.SlaveIDYaskawa = 9
	a.updateConfig(updated)

	if got := a.configSnapshot().SlaveIDYaskawa; got != 9 {
		t.Fatalf("configSnapshot after update = %d, want 9", got)
	}
}

func TestScanAndRespondLeavesForeignTrafficUnconsumed(t *testing.T) {
	// No own-ID frame present and under bufferCap: the scan must not
	// touch the port (nothing to respond to) and must return buf as-is
	// so the next read can complete a frame that started mid-buffer.
	a := &arbitrator{sink: newEventSink()}
	cfg := DefaultConfig()

	foreign := appendCRC([]byte{cfg.SlaveIDWEG, fcReadHolding, 0x00, 0x00, 0x00, 0x01})
	out := a.scanAndRespond(append([]byte(nil), foreign...), cfg)
	if string(out) != string(foreign) {
		t.Fatalf("buffer with no own-ID frame should be returned unchanged, got %x want %x", out, foreign)
	}
}

func TestScanAndRespondTruncatesOverflowingStaleBuffer(t *testing.T) {
	a := &arbitrator{sink: newEventSink()}
	cfg := DefaultConfig()

	buf := make([]byte, bufferCap+10)
	for i := range buf {
		buf[i] = 0xEE // never matches a slave ID and never forms a valid frame
	}
	out := a.scanAndRespond(buf, cfg)
	if len(out) != bufferTail {
		t.Fatalf("overflowing unmatched buffer should be truncated to %d bytes, got %d", bufferTail, len(out))
	}
}

// TestArbitratorRunRespondsToOwnIDFrameOnMixedBus feeds a single read
// buffer shaped PREFIX||valid_frame||SUFFIX, as a half-duplex RS-485 line
// shared with other traffic would deliver it, and checks run() answers
// the own-ID frame once the idle gap has elapsed.
func TestArbitratorRunRespondsToOwnIDFrameOnMixedBus(t *testing.T) {
	cfg := DefaultConfig()
	port := newFakeSerialPort()
	a, _ := newTestArbitrator(port, cfg)

	prefix := []byte{0xFF, 0xFF, 0xFF}
	frame := encodeReadRequest(cfg.SlaveIDYaskawa, fcReadHolding, 0x0000, 1)
	suffix := []byte{0xFF, 0xFF, 0xFF}
	mixed := append(append(append([]byte(nil), prefix...), frame...), suffix...)
	port.feed(mixed)

	go a.run()
	defer a.stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(port.writes()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	writes := port.writes()
	if len(writes) == 0 {
		t.Fatal("expected a response to the own-ID frame buried in mixed-bus traffic")
	}
	want := encodeReadResponse(cfg.SlaveIDYaskawa, fcReadHolding, []uint16{0x0021})
	if string(writes[0]) != string(want) {
		t.Fatalf("response = %x, want %x", writes[0], want)
	}
}

// TestArbitratorRunDropsCRCBadFrame checks that a frame with a corrupted
// CRC byte is silently dropped rather than answered, per the Modbus-RTU
// convention scanAndRespond implements.
func TestArbitratorRunDropsCRCBadFrame(t *testing.T) {
	cfg := DefaultConfig()
	port := newFakeSerialPort()
	a, _ := newTestArbitrator(port, cfg)

	frame := encodeReadRequest(cfg.SlaveIDYaskawa, fcReadHolding, 0x0000, 1)
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC
	port.feed(frame)

	go a.run()
	defer a.stop()

	time.Sleep(100 * time.Millisecond)

	if writes := port.writes(); len(writes) != 0 {
		t.Fatalf("CRC-bad frame should never be answered, got %d response(s)", len(writes))
	}
}

// TestArbitratorDrainIdleSendsHeartbeatOnIdle exercises drainIdle/
// sendToWEG directly: a heartbeat that is due should produce a read of
// the watchdog register and record success once the fake line echoes a
// well-formed response.
func TestArbitratorDrainIdleSendsHeartbeatOnIdle(t *testing.T) {
	cfg := DefaultConfig()
	port := newFakeSerialPort()
	port.autoReply = encodeReadResponse(cfg.SlaveIDWEG, fcReadHolding, []uint16{0x1234})

	sink := newEventSink()
	queue := newCommandQueue(testLogger())
	hb := newHeartbeatScheduler(func() time.Duration { return 0 })
	a := newArbitrator(port, testLogger(), sink, nil, queue, hb, cfg)

	a.drainIdle(time.Now(), cfg)

	writes := port.writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one heartbeat write, got %d", len(writes))
	}
	want := encodeReadRequest(cfg.SlaveIDWEG, fcReadHolding, wegHeartbeatRegister, 1)
	if string(writes[0]) != string(want) {
		t.Fatalf("heartbeat frame = %x, want %x", writes[0], want)
	}
	if got := hb.snapshot(); got.Sent != 1 || got.OK != 1 || got.Fail != 0 {
		t.Fatalf("heartbeat counters = %+v, want {Sent:1 OK:1 Fail:0}", got)
	}
}
