package vfdgateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Timing constants from spec §4.7. staleAfter and idleAfter are expressed
// as durations rather than the port's own idle-gap estimate because they
// bound unrelated conditions (stuck bus, dead air) rather than
// inter-character timing. The inter-character-derived figures
// (idle-gap, pre-send delay) come from the port itself via IdleGap/
// PreSendDelay, since those depend on baud/parity/stopbits.
const (
	rxReadSize   = 64
	rxReadWindow = 50 * time.Millisecond
	scanMinBytes = 8
	staleAfter   = 500 * time.Millisecond
	idleAfter    = 50 * time.Millisecond
	bufferCap    = 256
	bufferTail   = 64
	wegRespWait  = 150 * time.Millisecond
	busLockWait  = 200 * time.Millisecond

	reopenRetryLimit   = 3
	reopenRetryWindow  = 10 * time.Second
	reopenRetryBackoff = 200 * time.Millisecond
)

// serialPort is the subset of *rtuport.Port the arbitrator depends on, so
// tests can inject a fake line instead of a live serial device.
type serialPort interface {
	Read(buf []byte) (int, error)
	Write(frame []byte) error
	Close() error
	IdleGap() time.Duration
	PreSendDelay() time.Duration
}

// busLock is a channel-as-semaphore lock with a bounded TryLock, used so a
// direct-access control-surface call can be rejected with BUSY rather than
// stall the caller indefinitely while the arbitrator owns the handle.
type busLock struct {
	ch chan struct{}
}

func newBusLock() *busLock {
	b := &busLock{ch: make(chan struct{}, 1)}
	b.ch <- struct{}{}
	return b
}

func (b *busLock) lock() {
	<-b.ch
}

func (b *busLock) unlock() {
	b.ch <- struct{}{}
}

func (b *busLock) tryLock(wait time.Duration) bool {
	select {
	case <-b.ch:
		return true
	case <-time.After(wait):
		return false
	}
}

// arbitrator owns the single serial handle shared between the A1000 slave
// role and the WEG master role, and is the only goroutine that ever
// mutates the register image or the command queue's consumer side. It
// reads the bus from its own loop; the one other reader is directRead,
// which runs on the caller's goroutine under the bus lock. Grounded on the teacher's rtu.go timing math and on
// original_source/vfdserver.py:run_single_bus_gateway's scan-and-drain
// polling algorithm, chosen over the teacher's per-byte channel pipeline
// because the testable properties here are defined directly against a
// polling loop.
type arbitrator struct {
	port serialPort
	log  *logrus.Logger
	sink *eventSink

	slave     *slaveEngine
	queue     *commandQueue
	heartbeat *heartbeatScheduler

	cfg Config
	bus *busLock

	// reopen re-establishes the serial handle with the config captured at
	// Start time, per spec §7's "attempt re-open with same config". nil in
	// tests that never drive the error-recovery path.
	reopen func() (serialPort, error)
	// onFatal is invoked once, from the run() goroutine, when re-open
	// exhausts its retry budget. It must not block on anything run()
	// itself could be holding.
	onFatal func()

	mu     sync.Mutex // guards cfg swaps from the control surface
	stopCh chan struct{}
	doneCh chan struct{}

	consecutiveTimeouts int
}

func newArbitrator(port serialPort, log *logrus.Logger, sink *eventSink, slave *slaveEngine, queue *commandQueue, hb *heartbeatScheduler, cfg Config) *arbitrator {
	return &arbitrator{
		port:      port,
		log:       log,
		sink:      sink,
		slave:     slave,
		queue:     queue,
		heartbeat: hb,
		cfg:       cfg,
		bus:       newBusLock(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// run is the polling loop described in spec §4.7. It returns once stopCh
// is closed, or once a serial I/O error can no longer be recovered from.
func (a *arbitrator) run() {
	defer close(a.doneCh)

	buf := make([]byte, 0, bufferCap)
	readBuf := make([]byte, rxReadSize)
	lastRx := time.Now()

	for {
		select {
		case <-a.stopCh:
			a.sink.emit(KindInfo, "gateway stopped")
			return
		default:
		}

		a.bus.lock()
		n, err := a.port.Read(readBuf)
		a.bus.unlock()
		if err != nil {
			a.sink.emit(KindError, "serial read error: "+err.Error())
			if !a.recoverFromIOError(err) {
				return
			}
			lastRx = time.Now()
			continue
		}
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			lastRx = time.Now()
		}

		now := time.Now()
		cfg := a.configSnapshot()

		if len(buf) >= scanMinBytes && now.Sub(lastRx) >= a.port.IdleGap() {
			buf = a.scanAndRespond(buf, cfg)
		}

		if len(buf) > 0 && now.Sub(lastRx) > staleAfter {
			a.sink.emit(KindWarn, "stale receive buffer cleared")
			buf = buf[:0]
		}

		if len(buf) == 0 && now.Sub(lastRx) > idleAfter {
			a.drainIdle(now, cfg)
		}

		time.Sleep(time.Millisecond)
	}
}

// recoverFromIOError implements spec §7's "close handle, attempt re-open
// with same config; if re-open fails three times within 10s, transition
// to STOPPED and emit ERROR." Returns true once a.port has been replaced
// with a freshly opened handle, false once the retry budget is exhausted
// (in which case the caller must stop its loop).
func (a *arbitrator) recoverFromIOError(cause error) bool {
	a.port.Close()

	if a.reopen == nil {
		a.sink.emit(KindError, "serial port unrecoverable (no reopen configured): "+cause.Error())
		a.signalFatal()
		return false
	}

	deadline := time.Now().Add(reopenRetryWindow)
	for attempt := 1; attempt <= reopenRetryLimit; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		port, err := a.reopen()
		if err == nil {
			a.port = port
			a.sink.emit(KindInfo, "serial port reopened after I/O error")
			return true
		}
		a.sink.emit(KindWarn, fmt.Sprintf("serial reopen attempt %d/%d failed: %v", attempt, reopenRetryLimit, err))
		if attempt < reopenRetryLimit {
			time.Sleep(reopenRetryBackoff)
		}
	}

	a.sink.emit(KindError, "serial port unrecoverable after "+cause.Error()+", stopping gateway")
	a.signalFatal()
	return false
}

func (a *arbitrator) signalFatal() {
	if a.onFatal != nil {
		a.onFatal()
	}
}

// scanAndRespond implements the own-ID buffer scan of spec §4.7 step 2.
func (a *arbitrator) scanAndRespond(buf []byte, cfg Config) []byte {
	for i := 0; i <= len(buf)-scanMinBytes; i++ {
		ownID := buf[i] == cfg.SlaveIDYaskawa
		anyID := cfg.RespondToAnyID && buf[i] >= 1 && buf[i] <= 247
		if !ownID && !anyID {
			continue
		}
		n, ok := frameLength(buf[i:])
		if !ok {
			continue
		}
		if i+n > len(buf) {
			continue // not fully present yet
		}
		frame := buf[i : i+n]
		if !verifyCRC(frame) {
			continue
		}
		a.respondToFrame(frame)
		return buf[i+n:]
	}
	if len(buf) > bufferCap {
		return append([]byte(nil), buf[len(buf)-bufferTail:]...)
	}
	return buf
}

func (a *arbitrator) respondToFrame(frame []byte) {
	req, err := decodeRequest(frame)
	if err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			resp := encodeException(frame[0], frame[1], pe.Code)
			a.transmit(resp)
			return
		}
		a.sink.emit(KindError, "malformed frame: "+err.Error())
		return
	}
	a.sink.emit(KindRecv, describeRegister(req.Addr, req.Value))
	resp := a.slave.handle(req)
	a.transmit(resp)
}

func (a *arbitrator) transmit(frame []byte) {
	time.Sleep(a.port.PreSendDelay())
	a.bus.lock()
	err := a.port.Write(frame)
	a.bus.unlock()
	if err != nil {
		a.sink.emit(KindError, "serial write error: "+err.Error())
		return
	}
	a.sink.emit(KindSend, "response transmitted")
}

// drainIdle implements spec §4.7 step 4: heartbeat first, then at most
// one queued WEG command.
func (a *arbitrator) drainIdle(now time.Time, cfg Config) {
	if a.heartbeat.due(now) {
		frame := a.heartbeat.frame(cfg.SlaveIDWEG, now)
		ok := a.sendToWEG(frame, 5)
		a.heartbeat.record(ok)
	}

	cmd, ok := a.queue.dequeue()
	if !ok {
		return
	}
	a.sink.emit(KindQueue, cmd.Label)
	frame := encodeWriteSingleRequest(cfg.SlaveIDWEG, cmd.Register, cmd.Value)
	a.sendToWEG(frame, 8)
}

// sendToWEG transmits a master-side request and waits up to wegRespWait
// for a respLen-byte response, logging the outcome per spec §7.
func (a *arbitrator) sendToWEG(frame []byte, respLen int) bool {
	a.bus.lock()
	defer a.bus.unlock()

	if err := a.port.Write(frame); err != nil {
		a.sink.emit(KindError, "WEG write error: "+err.Error())
		return false
	}

	deadline := time.Now().Add(wegRespWait)
	resp := make([]byte, 0, respLen)
	readBuf := make([]byte, respLen)
	for time.Now().Before(deadline) && len(resp) < respLen {
		n, _ := a.port.Read(readBuf)
		if n > 0 {
			resp = append(resp, readBuf[:n]...)
		}
	}

	if len(resp) < 2 {
		a.consecutiveTimeouts++
		level := KindWarn
		if a.consecutiveTimeouts > 5 {
			level = KindDebug
		}
		a.sink.emit(level, "WEG timeout: no response")
		return false
	}
	a.consecutiveTimeouts = 0
	if resp[1]&exceptionFlag != 0 {
		a.sink.emit(KindError, "WEG exception response")
		return false
	}
	a.sink.emit(KindSuccess, "WEG response received")
	return true
}

// stop signals the loop to exit and waits for it to finish.
func (a *arbitrator) stop() {
	close(a.stopCh)
	<-a.doneCh
}

// updateConfig swaps the fields the arbitrator reads on every iteration
// (slave IDs, respond_to_any_id) so the control surface can apply them
// immediately, per spec §6.
func (a *arbitrator) updateConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// configSnapshot returns the config the current loop iteration should
// use.
func (a *arbitrator) configSnapshot() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// directRead executes a synchronous FC 0x03/0x04 read against the WEG
// drive from outside the polling loop, per spec §4.9's submit_direct_read.
// It takes the bus lock and returns BUSY if that takes longer than
// busLockWait.
func (a *arbitrator) directRead(reg uint16, fc byte) ([]uint16, error) {
	if !a.bus.tryLock(busLockWait) {
		return nil, serverBusyErrorF("bus handle busy")
	}
	defer a.bus.unlock()

	frame := encodeReadRequest(a.configSnapshot().SlaveIDWEG, fc, reg, 1)
	if err := a.port.Write(frame); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wegRespWait)
	resp := make([]byte, 0, 8)
	readBuf := make([]byte, 8)
	for time.Now().Before(deadline) && len(resp) < 7 {
		n, _ := a.port.Read(readBuf)
		if n > 0 {
			resp = append(resp, readBuf[:n]...)
		}
	}
	if len(resp) < 5 {
		return nil, serverFailureErrorF("no response from WEG drive")
	}
	return []uint16{getWord(resp, 3)}, nil
}
