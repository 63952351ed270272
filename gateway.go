package vfdgateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wattwerks/vfdgateway/internal/rtuport"
)

// State is the gateway's run state, exposed for the control surface and
// the CLI.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "STOPPED"
}

// Gateway is the single owner of all mutable gateway state: the register
// image, command queue, heartbeat counters, and event ring. Nothing in
// this package reaches any of that state except through a Gateway value —
// replacing the module-level globals (client handle, queues, counters,
// mode, config dictionary) the original program kept at process scope.
type Gateway struct {
	log *logrus.Logger

	mu    sync.Mutex
	state State
	cfg   Config

	regs  *registerImage
	queue *commandQueue
	sink  *eventSink
	slave *slaveEngine
	hb    *heartbeatScheduler
	arb   *arbitrator
	mon   *rawMonitor
}

// NewGateway constructs a Gateway in the STOPPED state. cfg is validated
// eagerly so configuration errors surface before Start ever opens a
// serial port.
func NewGateway(cfg Config, log *logrus.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &Gateway{log: log, cfg: cfg, state: StateStopped, sink: newEventSink()}, nil
}

// Start lazily initializes the register image with the §6 snapshot,
// opens the serial port, and spawns the arbitrator.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateRunning {
		return fmt.Errorf("vfdgateway: already running")
	}

	port, err := rtuport.Open(g.cfg.PortController, g.cfg.Baud, g.cfg.Parity, g.cfg.StopBits, g.cfg.ByteSize, 50*time.Millisecond)
	if err != nil {
		g.sink.emit(KindError, "serial open failed: "+err.Error())
		return err
	}

	g.regs = newRegisterImage()
	g.queue = newCommandQueue(g.log)
	g.slave = newSlaveEngine(g.regs, g.queue, g.sink, g.cfg.translatorConfig())
	g.slave.mode = g.cfg.Mode
	g.hb = newHeartbeatScheduler(func() time.Duration { return g.heartbeatInterval() })
	g.arb = newArbitrator(port, g.log, g.sink, g.slave, g.queue, g.hb, g.cfg)
	g.arb.reopen = func() (serialPort, error) {
		return rtuport.Open(g.cfg.PortController, g.cfg.Baud, g.cfg.Parity, g.cfg.StopBits, g.cfg.ByteSize, 50*time.Millisecond)
	}
	g.arb.onFatal = func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.state = StateStopped
	}

	go g.arb.run()

	g.state = StateRunning
	g.sink.emit(KindInfo, fmt.Sprintf("gateway started on %s (yaskawa id %d, weg id %d)", g.cfg.PortController, g.cfg.SlaveIDYaskawa, g.cfg.SlaveIDWEG))
	return nil
}

// Stop signals the arbitrator to terminate and waits for it to exit. The
// wait happens with g.mu released, since the arbitrator goroutine may
// itself need g.mu (via onFatal) before it can finish exiting.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return nil
	}
	arb := g.arb
	g.state = StateStopped
	g.mu.Unlock()

	arb.stop()
	return nil
}

// SetMode atomically swaps the slave engine's mode.
func (g *Gateway) SetMode(m Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Mode = m
	if g.slave != nil {
		g.slave.mode = m
	}
}

// Mode returns the current mode.
func (g *Gateway) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Mode
}

// UpdateConfig merges fields into the live config. Fields affecting the
// serial handle only take effect after Stop+Start; slave-ID and
// respond-to-any-id changes reach the running arbitrator immediately.
func (g *Gateway) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
	if g.arb != nil {
		g.arb.updateConfig(cfg)
	}
	if g.slave != nil {
		g.slave.mode = cfg.Mode
		g.slave.cfg = cfg.translatorConfig()
	}
	return nil
}

func (g *Gateway) heartbeatInterval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.HeartbeatInterval
}

// SubmitDirectWrite enqueues a WEG write bypassing translation, for the
// COMMAND-mode test UI.
func (g *Gateway) SubmitDirectWrite(reg, val uint16, label string) error {
	g.mu.Lock()
	queue := g.queue
	g.mu.Unlock()
	if queue == nil {
		return fmt.Errorf("vfdgateway: gateway is not running")
	}
	queue.enqueue(queuedCommand{Register: reg, Value: val, Label: label})
	return nil
}

// SubmitDirectRead synchronously executes a read against the WEG drive,
// taking the arbitrator's bus lock. Returns BUSY if held longer than the
// direct-access bound.
func (g *Gateway) SubmitDirectRead(reg uint16, fc byte) ([]uint16, error) {
	g.mu.Lock()
	arb := g.arb
	g.mu.Unlock()
	if arb == nil {
		return nil, fmt.Errorf("vfdgateway: gateway is not running")
	}
	return arb.directRead(reg, fc)
}

// EventsSnapshot returns a read-only view of the event ring.
func (g *Gateway) EventsSnapshot() []event {
	return g.sink.snapshot()
}

// EventsSince returns events recorded after cursor.
func (g *Gateway) EventsSince(cursor int) []event {
	return g.sink.since(cursor)
}

// DecodedMessagesSnapshot returns a read-only view of the decoded-message
// ring.
func (g *Gateway) DecodedMessagesSnapshot() []DecodedMessage {
	return g.sink.decodedSnapshot()
}

// DecodedSince returns decoded-message ring entries recorded after
// cursor, the parallel of EventsSince for the C10b ring, per spec §4.9.
func (g *Gateway) DecodedSince(cursor int) []DecodedMessage {
	return g.sink.decodedSince(cursor)
}

// State reports whether the gateway is currently running.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// StartRawMonitor begins the read-only bus tap (C11), mutually exclusive
// with the arbitrator on the same port.
func (g *Gateway) StartRawMonitor() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateRunning {
		return fmt.Errorf("vfdgateway: cannot run raw monitor while the arbitrator owns the port")
	}
	port, err := rtuport.Open(g.cfg.PortController, g.cfg.Baud, g.cfg.Parity, g.cfg.StopBits, g.cfg.ByteSize, 100*time.Millisecond)
	if err != nil {
		return err
	}
	g.mon = newRawMonitor(port, g.sink)
	go g.mon.run()
	return nil
}

// StopRawMonitor stops the raw monitor if running.
func (g *Gateway) StopRawMonitor() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mon != nil {
		g.mon.stop()
		g.mon = nil
	}
}
