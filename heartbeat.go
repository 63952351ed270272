package vfdgateway

import "time"

// wegHeartbeatRegister is P0680, the CFW-11 status word read periodically
// to keep its serial watchdog (P0314/A128) from tripping.
const wegHeartbeatRegister = 680

// heartbeatCounters tracks outcome counts across the gateway's lifetime.
// The source sometimes kept these and sometimes didn't; this spec makes
// them required.
type heartbeatCounters struct {
	Sent int
	OK   int
	Fail int
}

// heartbeatScheduler decides when the bus arbitrator should poll the WEG
// drive to satisfy its serial watchdog, independent of the command queue.
type heartbeatScheduler struct {
	intervalFn func() time.Duration
	last       time.Time
	counters   heartbeatCounters
}

func newHeartbeatScheduler(intervalFn func() time.Duration) *heartbeatScheduler {
	return &heartbeatScheduler{intervalFn: intervalFn}
}

// due reports whether a heartbeat read should be sent now, given now.
func (h *heartbeatScheduler) due(now time.Time) bool {
	return now.Sub(h.last) >= h.intervalFn()
}

// frame builds the FC 0x03 read of register 680, count 1, and marks the
// attempt as sent. record must be called afterward with the outcome.
func (h *heartbeatScheduler) frame(slaveID byte, now time.Time) []byte {
	h.last = now
	h.counters.Sent++
	return encodeReadRequest(slaveID, fcReadHolding, wegHeartbeatRegister, 1)
}

// record updates the ok/fail counters for the most recent heartbeat
// attempt.
func (h *heartbeatScheduler) record(ok bool) {
	if ok {
		h.counters.OK++
	} else {
		h.counters.Fail++
	}
}

func (h *heartbeatScheduler) snapshot() heartbeatCounters {
	return h.counters
}
