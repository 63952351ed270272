package vfdgateway

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// commandQueueDepth is the hard cap spec §3/§7 impose to keep a stuck bus
// from growing the queue without bound.
const commandQueueDepth = 256

// queuedCommand is one pending WEG write, produced either by the
// translator or by a direct write from the control surface.
type queuedCommand struct {
	Register   uint16
	Value      uint16
	Label      string
	EnqueuedAt time.Time
}

// commandQueue is a FIFO bounded at commandQueueDepth, guarded by its own
// lock per spec §5 ("the queue has its own lock"). Single producer (the
// slave engine, from the arbitrator goroutine, or the control surface
// under the same lock) and single consumer (the arbitrator goroutine).
type commandQueue struct {
	mu   sync.Mutex
	log  *logrus.Logger
	rows []queuedCommand
}

func newCommandQueue(log *logrus.Logger) *commandQueue {
	return &commandQueue{log: log}
}

// enqueue appends record, dropping the oldest entry and logging WARN if
// the queue is already at capacity.
func (q *commandQueue) enqueue(rec queuedCommand) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.rows) >= commandQueueDepth {
		q.rows = q.rows[1:]
		q.log.WithField("depth", commandQueueDepth).Warn("command queue overflow, dropped oldest entry")
	}
	q.rows = append(q.rows, rec)
}

// dequeue returns and removes the head record, or ok=false if empty.
func (q *commandQueue) dequeue() (queuedCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.rows) == 0 {
		return queuedCommand{}, false
	}
	head := q.rows[0]
	q.rows = q.rows[1:]
	return head, true
}

// depth reports the current queue length, used by tests asserting the
// bounded-growth property.
func (q *commandQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}
