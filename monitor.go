package vfdgateway

import (
	"fmt"
	"time"

	"github.com/wattwerks/vfdgateway/internal/rtuport"
)

// rawMonitorWindow is the read window C11 uses, per spec §4.11.
const rawMonitorWindow = 100 * time.Millisecond

// rawMonitor is a read-only tap on the controller port: it never
// transmits, so it can run instead of (never alongside) the arbitrator on
// the same physical line. It shares the decode table with the slave
// engine rather than keeping its own function-name dictionary.
type rawMonitor struct {
	port   *rtuport.Port
	sink   *eventSink
	stopCh chan struct{}
	doneCh chan struct{}
}

func newRawMonitor(port *rtuport.Port, sink *eventSink) *rawMonitor {
	return &rawMonitor{port: port, sink: sink, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

func (m *rawMonitor) run() {
	defer close(m.doneCh)
	defer m.port.Close()

	buf := make([]byte, 0, bufferCap)
	readBuf := make([]byte, rxReadSize)
	lastRx := time.Now()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		n, _ := m.port.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)
			lastRx = time.Now()
		}

		if len(buf) >= scanMinBytes && time.Since(lastRx) >= m.port.IdleGap() {
			buf = m.decodeAndAdvance(buf)
		}
		if len(buf) > 0 && time.Since(lastRx) > staleAfter {
			buf = buf[:0]
		}

		time.Sleep(rawMonitorWindow)
	}
}

// decodeAndAdvance emits a RAW hex dump plus a best-effort decode for the
// first recognizable frame in buf, then advances past it.
func (m *rawMonitor) decodeAndAdvance(buf []byte) []byte {
	for i := 0; i <= len(buf)-scanMinBytes; i++ {
		n, ok := frameLength(buf[i:])
		if !ok || i+n > len(buf) {
			continue
		}
		frame := buf[i : i+n]
		hex := hexDump(frame)
		m.sink.emit(KindRaw, hex)
		if verifyCRC(frame) {
			m.sink.emit(KindDecode, decodeSummary(frame))
			m.feedDecodedRing(frame)
		}
		return buf[i+n:]
	}
	if len(buf) > bufferCap {
		return append([]byte(nil), buf[len(buf)-bufferTail:]...)
	}
	return buf
}

func (m *rawMonitor) stop() {
	close(m.stopCh)
	<-m.doneCh
}

// feedDecodedRing pushes a structured decode (C10b) for a verified
// write-shaped frame onto the event sink's decoded-message ring, since
// only writes carry a concrete value to decode; read requests are
// covered by the plain-text DECODE event above, per §4.11's "best-effort"
// decode.
func (m *rawMonitor) feedDecodedRing(frame []byte) {
	req, err := decodeRequest(frame)
	if err != nil {
		return
	}
	switch req.FC {
	case fcWriteSingle:
		m.sink.emitDecoded(decodeStructured(req.Addr, req.Value, "WRITE"))
	case fcWriteMultiple:
		for i, v := range req.Values {
			m.sink.emitDecoded(decodeStructured(req.Addr+uint16(i), v, "WRITE"))
		}
	}
}

func hexDump(frame []byte) string {
	out := ""
	for i, b := range frame {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%02X", b)
	}
	return out
}

// decodeSummary renders slave id, function name, and address/count-or-
// value for a verified frame.
func decodeSummary(frame []byte) string {
	req, err := decodeRequest(frame)
	if err != nil {
		return fmt.Sprintf("id=%d fc=0x%02X (undecoded)", frame[0], frame[1])
	}
	switch req.FC {
	case fcReadHolding, fcReadInput:
		return fmt.Sprintf("id=%d fc=0x%02X read addr=0x%04X count=%d", req.SlaveID, req.FC, req.Addr, req.Count)
	case fcWriteSingle:
		return fmt.Sprintf("id=%d fc=0x%02X write %s", req.SlaveID, req.FC, describeRegister(req.Addr, req.Value))
	case fcWriteMultiple:
		return fmt.Sprintf("id=%d fc=0x%02X write addr=0x%04X count=%d", req.SlaveID, req.FC, req.Addr, req.Count)
	default:
		return fmt.Sprintf("id=%d fc=0x%02X", req.SlaveID, req.FC)
	}
}
