// Package rtuport wraps a physical RS-485 serial line for Modbus RTU use.
// The character-timing arithmetic below is lifted from the same formula
// the Modbus RTU specification gives for inter-character and inter-frame
// delays.
package rtuport

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Parity values accepted by Open, matching the Modbus-RTU convention of
// single-character parity selectors.
const (
	ParityNone = 'N'
	ParityEven = 'E'
	ParityOdd  = 'O'
)

// Port is an open RS-485 line plus the idle/pre-send timing derived from
// its line settings.
type Port struct {
	name string
	conn *serial.Port

	// idleGap is the inter-frame idle period (>=3.5 character times,
	// floored at 5ms) the bus arbitrator waits for before treating a
	// receive gap as end-of-frame.
	idleGap time.Duration
	// preSend is the minimum delay observed before transmitting a
	// response, so the line has settled after the last received byte.
	preSend time.Duration
}

// Open establishes the serial connection at the given line settings.
// byteSize is the number of data bits per character (7 or 8). minRead
// bounds how long a single Read call may block.
func Open(device string, baud int, parity byte, stopBits int, byteSize int, minRead time.Duration) (*Port, error) {
	switch byteSize {
	case 7, 8:
	default:
		return nil, fmt.Errorf("rtuport: illegal byte size %d", byteSize)
	}

	cfg := &serial.Config{Name: device, Baud: baud, Size: byte(byteSize), ReadTimeout: minRead}

	switch parity {
	case ParityNone:
		cfg.Parity = serial.ParityNone
	case ParityEven:
		cfg.Parity = serial.ParityEven
	case ParityOdd:
		cfg.Parity = serial.ParityOdd
	default:
		return nil, fmt.Errorf("rtuport: illegal parity %q", parity)
	}

	switch stopBits {
	case 1:
		cfg.StopBits = serial.Stop1
	case 2:
		cfg.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("rtuport: illegal stop bits %d", stopBits)
	}

	conn, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}

	p := &Port{name: device, conn: conn}

	// A Modbus RTU character is taken as 11 bits on the wire whatever the
	// line settings, so the gap is 3.5 x 11 / baud.
	const bitsPerChar = 11
	charTime := time.Duration(float64(bitsPerChar) / float64(baud) * float64(time.Second))

	p.idleGap = time.Duration(3.5 * float64(charTime))
	if p.idleGap < 5*time.Millisecond {
		p.idleGap = 5 * time.Millisecond
	}

	p.preSend = time.Duration(1.5 * float64(charTime))
	if p.preSend < 2*time.Millisecond {
		p.preSend = 2 * time.Millisecond
	}

	return p, nil
}

// Name returns the device path the port was opened on.
func (p *Port) Name() string {
	return p.name
}

// IdleGap is the minimum receive-silence duration treated as end-of-frame.
func (p *Port) IdleGap() time.Duration {
	return p.idleGap
}

// PreSendDelay is the minimum delay observed before transmitting a
// response after the last received byte.
func (p *Port) PreSendDelay() time.Duration {
	return p.preSend
}

// Read reads up to len(buf) bytes, returning 0 bytes (not an error) on a
// read timeout, matching the non-blocking-with-deadline behavior the bus
// arbitrator's polling loop expects.
func (p *Port) Read(buf []byte) (int, error) {
	return p.conn.Read(buf)
}

// Write sends frame in full, retrying partial writes.
func (p *Port) Write(frame []byte) error {
	for len(frame) > 0 {
		n, err := p.conn.Write(frame)
		if err != nil {
			return err
		}
		frame = frame[n:]
	}
	return nil
}

// Close releases the underlying serial handle.
func (p *Port) Close() error {
	return p.conn.Close()
}
