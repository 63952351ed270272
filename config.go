package vfdgateway

import (
	"fmt"
	"time"
)

// Config is the immutable snapshot consumed at start. Fields affecting the
// serial handle only take effect at the next restart of the bus
// arbitrator; the rest apply as described in spec §6.
type Config struct {
	PortController string
	PortWEG        string

	Baud     int
	Parity   byte // 'N', 'E', 'O'
	StopBits int  // 1 or 2
	ByteSize int  // 7 or 8

	SlaveIDWEG     byte
	SlaveIDYaskawa byte

	MaxFreqYaskawa int     // e.g. 6000 -> 60.00 Hz full scale
	WEGMaxFreqHz   float64

	SingleBus        bool
	HeartbeatInterval time.Duration
	RespondToAnyID    bool

	Mode Mode
}

// DefaultConfig mirrors the field defaults named in spec §3.
func DefaultConfig() Config {
	return Config{
		Baud:              38400,
		Parity:            ParityNone,
		StopBits:          2,
		ByteSize:          8,
		SlaveIDWEG:        5,
		SlaveIDYaskawa:    6,
		MaxFreqYaskawa:    6000,
		WEGMaxFreqHz:      60.0,
		SingleBus:         true,
		HeartbeatInterval: 500 * time.Millisecond,
		Mode:              ModeRedirect,
	}
}

// Parity selectors, mirrored from rtuport for callers that only import
// this package.
const (
	ParityNone = 'N'
	ParityEven = 'E'
	ParityOdd  = 'O'
)

// Validate checks the fields a restart would otherwise fail on deep into
// serial setup, so misconfiguration is reported at the boundary instead
// of as an opaque I/O error.
func (c Config) Validate() error {
	if c.PortController == "" {
		return fmt.Errorf("vfdgateway: port_controller is required")
	}
	if c.PortWEG == "" {
		return fmt.Errorf("vfdgateway: port_weg is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("vfdgateway: baud must be positive, got %d", c.Baud)
	}
	switch c.Parity {
	case ParityNone, ParityEven, ParityOdd:
	default:
		return fmt.Errorf("vfdgateway: illegal parity %q", c.Parity)
	}
	switch c.StopBits {
	case 1, 2:
	default:
		return fmt.Errorf("vfdgateway: illegal stop bits %d", c.StopBits)
	}
	switch c.ByteSize {
	case 7, 8:
	default:
		return fmt.Errorf("vfdgateway: illegal byte size %d", c.ByteSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("vfdgateway: heartbeat_interval_s must be positive")
	}
	if c.WEGMaxFreqHz <= 0 {
		return fmt.Errorf("vfdgateway: weg_max_freq_hz must be positive")
	}
	return nil
}

// translatorConfig projects the fields C4 needs out of Config.
func (c Config) translatorConfig() translatorConfig {
	return translatorConfig{MaxFreqYaskawa: c.MaxFreqYaskawa, WEGMaxFreqHz: c.WEGMaxFreqHz}
}
