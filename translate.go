package vfdgateway

import "fmt"

// WEG CFW-11 target registers the translator writes.
const (
	wegControlWord = 0x02AA // P0682
	wegFreqRef     = 0x02AB // P0683
)

// translation is one {weg_reg, weg_value, label} pair produced by the
// translator for a single A1000 register write. Returning a slice instead
// of enqueueing directly keeps translate a pure function, independently
// testable from the queue it feeds.
type translation struct {
	Register uint16
	Value    uint16
	Label    string
}

// translatorConfig is the subset of Config the translator's scaling math
// depends on.
type translatorConfig struct {
	MaxFreqYaskawa int     // e.g. 6000 -> 60.00 Hz full scale
	WEGMaxFreqHz   float64 // WEG frequency that maps to the 8192 ceiling
}

// translate maps an A1000 register write to zero or more WEG CFW-11
// register writes. It is a pure function of (reg, value, cfg) — no I/O,
// no hidden state — per the determinism property this gateway's tests
// rely on.
func translate(reg, value uint16, cfg translatorConfig) []translation {
	switch {
	case reg == 0x0001:
		return []translation{translateCommandWord(value)}
	case reg == 0x0002:
		return []translation{translateFrequency(value, cfg, "SPEED")}
	case reg == 0x0009:
		return []translation{translateMotorSpeedRPM(value)}
	case reg == 0x0102 || reg == 0x0202:
		return []translation{translateFrequency(value, cfg, "ALT-SPEED")}
	default:
		return nil
	}
}

// translateCommandWord implements spec §4.4's command-word mapping,
// including the deliberate Yaskawa/WEG direction-bit inversion: Yaskawa
// bit1=0 means forward, while WEG control-word bit2=1 means forward.
// This bit mapping has not been checked against the CFW-11 manual's
// P0682 definition.
func translateCommandWord(value uint16) translation {
	ctrl := uint16(0x0010) // remote mode, always set for serial control
	if value&0x01 != 0 {
		ctrl |= 0x0003 // start + general enable
	}
	if value&0x02 == 0 {
		ctrl |= 0x0004 // Yaskawa FWD (bit1=0) -> WEG FWD bit
	}
	if value&0x08 != 0 {
		ctrl |= 0x0080 // fault reset
	}
	return translation{wegControlWord, uint16(wordClamp(int(ctrl))), "CONTROL"}
}

// translateFrequency implements the Yaskawa (value/100 Hz) to WEG
// (0-8192 scale) conversion shared by the primary and alternate
// frequency-reference registers.
func translateFrequency(value uint16, cfg translatorConfig, label string) translation {
	hz := float64(value) / 100.0
	scale := hzToWEGScale(hz, cfg.WEGMaxFreqHz)
	return translation{wegFreqRef, scale, fmt.Sprintf("%s %.1fHz", label, hz)}
}

// translateMotorSpeedRPM implements the RPM-based frequency reference
// spec §4.4 names for register 0x0009, fixed at 1800 RPM full scale
// (4-pole motor at 60 Hz synchronous speed).
func translateMotorSpeedRPM(value uint16) translation {
	scale := wordClamp(int(round(float64(value) / 1800.0 * 8192.0)))
	return translation{wegFreqRef, uint16(scale), fmt.Sprintf("SPEED %d RPM", value)}
}

func hzToWEGScale(hz, wegMaxFreqHz float64) uint16 {
	if wegMaxFreqHz <= 0 {
		return 0
	}
	return uint16(wordClamp(int(round(hz / wegMaxFreqHz * 8192.0))))
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int(f - 0.5))
	}
	return float64(int(f + 0.5))
}
