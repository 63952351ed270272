package vfdgateway

import "testing"

func testCfg() translatorConfig {
	return translatorConfig{MaxFreqYaskawa: 6000, WEGMaxFreqHz: 60.0}
}

func TestTranslateCommandWordRunForward(t *testing.T) {
	out := translate(0x0001, 0x0001, testCfg())
	if len(out) != 1 {
		t.Fatalf("expected 1 translation, got %d", len(out))
	}
	tr := out[0]
	if tr.Register != wegControlWord {
		t.Fatalf("register = 0x%04X, want P0682 (0x%04X)", tr.Register, wegControlWord)
	}
	want := uint16(0x0017) // 0x10 | 0x03 | 0x04
	if tr.Value != want {
		t.Fatalf("value = 0x%04X, want 0x%04X", tr.Value, want)
	}
}

func TestTranslateCommandWordReverseInvertsDirectionBit(t *testing.T) {
	// Yaskawa bit1 set (REV) must NOT set the WEG forward bit.
	out := translate(0x0001, 0x0003, testCfg())
	tr := out[0]
	if tr.Value&0x0004 != 0 {
		t.Fatalf("WEG forward bit set for a reverse command: 0x%04X", tr.Value)
	}
	if tr.Value&0x0003 != 0x0003 {
		t.Fatalf("start+enable bits missing: 0x%04X", tr.Value)
	}
}

func TestTranslateFaultReset(t *testing.T) {
	out := translate(0x0001, 0x0008, testCfg())
	if out[0].Value&0x0080 == 0 {
		t.Fatalf("fault reset bit not propagated: 0x%04X", out[0].Value)
	}
}

func TestTranslateFrequencyReference(t *testing.T) {
	out := translate(0x0002, 3000, testCfg())
	tr := out[0]
	if tr.Register != wegFreqRef {
		t.Fatalf("register = 0x%04X, want P0683 (0x%04X)", tr.Register, wegFreqRef)
	}
	if tr.Value != 4096 {
		t.Fatalf("value = %d, want 4096 (3000/100=30Hz; 30/60*8192=4096)", tr.Value)
	}
}

func TestTranslateMotorSpeedRPM(t *testing.T) {
	out := translate(0x0009, 1800, testCfg())
	if out[0].Value != 8192 {
		t.Fatalf("1800 RPM should map to full scale 8192, got %d", out[0].Value)
	}
}

func TestTranslateAlternateFrequencyRegisters(t *testing.T) {
	for _, reg := range []uint16{0x0102, 0x0202} {
		out := translate(reg, 6000, testCfg())
		if out[0].Value != 8192 {
			t.Fatalf("register 0x%04X at full scale should map to 8192, got %d", reg, out[0].Value)
		}
	}
}

func TestTranslateUnknownRegisterProducesNothing(t *testing.T) {
	if out := translate(0x0025, 123, testCfg()); out != nil {
		t.Fatalf("expected no translation for 0x0025, got %+v", out)
	}
}

func TestTranslateIsPureAndDeterministic(t *testing.T) {
	a := translate(0x0002, 3000, testCfg())
	b := translate(0x0002, 3000, testCfg())
	if len(a) != len(b) || a[0] != b[0] {
		t.Fatalf("translate is not deterministic: %+v vs %+v", a, b)
	}
}

func TestTranslateClampsToWordRange(t *testing.T) {
	out := translate(0x0002, 65535, testCfg())
	if out[0].Value > 65535 {
		t.Fatalf("value not clamped: %d", out[0].Value)
	}
}
