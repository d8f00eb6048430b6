package ecu_test

import (
	"strings"
	"testing"

	"github.com/ptcan/msdflash/pkg/ecu"
	"github.com/ptcan/msdflash/pkg/kwp2000"
)

func TestRegisteredProfiles(t *testing.T) {
	for _, name := range []string{"MSD80", "MSD81"} {
		p, err := ecu.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if p.Variant != name {
			t.Errorf("%s seed/key variant = %q", name, p.Variant)
		}
		if p.TesterID != 0x6F1 || p.ResponseID != 0x6F9 {
			t.Errorf("%s addressing = 0x%03X/0x%03X", name, p.TesterID, p.ResponseID)
		}
		if p.ZeroSeed != kwp2000.ZeroSeedUnlocked {
			t.Errorf("%s zero seed meaning = %v", name, p.ZeroSeed)
		}
	}
}

func TestGetUnknownProfile(t *testing.T) {
	if _, err := ecu.Get("MED17"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestMSD80MemoryMap(t *testing.T) {
	p, err := ecu.Get("MSD80")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name      string
		addr, end uint32
		protected bool
	}{
		{"BOOT", 0x000000, 0x010000, true},
		{"CAL", 0x010000, 0x050000, false},
		{"CODE", 0x050000, 0x100000, true},
	}
	for _, tt := range tests {
		r, err := p.Region(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if r.Addr != tt.addr || r.End() != tt.end || r.Protected != tt.protected {
			t.Errorf("%s = %s protected=%v", tt.name, r, r.Protected)
		}
	}
	if _, err := p.Region("EEPROM"); err == nil {
		t.Error("expected error for unknown region")
	}
	full := p.FullSpan()
	if full.Addr != 0 || full.Size != 0x100000 {
		t.Errorf("full span = %s", full)
	}
}

func TestMSD80ChecksumLayout(t *testing.T) {
	p, err := ecu.Get("MSD80")
	if err != nil {
		t.Fatal(err)
	}
	seg, ok := p.Layout.Segment("CAL")
	if !ok {
		t.Fatal("layout has no CAL segment")
	}
	if !seg.Balance {
		t.Error("CAL segment must be a balance segment")
	}
	cal, _ := p.Region("CAL")
	if seg.StoreAddr != cal.End()-2 {
		t.Errorf("balance word at 0x%06X, want last word of CAL (0x%06X)", seg.StoreAddr, cal.End()-2)
	}
}

func TestSignalLookup(t *testing.T) {
	p, err := ecu.Get("MSD80")
	if err != nil {
		t.Fatal(err)
	}
	d, err := p.Signal("engine-speed")
	if err != nil {
		t.Fatal(err)
	}
	if d.Scale != 0.25 || d.Length != 2 {
		t.Errorf("engine-speed = %s scale %v", &d, d.Scale)
	}
	v, err := d.Decode([]byte{0x0C, 0x80})
	if err != nil {
		t.Fatal(err)
	}
	if v != 800 {
		t.Errorf("engine-speed decode = %v, want 800", v)
	}
	if _, err := p.Signal("flux-capacitor"); err == nil {
		t.Error("expected error for unknown signal")
	}
}

func TestDetect(t *testing.T) {
	info := &ecu.Info{Hardware: "8614277 MSD81 HW07", Software: "10040580"}
	p, err := ecu.Detect(info)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "MSD81" {
		t.Errorf("detected %s, want MSD81", p.Name)
	}
	if _, err := ecu.Detect(&ecu.Info{Hardware: "DME7.2"}); err == nil {
		t.Error("expected error when nothing matches")
	}
}

func TestInfoString(t *testing.T) {
	info := &ecu.Info{VIN: "WBAPL335X9A406358", Software: "10040580"}
	s := info.String()
	if !strings.Contains(s, "WBAPL335X9A406358") {
		t.Errorf("missing VIN in %q", s)
	}
	if !strings.Contains(s, "Hardware:    -") {
		t.Errorf("empty record not dashed in %q", s)
	}
}
