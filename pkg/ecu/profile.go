// Package ecu carries the per-variant profiles: CAN addressing, session
// bytes, security configuration, flash memory layout, checksum layout
// and the shipped telemetry signal set. Everything else in the tool is
// variant-agnostic and reads this data.
package ecu

import (
	"fmt"
	"sort"
	"time"

	"github.com/ptcan/msdflash/pkg/checksum"
	"github.com/ptcan/msdflash/pkg/kwp2000"
	"github.com/ptcan/msdflash/pkg/telemetry"
)

// Region is one span of the flash memory map.
type Region struct {
	Name      string
	Addr      uint32
	Size      uint32
	Protected bool // the bootloader guards it against direct writes
}

func (r Region) End() uint32 { return r.Addr + r.Size }

func (r Region) String() string {
	return fmt.Sprintf("%s 0x%06X-0x%06X", r.Name, r.Addr, r.End()-1)
}

// EraseScope says what the variant's erase routine covers.
type EraseScope int

const (
	// EraseGlobal means the erase routine wipes everything outside BOOT,
	// so a programming job must cover the full image span.
	EraseGlobal EraseScope = iota
	// ErasePerSpan means the bootloader erases the requested download
	// span itself and no explicit erase routine is issued.
	ErasePerSpan
)

type Profile struct {
	Name       string
	Variant    string // seed/key algorithm name
	TesterID   uint32 // tester -> ECU identifier
	ResponseID uint32 // ECU -> tester identifier
	CANRate    float64

	SessionProgramming byte
	SessionDefault     byte
	SecurityLevel      byte
	ZeroSeed           kwp2000.ZeroSeedMeaning

	FlashSize     uint32
	TransferChunk int // programming block payload
	ReadChunk     int // backup/verify read size
	EraseScope    EraseScope
	KeepAlive     time.Duration

	Regions []Region
	Layout  checksum.Layout
	Signals []telemetry.Definition
}

// Region looks a memory region up by name, case-sensitive.
func (p *Profile) Region(name string) (Region, error) {
	for _, r := range p.Regions {
		if r.Name == name {
			return r, nil
		}
	}
	return Region{}, fmt.Errorf("profile %s has no region %q", p.Name, name)
}

// FullSpan is the whole flash as one region, the span a full
// programming job covers.
func (p *Profile) FullSpan() Region {
	return Region{Name: "FLASH", Addr: 0, Size: p.FlashSize}
}

// Signal looks a telemetry definition up by name.
func (p *Profile) Signal(name string) (telemetry.Definition, error) {
	for _, d := range p.Signals {
		if d.Name == name {
			return d, nil
		}
	}
	return telemetry.Definition{}, fmt.Errorf("profile %s has no signal %q", p.Name, name)
}

// SessionConfig builds the diagnostic session configuration for this
// variant.
func (p *Profile) SessionConfig(onMessage func(string)) kwp2000.Config {
	return kwp2000.Config{
		Variant:   p.Variant,
		ZeroSeed:  p.ZeroSeed,
		OnMessage: onMessage,
	}
}

var profiles = map[string]*Profile{}

// Register adds a profile. Called from init; a duplicate name is a
// programming error.
func Register(p *Profile) error {
	if _, ok := profiles[p.Name]; ok {
		return fmt.Errorf("profile %s already registered", p.Name)
	}
	profiles[p.Name] = p
	return nil
}

// Get returns the named profile.
func Get(name string) (*Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown ECU profile %q, have %v", name, Names())
	}
	return p, nil
}

// Names lists the registered profiles sorted.
func Names() []string {
	out := make([]string, 0, len(profiles))
	for name := range profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
