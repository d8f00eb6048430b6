package ecu

import (
	"time"

	"github.com/ptcan/msdflash/pkg/checksum"
	"github.com/ptcan/msdflash/pkg/kwp2000"
	"github.com/ptcan/msdflash/pkg/telemetry"
)

func init() {
	for _, p := range []*Profile{msdProfile("MSD80"), msdProfile("MSD81")} {
		if err := Register(p); err != nil {
			panic(err)
		}
	}
}

// msdProfile builds the Bosch MSD80/MSD81 profile (BMW N54/N55 era
// powertrain CAN). The two variants share addressing and memory layout;
// they differ only in which seed/key entry the name selects.
func msdProfile(name string) *Profile {
	return &Profile{
		Name:       name,
		Variant:    name,
		TesterID:   0x6F1,
		ResponseID: 0x6F9,
		CANRate:    500,

		SessionProgramming: kwp2000.SESSION_PROGRAMMING,
		SessionDefault:     kwp2000.SESSION_DEFAULT,
		SecurityLevel:      kwp2000.LEVEL_PROGRAMMING,
		ZeroSeed:           kwp2000.ZeroSeedUnlocked,

		FlashSize:     0x100000,
		TransferChunk: 0x800,
		ReadChunk:     0x400,
		EraseScope:    EraseGlobal,
		KeepAlive:     2 * time.Second,

		Regions: []Region{
			{Name: "BOOT", Addr: 0x000000, Size: 0x010000, Protected: true},
			{Name: "CAL", Addr: 0x010000, Size: 0x040000},
			{Name: "CODE", Addr: 0x050000, Size: 0x0B0000, Protected: true},
		},

		// The calibration area carries a single additive balance word as
		// its final word; the word sum over the whole area is zero.
		Layout: checksum.Layout{
			Segments: []checksum.Segment{
				{
					Name:      "CAL",
					Addr:      0x010000,
					Len:       0x040000,
					Params:    checksum.DefaultParams(checksum.Additive16),
					StoreAddr: 0x04FFFE,
					StoreLen:  2,
					Balance:   true,
				},
			},
		},

		Signals: []telemetry.Definition{
			{Name: "engine-speed", Identifier: 0xF0, Offset: 0, Length: 2, Scale: 0.25, Unit: "rpm", Rate: 100 * time.Millisecond},
			{Name: "vehicle-speed", Identifier: 0xF0, Offset: 2, Length: 1, Scale: 1, Unit: "km/h", Rate: 200 * time.Millisecond},
			{Name: "boost-pressure", Identifier: 0xF0, Offset: 3, Length: 2, Scale: 0.001, Unit: "bar", Rate: 100 * time.Millisecond},
			{Name: "coolant-temp", Identifier: 0xF1, Offset: 0, Length: 1, Scale: 0.75, Bias: -48, Unit: "°C", Rate: time.Second},
			{Name: "intake-temp", Identifier: 0xF1, Offset: 1, Length: 1, Scale: 0.75, Bias: -48, Unit: "°C", Rate: time.Second},
			{Name: "battery-voltage", Identifier: 0xF1, Offset: 2, Length: 2, Scale: 0.001, Unit: "V", Rate: time.Second},
		},
	}
}
