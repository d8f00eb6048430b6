package calib

// MSD80 and MSD81 share a calibration area, so they share a table set.
// Addresses are absolute flash addresses inside the CAL region.
func init() {
	msd80 := []Table{
		{
			Name:        "Boost Target",
			Category:    "Engine",
			Addr:        0x010000,
			Rows:        8,
			Cols:        8,
			Scale:       0.01,
			Unit:        "bar",
			Description: "Requested boost pressure over load and engine speed",
			XAxis:       &Axis{Addr: 0x010100, Count: 8, Scale: 0.01, Unit: "%"},
			YAxis:       &Axis{Addr: 0x010200, Count: 8, Scale: 10.0, Unit: "rpm"},
		},
		{
			Name:        "Fuel Scalar",
			Category:    "Fuel",
			Addr:        0x010400,
			Rows:        4,
			Cols:        4,
			Scale:       0.01,
			Unit:        "lambda",
			Description: "Fuel mixture target",
		},
	}
	for _, variant := range []string{"MSD80", "MSD81"} {
		if err := Register(variant, msd80); err != nil {
			panic(err)
		}
	}
}
