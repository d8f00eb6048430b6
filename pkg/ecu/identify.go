package ecu

import (
	"context"
	"fmt"
	"strings"

	"github.com/ptcan/msdflash/pkg/kwp2000"
)

// Info is the identification block read from the unit.
type Info struct {
	VIN        string
	Hardware   string
	Software   string
	PartNumber string
}

func (i *Info) String() string {
	var b strings.Builder
	write := func(label, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "%-12s %s\n", label+":", value)
	}
	write("VIN", i.VIN)
	write("Hardware", i.Hardware)
	write("Software", i.Software)
	write("Part number", i.PartNumber)
	return b.String()
}

// ReadInfo reads the identification records. Records the unit refuses
// stay empty; only a fully unresponsive unit is an error.
func ReadInfo(ctx context.Context, c *kwp2000.Client) (*Info, error) {
	records, err := c.Identify(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{
		VIN:        records["vin"],
		Hardware:   records["hardware"],
		Software:   records["software"],
		PartNumber: records["part-number"],
	}, nil
}

// Detect matches identification strings against the registered profile
// names. Used to cross-check the configured profile against the unit on
// the bench, not to silently switch profiles.
func Detect(info *Info) (*Profile, error) {
	haystack := strings.ToUpper(info.Hardware + " " + info.Software + " " + info.PartNumber)
	for _, name := range Names() {
		if strings.Contains(haystack, strings.ToUpper(name)) {
			return Get(name)
		}
	}
	return nil, fmt.Errorf("no registered profile matches %q", strings.TrimSpace(haystack))
}
