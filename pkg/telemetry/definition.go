// Package telemetry polls diagnostic records and decodes them into
// named, scaled signal values.
package telemetry

import (
	"fmt"
	"time"
)

// Definition describes one signal: which local-identifier record it
// lives in, where its bytes sit, and how raw bytes become a value.
// Values decode big-endian as raw*Scale + Bias; signed signals are
// two's complement over Length bytes.
type Definition struct {
	Name       string
	Identifier byte // ReadDataByLocalIdentifier record id
	Offset     int  // byte offset inside the record
	Length     int  // 1, 2 or 4 bytes
	Signed     bool
	Scale      float64
	Bias       float64
	Unit       string
	Rate       time.Duration // polling cadence, 0 = poller default
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s (0x%02X+%d, %d bytes, %s)", d.Name, d.Identifier, d.Offset, d.Length, d.Unit)
}

// DecodeRaw extracts the unscaled big-endian value from a record.
func (d *Definition) DecodeRaw(record []byte) (uint64, error) {
	if d.Length < 1 || d.Length > 4 {
		return 0, fmt.Errorf("%s: unsupported length %d", d.Name, d.Length)
	}
	if d.Offset < 0 || d.Offset+d.Length > len(record) {
		return 0, fmt.Errorf("%s: record is %d bytes, need %d+%d", d.Name, len(record), d.Offset, d.Length)
	}
	var raw uint64
	for _, b := range record[d.Offset : d.Offset+d.Length] {
		raw = raw<<8 | uint64(b)
	}
	return raw, nil
}

// Decode converts a record into the scaled signal value.
func (d *Definition) Decode(record []byte) (float64, error) {
	raw, err := d.DecodeRaw(record)
	if err != nil {
		return 0, err
	}
	v := float64(raw)
	if d.Signed {
		bits := uint(d.Length * 8)
		if raw&(1<<(bits-1)) != 0 {
			v = float64(int64(raw) - int64(1)<<bits)
		}
	}
	return v*d.Scale + d.Bias, nil
}

// Value is one decoded sample.
type Value struct {
	Name  string
	Value float64
	Raw   uint64
	Unit  string
	Time  time.Time
}

func (v Value) String() string {
	if v.Unit == "" {
		return fmt.Sprintf("%s=%.2f", v.Name, v.Value)
	}
	return fmt.Sprintf("%s=%.2f %s", v.Name, v.Value, v.Unit)
}
