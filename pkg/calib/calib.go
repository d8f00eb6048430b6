// Package calib describes calibration map tables inside a flash image:
// where a table lives, how its 16-bit cells scale to engineering units
// and which axes span it. Tables are read-only views over an image.
package calib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ptcan/msdflash/pkg/image"
	"github.com/ptcan/msdflash/pkg/interpolate"
)

var (
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownVariant = errors.New("no tables for variant")
	ErrNoAxes         = errors.New("table has no axes")
)

// Axis is one run of 16-bit big-endian breakpoints.
type Axis struct {
	Addr   uint32
	Count  int
	Scale  float64
	Offset float64
	Unit   string
}

// Values decodes the axis breakpoints out of img.
func (a Axis) Values(img *image.Image) ([]float64, error) {
	raw, err := img.Slice(a.Addr, uint32(a.Count*2))
	if err != nil {
		return nil, fmt.Errorf("axis at 0x%06X: %w", a.Addr, err)
	}
	values := make([]float64, a.Count)
	for k := range values {
		values[k] = float64(binary.BigEndian.Uint16(raw[k*2:]))*a.Scale + a.Offset
	}
	return values, nil
}

// Table is one calibration map: Rows by Cols 16-bit big-endian cells in
// row-major order, scaled to engineering units.
type Table struct {
	Name        string
	Category    string
	Addr        uint32
	Rows, Cols  int
	Scale       float64
	Offset      float64
	Unit        string
	Description string
	XAxis       *Axis
	YAxis       *Axis
}

func (t Table) String() string {
	return fmt.Sprintf("%s %dx%d @ 0x%06X [%s]", t.Name, t.Rows, t.Cols, t.Addr, t.Unit)
}

// Read decodes the whole table out of img, one slice per row.
func (t Table) Read(img *image.Image) ([][]float64, error) {
	raw, err := img.Slice(t.Addr, uint32(t.Rows*t.Cols*2))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	out := make([][]float64, t.Rows)
	for row := 0; row < t.Rows; row++ {
		cells := make([]float64, t.Cols)
		for col := 0; col < t.Cols; col++ {
			raw16 := binary.BigEndian.Uint16(raw[(row*t.Cols+col)*2:])
			cells[col] = float64(raw16)*t.Scale + t.Offset
		}
		out[row] = cells
	}
	return out, nil
}

// Sample interpolates the table at an (x, y) axis position. Only tables
// with both axes can be sampled.
func (t Table) Sample(img *image.Image, x, y float64) (float64, error) {
	if t.XAxis == nil || t.YAxis == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoAxes, t.Name)
	}
	xs, err := t.XAxis.Values(img)
	if err != nil {
		return 0, err
	}
	ys, err := t.YAxis.Values(img)
	if err != nil {
		return 0, err
	}
	rows, err := t.Read(img)
	if err != nil {
		return 0, err
	}
	flat := make([]float64, 0, t.Rows*t.Cols)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	_, _, value, err := interpolate.Interpolate(xs, ys, flat, x, y)
	return value, err
}

var variants = map[string][]Table{}

// Register installs the table set for a variant.
func Register(variant string, tables []Table) error {
	if _, ok := variants[variant]; ok {
		return fmt.Errorf("tables for %s already registered", variant)
	}
	variants[variant] = tables
	return nil
}

// For returns the table set of a variant, sorted by name.
func For(variant string) ([]Table, error) {
	tables, ok := variants[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	out := append([]Table{}, tables...)
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// Find looks one table up by name.
func Find(variant, name string) (Table, error) {
	tables, ok := variants[variant]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	for _, t := range tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("%w: %q in %s", ErrUnknownTable, name, variant)
}
