package calib_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/ptcan/msdflash/pkg/calib"
	"github.com/ptcan/msdflash/pkg/image"
)

func put16(data []byte, addr uint32, values ...uint16) {
	for k, v := range values {
		binary.BigEndian.PutUint16(data[addr+uint32(k*2):], v)
	}
}

func smallImage(t *testing.T) *image.Image {
	t.Helper()
	data := make([]byte, 0x1000)
	// 2x3 cells, raw 20..120 in steps of 20.
	put16(data, 0x100, 20, 40, 60, 80, 100, 120)
	put16(data, 0x180, 0, 50, 100)
	put16(data, 0x1A0, 10, 20)
	img, err := image.New(data, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func smallTable() calib.Table {
	return calib.Table{
		Name:   "Test Map",
		Addr:   0x100,
		Rows:   2,
		Cols:   3,
		Scale:  0.5,
		Offset: -10,
		Unit:   "x",
		XAxis:  &calib.Axis{Addr: 0x180, Count: 3, Scale: 1},
		YAxis:  &calib.Axis{Addr: 0x1A0, Count: 2, Scale: 100},
	}
}

func TestTableRead(t *testing.T) {
	img := smallImage(t)
	rows, err := smallTable().Read(img)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{
		{0, 10, 20},
		{30, 40, 50},
	}
	if len(rows) != len(want) {
		t.Fatalf("%d rows, want %d", len(rows), len(want))
	}
	for r := range want {
		for c := range want[r] {
			if rows[r][c] != want[r][c] {
				t.Errorf("cell [%d][%d] = %v, want %v", r, c, rows[r][c], want[r][c])
			}
		}
	}
}

func TestAxisValues(t *testing.T) {
	img := smallImage(t)
	ys, err := smallTable().YAxis.Values(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(ys) != 2 || ys[0] != 1000 || ys[1] != 2000 {
		t.Errorf("y axis %v, want [1000 2000]", ys)
	}
}

func TestTableSample(t *testing.T) {
	img := smallImage(t)
	got, err := smallTable().Sample(img, 25, 1500)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-20) > 1e-9 {
		t.Errorf("Sample(25, 1500) = %v, want 20", got)
	}
}

func TestSampleWithoutAxes(t *testing.T) {
	img := smallImage(t)
	table := smallTable()
	table.XAxis = nil
	if _, err := table.Sample(img, 0, 0); !errors.Is(err, calib.ErrNoAxes) {
		t.Fatalf("Sample: %v, want %v", err, calib.ErrNoAxes)
	}
}

func TestTableOutOfBounds(t *testing.T) {
	img := smallImage(t)
	table := smallTable()
	table.Addr = 0x0FFC
	if _, err := table.Read(img); err == nil {
		t.Fatal("table past the image end read without error")
	}
}

func TestRegisteredMSD80Set(t *testing.T) {
	data := make([]byte, 0x100000)
	for k := 0; k < 8*8; k++ {
		binary.BigEndian.PutUint16(data[0x010000+k*2:], 150)
	}
	img, err := image.New(data, 0x100000)
	if err != nil {
		t.Fatal(err)
	}

	tables, err := calib.For("MSD80")
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(tables))
	for k, tb := range tables {
		names[k] = tb.Name
	}
	if len(names) != 2 || names[0] != "Boost Target" || names[1] != "Fuel Scalar" {
		t.Fatalf("tables %v", names)
	}

	boost, err := calib.Find("MSD81", "Boost Target")
	if err != nil {
		t.Fatal(err)
	}
	rows, err := boost.Read(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 8 || len(rows[0]) != 8 {
		t.Fatalf("boost table %dx%d", len(rows), len(rows[0]))
	}
	if rows[3][5] != 1.5 {
		t.Errorf("cell = %v, want 1.5 bar", rows[3][5])
	}

	if _, err := calib.Find("MSD80", "No Such Map"); !errors.Is(err, calib.ErrUnknownTable) {
		t.Errorf("Find: %v, want %v", err, calib.ErrUnknownTable)
	}
	if _, err := calib.For("MED17"); !errors.Is(err, calib.ErrUnknownVariant) {
		t.Errorf("For: %v, want %v", err, calib.ErrUnknownVariant)
	}
}
