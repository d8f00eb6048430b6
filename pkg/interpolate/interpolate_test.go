package interpolate_test

import (
	"math"
	"testing"

	"github.com/ptcan/msdflash/pkg/interpolate"
)

func TestInterpolate(t *testing.T) {
	xAxis := []float64{0, 10, 20, 30}
	yAxis := []float64{1000, 2000, 3000}
	// Row-major, one row per y breakpoint: cell = y/1000*100 + x.
	data := []float64{
		100, 110, 120, 130,
		200, 210, 220, 230,
		300, 310, 320, 330,
	}
	tests := []struct {
		name   string
		x, y   float64
		want   float64
	}{
		{"on grid point", 10, 2000, 210},
		{"between x", 15, 2000, 215},
		{"between y", 10, 2500, 260},
		{"center of cell", 15, 2500, 265},
		{"below axes clamps", -5, 500, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, got, err := interpolate.Interpolate(xAxis, yAxis, data, tt.x, tt.y)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Interpolate(%v, %v) = %v, want %v", tt.x, tt.y, got, tt.want)
			}
		})
	}
}

func TestInterpolateEmpty(t *testing.T) {
	if _, _, _, err := interpolate.Interpolate(nil, []float64{1}, []float64{1}, 0, 0); err == nil {
		t.Error("empty x axis accepted")
	}
	if _, err := interpolate.Interpolate1D(nil, []float64{1}, 0); err == nil {
		t.Error("empty axis accepted")
	}
}

func TestInterpolate1D(t *testing.T) {
	axis := []float64{0, 100, 200}
	data := []float64{1.0, 2.0, 4.0}
	tests := []struct {
		value float64
		want  float64
	}{
		{0, 1.0},
		{50, 1.5},
		{100, 2.0},
		{150, 3.0},
		{200, 4.0},
	}
	for _, tt := range tests {
		got, err := interpolate.Interpolate1D(axis, data, tt.value)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Interpolate1D(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
