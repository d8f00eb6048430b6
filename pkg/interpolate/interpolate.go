// Package interpolate samples calibration tables between their axis
// breakpoints.
package interpolate

import (
	"fmt"
)

// Helper function to clamp offset values
func clamp(offset, max int) int {
	if offset < 0 {
		return 0
	}
	if offset >= max {
		return max - 1
	}
	return offset
}

// Finds the index and fraction of the nearest breakpoint in the axis.
// Values past the last breakpoint extrapolate.
func findIndexAndFrac(axis []float64, value float64) (int, float64) {
	idx := len(axis) - 1
	frac := 0.0

	for i, v := range axis {
		if v >= value {
			idx = i
			break
		}
	}

	if idx > 0 {
		delta := axis[idx] - axis[idx-1]
		frac = (value - axis[idx-1]) / delta
	}

	return idx, frac
}

// Interpolate samples a row-major rows(y) by cols(x) table bilinearly.
// Returns the fractional x and y axis positions and the sampled value.
func Interpolate(xAxis, yAxis, data []float64, xValue, yValue float64) (float64, float64, float64, error) {
	if len(xAxis) == 0 || len(yAxis) == 0 || len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("xAxis, yAxis or data is empty")
	}

	xIdx, xFrac := findIndexAndFrac(xAxis, xValue)
	yIdx, yFrac := findIndexAndFrac(yAxis, yValue)

	dataLen := len(data)
	getOffset := func(i, j int) int {
		return clamp(i*len(xAxis)+j, dataLen)
	}

	offsets := [4]int{
		getOffset(yIdx-1, xIdx-1),
		getOffset(yIdx-1, xIdx),
		getOffset(yIdx, xIdx-1),
		getOffset(yIdx, xIdx),
	}

	values := [4]float64{
		data[offsets[0]],
		data[offsets[1]],
		data[offsets[2]],
		data[offsets[3]],
	}

	interpolatedX0 := (1.0-xFrac)*values[0] + xFrac*values[1]
	interpolatedX1 := (1.0-xFrac)*values[2] + xFrac*values[3]
	interpolatedValue := (1.0-yFrac)*interpolatedX0 + yFrac*interpolatedX1
	return float64(xIdx-1) + xFrac, float64(yIdx-1) + yFrac, interpolatedValue, nil
}

// Interpolate1D samples a one-axis curve linearly.
func Interpolate1D(axis, data []float64, value float64) (float64, error) {
	if len(axis) == 0 || len(data) == 0 {
		return 0, fmt.Errorf("axis or data is empty")
	}
	idx, frac := findIndexAndFrac(axis, value)
	hi := clamp(idx, len(data))
	lo := clamp(idx-1, len(data))
	return (1.0-frac)*data[lo] + frac*data[hi], nil
}
