// Package image handles flash image files: strict size validation,
// blank detection, bounds-checked region access and VIN patching with
// the calibration checksum re-balanced.
package image

import (
	"errors"
	"fmt"
	"os"

	"github.com/ptcan/msdflash/pkg/checksum"
)

const vinLength = 17

var (
	ErrSize        = errors.New("wrong image size")
	ErrBlank       = errors.New("image appears to be blank")
	ErrVINNotFound = errors.New("no VIN found in calibration area")
	ErrBadVIN      = errors.New("invalid VIN")
)

// Image is a full flash image. It owns its byte slice; callers edit it
// only through methods so the checksum words stay consistent.
type Image struct {
	data []byte
}

// Load reads and validates an image file. size is the exact expected
// file size from the ECU profile.
func Load(path string, size uint32) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := New(data, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// New wraps raw bytes as an image. The slice is copied.
func New(data []byte, size uint32) (*Image, error) {
	if uint32(len(data)) != size {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrSize, len(data), size)
	}
	blank := true
	for _, b := range data[:min(32, len(data))] {
		if b != 0xFF {
			blank = false
			break
		}
	}
	if blank {
		return nil, ErrBlank
	}
	return &Image{data: append([]byte{}, data...)}, nil
}

func (i *Image) Len() int { return len(i.data) }

// Bytes returns the backing slice. Treat it as read-only; edits bypass
// the checksum maintenance.
func (i *Image) Bytes() []byte { return i.data }

// Slice returns a bounds-checked view of one region.
func (i *Image) Slice(addr, length uint32) ([]byte, error) {
	if addr+length < addr || addr+length > uint32(len(i.data)) {
		return nil, fmt.Errorf("region 0x%06X+0x%X outside %d byte image", addr, length, len(i.data))
	}
	return i.data[addr : addr+length], nil
}

// WriteFile dumps the image to disk.
func (i *Image) WriteFile(path string) error {
	return os.WriteFile(path, i.data, 0o644)
}

// vinByte reports whether b belongs to the VIN alphabet, which excludes
// I, O and Q.
func vinByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'A' && b <= 'Z':
		return b != 'I' && b != 'O' && b != 'Q'
	}
	return false
}

// FindVIN scans the calibration area for the stored 17-character VIN:
// a run of VIN-alphabet bytes of exactly 17, not part of a longer run.
func (i *Image) FindVIN(calAddr, calSize uint32) (string, uint32, error) {
	cal, err := i.Slice(calAddr, calSize)
	if err != nil {
		return "", 0, err
	}
	run := 0
	for pos := 0; pos <= len(cal); pos++ {
		if pos < len(cal) && vinByte(cal[pos]) {
			run++
			continue
		}
		if run == vinLength {
			start := pos - vinLength
			return string(cal[start:pos]), calAddr + uint32(start), nil
		}
		run = 0
	}
	return "", 0, ErrVINNotFound
}

// PatchVIN replaces the calibration area's VIN and re-balances the
// calibration checksum through the layout, footer included.
func (i *Image) PatchVIN(vin string, calAddr, calSize uint32, layout checksum.Layout) (uint32, error) {
	if len(vin) != vinLength {
		return 0, fmt.Errorf("%w: %q is %d characters, want %d", ErrBadVIN, vin, len(vin), vinLength)
	}
	for k := 0; k < len(vin); k++ {
		if !vinByte(vin[k]) {
			return 0, fmt.Errorf("%w: %q contains %q", ErrBadVIN, vin, vin[k])
		}
	}
	_, addr, err := i.FindVIN(calAddr, calSize)
	if err != nil {
		return 0, err
	}
	copy(i.data[addr:addr+vinLength], vin)
	if err := layout.UpdateImage(i.data); err != nil {
		return 0, err
	}
	return addr, nil
}

// Verify checks every stored checksum word against the image contents.
func (i *Image) Verify(layout checksum.Layout) error {
	return layout.VerifyImage(i.data)
}
