// Package checksum computes and maintains the integrity words embedded in
// ECU flash images: additive-16 word sums, CRC-16 and CRC-32 with
// per-family parameters, and segment layouts with a checksum-of-checksums
// footer.
package checksum

import (
	"errors"
	"fmt"
)

var ErrMismatch = errors.New("checksum mismatch")

type Kind int

const (
	Additive16 Kind = iota
	CRC16
	CRC32
)

func (k Kind) String() string {
	switch k {
	case Additive16:
		return "additive16"
	case CRC16:
		return "crc16"
	case CRC32:
		return "crc32"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Params selects the algorithm and its polynomial/init/final values.
// Families disagree on these, so nothing here is hard-coded into Compute.
type Params struct {
	Kind   Kind
	Poly   uint32
	Init   uint32
	XorOut uint32
}

// DefaultParams returns the conventional parameter set for a kind:
// CRC-16/CCITT-FALSE and reflected CRC-32/IEEE. Additive16 has none.
func DefaultParams(kind Kind) Params {
	switch kind {
	case CRC16:
		return Params{Kind: CRC16, Poly: 0x1021, Init: 0xFFFF, XorOut: 0x0000}
	case CRC32:
		return Params{Kind: CRC32, Poly: 0xEDB88320, Init: 0xFFFFFFFF, XorOut: 0xFFFFFFFF}
	default:
		return Params{Kind: Additive16}
	}
}

// Compute returns the checksum of data under p. Results are 16 bits wide
// for Additive16 and CRC16, 32 bits for CRC32.
func Compute(data []byte, p Params) uint32 {
	switch p.Kind {
	case CRC16:
		return uint32(crc16(data, uint16(p.Poly), uint16(p.Init), uint16(p.XorOut)))
	case CRC32:
		return crc32Reflected(data, p.Poly, p.Init, p.XorOut)
	default:
		return uint32(Sum16(data))
	}
}

// Verify reports whether data checksums to expected under p.
func Verify(data []byte, expected uint32, p Params) bool {
	return Compute(data, p) == expected
}

// Sum16 is the additive-16 word sum: big-endian 16-bit words added with
// wraparound, an odd trailing byte padded with 0x00.
func Sum16(data []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint16(data[i])<<8 | uint16(data[i+1])
	}
	if len(data)%2 != 0 {
		sum += uint16(data[len(data)-1]) << 8
	}
	return sum
}

// BalanceWord returns the word that, appended to data, makes the additive
// sum wrap to zero.
func BalanceWord(data []byte) uint16 {
	return -Sum16(data)
}

// crc16 is the MSB-first, non-reflected variant used by the supported
// families.
func crc16(data []byte, poly, init, xorOut uint16) uint16 {
	crc := init
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc ^ xorOut
}

// crc32Reflected is the LSB-first variant; with the default parameters it
// matches CRC-32/IEEE.
func crc32Reflected(data []byte, poly, init, xorOut uint32) uint32 {
	crc := init
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	return crc ^ xorOut
}
