package seedkey

import (
	"encoding/binary"
	"fmt"
)

func init() {
	for variant, algo := range map[string]Algorithm{
		"MSD80": msd80,
		"MSD81": msd80, // same mask/offset pair as MSD80
		"MSV70": msv70,
	} {
		if err := Register(variant, algo); err != nil {
			panic(err)
		}
	}
}

// msd80 implements the 16-bit XOR/add algorithm shared by MSD80 and MSD81.
// The seed arrives big-endian in two bytes; the key goes back the same way.
func msd80(seed []byte, level byte) ([]byte, error) {
	if len(seed) != 2 {
		return nil, fmt.Errorf("MSD80 seed must be 2 bytes, got %d", len(seed))
	}
	s := binary.BigEndian.Uint16(seed)
	key := (s ^ 0x5A3C) + 0x7F1B
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, key)
	return out, nil
}

// msv70Sub is the nibble substitution table used by the MSV70 handshake.
var msv70Sub = [16]byte{
	0x0A, 0x04, 0x0D, 0x01, 0x02, 0x0F, 0x0B, 0x08,
	0x03, 0x0A, 0x06, 0x0C, 0x05, 0x09, 0x00, 0x07,
}

// msv70 substitutes each seed byte nibble-wise and folds a running XOR of
// the produced key bytes back into the next input byte. Seeds are 4 bytes
// on this family.
func msv70(seed []byte, level byte) ([]byte, error) {
	if len(seed) != 4 {
		return nil, fmt.Errorf("MSV70 seed must be 4 bytes, got %d", len(seed))
	}
	key := make([]byte, 4)
	acc := 0xC5 ^ level
	for i, b := range seed {
		b ^= acc
		key[i] = msv70Sub[b>>4]<<4 | msv70Sub[b&0x0F]
		acc = key[i]
	}
	return key, nil
}
