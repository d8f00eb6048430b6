package seedkey_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ptcan/msdflash/pkg/seedkey"
)

func TestMSD80(t *testing.T) {
	tests := []struct {
		seed []byte
		want []byte
	}{
		{seed: []byte{0x12, 0x34}, want: []byte{0xC7, 0x23}},
		{seed: []byte{0x00, 0x00}, want: []byte{0xD9, 0x57}},
		{seed: []byte{0xFF, 0xFF}, want: []byte{0x24, 0xDE}},
		{seed: []byte{0x5A, 0x3C}, want: []byte{0x7F, 0x1B}},
	}
	for _, tt := range tests {
		got, err := seedkey.Compute("MSD80", tt.seed, 0x01)
		if err != nil {
			t.Fatalf("Compute(% X): %v", tt.seed, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("Compute(% X) = % X, want % X", tt.seed, got, tt.want)
		}
	}
}

func TestMSD81SharesMSD80(t *testing.T) {
	seed := []byte{0xA5, 0x5A}
	k80, err := seedkey.Compute("MSD80", seed, 0x01)
	if err != nil {
		t.Fatal(err)
	}
	k81, err := seedkey.Compute("MSD81", seed, 0x01)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k80, k81) {
		t.Errorf("MSD80 key % X != MSD81 key % X", k80, k81)
	}
}

func TestDeterministic(t *testing.T) {
	for _, variant := range []string{"MSD80", "MSV70"} {
		seed := []byte{0x13, 0x57, 0x9B, 0xDF}[:2]
		if variant == "MSV70" {
			seed = []byte{0x13, 0x57, 0x9B, 0xDF}
		}
		first, err := seedkey.Compute(variant, seed, 0x01)
		if err != nil {
			t.Fatalf("%s: %v", variant, err)
		}
		for i := 0; i < 10; i++ {
			again, err := seedkey.Compute(variant, seed, 0x01)
			if err != nil {
				t.Fatalf("%s: %v", variant, err)
			}
			if !bytes.Equal(first, again) {
				t.Fatalf("%s is not deterministic: % X then % X", variant, first, again)
			}
		}
	}
}

func TestUnsupportedVariant(t *testing.T) {
	_, err := seedkey.Compute("EDC17", []byte{0x12, 0x34}, 0x01)
	if !errors.Is(err, seedkey.ErrUnsupportedVariant) {
		t.Errorf("error = %v, want ErrUnsupportedVariant", err)
	}
}

func TestBadSeedLength(t *testing.T) {
	if _, err := seedkey.Compute("MSD80", []byte{0x12}, 0x01); err == nil {
		t.Error("1-byte seed accepted by MSD80")
	}
	if _, err := seedkey.Compute("MSV70", []byte{0x12, 0x34}, 0x01); err == nil {
		t.Error("2-byte seed accepted by MSV70")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	if err := seedkey.Register("dup-test", func(seed []byte, level byte) ([]byte, error) {
		return seed, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := seedkey.Register("dup-test", func(seed []byte, level byte) ([]byte, error) {
		return seed, nil
	}); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestIsZero(t *testing.T) {
	tests := []struct {
		seed []byte
		want bool
	}{
		{seed: []byte{0x00, 0x00}, want: true},
		{seed: []byte{0x00, 0x01}, want: false},
		{seed: []byte{0x80, 0x00}, want: false},
		{seed: nil, want: false},
	}
	for _, tt := range tests {
		if got := seedkey.IsZero(tt.seed); got != tt.want {
			t.Errorf("IsZero(% X) = %v, want %v", tt.seed, got, tt.want)
		}
	}
}
