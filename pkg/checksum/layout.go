package checksum

import (
	"encoding/binary"
	"fmt"
)

// Segment describes one checksummed region of a flash image. The stored
// word lives at StoreAddr (StoreLen of 2 or 4 bytes, big-endian). Balance
// segments keep their word as the final word of the region itself, chosen
// so the additive sum over the whole region wraps to zero.
type Segment struct {
	Name      string
	Addr      uint32
	Len       uint32
	Params    Params
	StoreAddr uint32
	StoreLen  uint32
	Protected bool
	Balance   bool
}

func (s Segment) String() string {
	return fmt.Sprintf("%s 0x%06X-0x%06X", s.Name, s.Addr, s.Addr+s.Len)
}

func (s Segment) end() uint32 { return s.Addr + s.Len }

// covered returns the byte range the checksum is computed over. For
// balance segments that excludes the stored word.
func (s Segment) covered(image []byte) []byte {
	if s.Balance {
		return image[s.Addr : s.end()-s.StoreLen]
	}
	return image[s.Addr:s.end()]
}

// Compute returns the value the stored word should hold for image.
func (s Segment) Compute(image []byte) (uint32, error) {
	if err := s.check(image); err != nil {
		return 0, err
	}
	if s.Balance {
		return uint32(BalanceWord(s.covered(image))), nil
	}
	return Compute(s.covered(image), s.Params), nil
}

// Stored reads the checksum word currently in the image.
func (s Segment) Stored(image []byte) (uint32, error) {
	if err := s.check(image); err != nil {
		return 0, err
	}
	switch s.StoreLen {
	case 2:
		return uint32(binary.BigEndian.Uint16(image[s.StoreAddr:])), nil
	case 4:
		return binary.BigEndian.Uint32(image[s.StoreAddr:]), nil
	default:
		return 0, fmt.Errorf("segment %s: unsupported store length %d", s.Name, s.StoreLen)
	}
}

// Update recomputes the segment's word and writes it into the image.
func (s Segment) Update(image []byte) error {
	value, err := s.Compute(image)
	if err != nil {
		return err
	}
	switch s.StoreLen {
	case 2:
		binary.BigEndian.PutUint16(image[s.StoreAddr:], uint16(value))
	case 4:
		binary.BigEndian.PutUint32(image[s.StoreAddr:], value)
	default:
		return fmt.Errorf("segment %s: unsupported store length %d", s.Name, s.StoreLen)
	}
	return nil
}

// Verify checks the stored word against the computed one. Balance segments
// verify the boot-time invariant directly: the additive sum over the whole
// region must wrap to zero.
func (s Segment) Verify(image []byte) error {
	if err := s.check(image); err != nil {
		return err
	}
	if s.Balance {
		if total := Sum16(image[s.Addr:s.end()]); total != 0 {
			return fmt.Errorf("segment %s: %w: additive total 0x%04X, want 0x0000", s.Name, ErrMismatch, total)
		}
		return nil
	}
	computed, err := s.Compute(image)
	if err != nil {
		return err
	}
	stored, err := s.Stored(image)
	if err != nil {
		return err
	}
	if computed != stored {
		return fmt.Errorf("segment %s: %w: computed 0x%04X, stored 0x%04X", s.Name, ErrMismatch, computed, stored)
	}
	return nil
}

func (s Segment) check(image []byte) error {
	if s.end() > uint32(len(image)) || s.StoreAddr+s.StoreLen > uint32(len(image)) {
		return fmt.Errorf("segment %s: outside %d byte image", s.Name, len(image))
	}
	if s.Len < s.StoreLen {
		return fmt.Errorf("segment %s: shorter than its stored word", s.Name)
	}
	return nil
}

// Layout is the full checksum map of one image: the data segments plus an
// optional footer whose word covers the other stored checksum words. The
// footer is always recomputed after any segment update; a stale footer is
// the classic way to brick a modified image.
type Layout struct {
	Segments []Segment
	Footer   *Segment
}

// Segment returns the named segment.
func (l Layout) Segment(name string) (Segment, bool) {
	for _, s := range l.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return Segment{}, false
}

// VerifyImage checks every segment word and the footer.
func (l Layout) VerifyImage(image []byte) error {
	for _, s := range l.Segments {
		if err := s.Verify(image); err != nil {
			return err
		}
	}
	if l.Footer != nil {
		if err := l.Footer.Verify(image); err != nil {
			return err
		}
	}
	return nil
}

// UpdateImage recomputes every segment word, then the footer over the
// fresh words.
func (l Layout) UpdateImage(image []byte) error {
	for _, s := range l.Segments {
		if err := s.Update(image); err != nil {
			return err
		}
	}
	return l.updateFooter(image)
}

// UpdateSegment recomputes one segment's word. The footer is refreshed
// unconditionally, even for a single-segment edit.
func (l Layout) UpdateSegment(image []byte, name string) error {
	s, ok := l.Segment(name)
	if !ok {
		return fmt.Errorf("no segment named %q", name)
	}
	if err := s.Update(image); err != nil {
		return err
	}
	return l.updateFooter(image)
}

func (l Layout) updateFooter(image []byte) error {
	if l.Footer == nil {
		return nil
	}
	return l.Footer.Update(image)
}
