package adapter

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Frame is a single CAN frame. Frames handed out by an adapter are owned by
// the receiver; frames passed to Send are owned by the adapter until the
// call returns.
type Frame struct {
	Identifier uint32
	Data       []byte
	Extended   bool
	RTR        bool
	Timestamp  time.Time
}

func NewFrame(identifier uint32, data []byte) *Frame {
	return &Frame{
		Identifier: identifier,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

func (f *Frame) Length() int {
	return len(f.Data)
}

// Validate checks identifier range and payload size against CAN 2.0 limits.
func (f *Frame) Validate() error {
	switch {
	case f.Extended && f.Identifier > MaxExtendedID:
		return fmt.Errorf("identifier 0x%X exceeds 29 bits", f.Identifier)
	case !f.Extended && f.Identifier > MaxStandardID:
		return fmt.Errorf("identifier 0x%X exceeds 11 bits, did you mean extended?", f.Identifier)
	case len(f.Data) > 8:
		return fmt.Errorf("payload length %d exceeds 8 bytes", len(f.Data))
	}
	return nil
}

func (f *Frame) String() string {
	var sb strings.Builder
	if f.Extended {
		sb.WriteString(fmt.Sprintf("0x%08X", f.Identifier))
	} else {
		sb.WriteString(fmt.Sprintf("0x%03X", f.Identifier))
	}
	sb.WriteString(fmt.Sprintf(" [%d]", len(f.Data)))
	for _, b := range f.Data {
		sb.WriteString(fmt.Sprintf(" %02X", b))
	}
	if f.RTR {
		sb.WriteString(" RTR")
	}
	return sb.String()
}
