// Package isotp segments and reassembles diagnostic messages over CAN
// using the single/first/consecutive/flow-control framing discipline.
// One Codec instance serves one (tester, ECU) identifier pair.
package isotp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ptcan/msdflash/pkg/adapter"
)

const (
	pciSingle      = 0x00
	pciFirst       = 0x10
	pciConsecutive = 0x20
	pciFlowControl = 0x30

	fcContinue = 0x00
	fcWait     = 0x01
	fcOverflow = 0x02

	// MaxMessageSize is the largest payload the 12-bit first-frame length
	// field can describe.
	MaxMessageSize = 4095

	padByte = 0x00
)

var (
	ErrSequence           = errors.New("consecutive frame out of sequence")
	ErrReassemblyTimeout  = errors.New("timeout waiting for consecutive frame")
	ErrFlowControlTimeout = errors.New("timeout waiting for flow control")
	ErrMessageTooLarge    = fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	ErrBufferOverflow     = errors.New("receiver reported buffer overflow")
)

// Transport is the frame-level seam the codec drives. *adapter.BaseAdapter
// backed adapters satisfy it.
type Transport interface {
	Send(*adapter.Frame) error
	Recv() <-chan *adapter.Frame
}

type Config struct {
	TxID uint32
	RxID uint32
	// BlockSize and STmin are advertised in our flow-control frames.
	// Zero means "send everything, no delay", which is what the ECU side
	// of a download wants from us.
	BlockSize byte
	STmin     byte
	// FCTimeout bounds the wait for the receiver's flow control during a
	// segmented send.
	FCTimeout time.Duration
	// ReassemblyTimeout bounds the gap between consecutive frames during
	// receive.
	ReassemblyTimeout time.Duration
}

type Codec struct {
	tr  Transport
	cfg Config
}

func New(tr Transport, cfg Config) *Codec {
	if cfg.FCTimeout == 0 {
		cfg.FCTimeout = time.Second
	}
	if cfg.ReassemblyTimeout == 0 {
		cfg.ReassemblyTimeout = 300 * time.Millisecond
	}
	return &Codec{tr: tr, cfg: cfg}
}

// Flush drops any frames already queued from the transport. Called before
// a request so a stale response cannot satisfy a fresh wait.
func (c *Codec) Flush() {
	for {
		select {
		case <-c.tr.Recv():
		default:
			return
		}
	}
}

// Send transmits one logical message, segmenting as needed.
func (c *Codec) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	if len(payload) <= 7 {
		return c.sendFrame(append([]byte{pciSingle | byte(len(payload))}, payload...))
	}
	return c.sendSegmented(ctx, payload)
}

func (c *Codec) sendSegmented(ctx context.Context, payload []byte) error {
	first := make([]byte, 8)
	first[0] = pciFirst | byte(len(payload)>>8)
	first[1] = byte(len(payload))
	copy(first[2:], payload[:6])
	if err := c.sendFrame(first); err != nil {
		return err
	}

	blockSize, stmin, err := c.waitFlowControl(ctx)
	if err != nil {
		return err
	}

	seq := byte(1)
	inBlock := 0
	for idx := 6; idx < len(payload); {
		end := idx + 7
		if end > len(payload) {
			end = len(payload)
		}
		cf := append([]byte{pciConsecutive | seq}, payload[idx:end]...)
		if err := c.sendFrame(cf); err != nil {
			return err
		}
		idx = end
		seq = (seq + 1) & 0x0F
		inBlock++

		if idx < len(payload) {
			if blockSize > 0 && inBlock == int(blockSize) {
				blockSize, stmin, err = c.waitFlowControl(ctx)
				if err != nil {
					return err
				}
				inBlock = 0
			}
			if delay := stminDuration(stmin); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

func (c *Codec) waitFlowControl(ctx context.Context) (byte, byte, error) {
	deadline := time.NewTimer(c.cfg.FCTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-deadline.C:
			return 0, 0, ErrFlowControlTimeout
		case frame := <-c.tr.Recv():
			if frame.Identifier != c.cfg.RxID || len(frame.Data) < 3 {
				continue
			}
			if frame.Data[0]&0xF0 != pciFlowControl {
				continue
			}
			switch frame.Data[0] & 0x0F {
			case fcContinue:
				return frame.Data[1], frame.Data[2], nil
			case fcWait:
				if !deadline.Stop() {
					<-deadline.C
				}
				deadline.Reset(c.cfg.FCTimeout)
			case fcOverflow:
				return 0, 0, ErrBufferOverflow
			}
		}
	}
}

// Recv assembles the next inbound message. The deadline for the first
// frame comes from ctx; consecutive frames are additionally bounded by
// ReassemblyTimeout.
func (c *Codec) Recv(ctx context.Context) ([]byte, error) {
	for {
		frame, err := c.waitFrame(ctx, 0)
		if err != nil {
			return nil, err
		}
		if len(frame.Data) == 0 {
			continue
		}
		switch frame.Data[0] & 0xF0 {
		case pciSingle:
			length := int(frame.Data[0] & 0x0F)
			if length == 0 || length > 7 || len(frame.Data) < 1+length {
				continue
			}
			out := make([]byte, length)
			copy(out, frame.Data[1:1+length])
			return out, nil
		case pciFirst:
			return c.recvSegmented(ctx, frame)
		default:
			// stale consecutive or flow-control frame, not ours
			continue
		}
	}
}

func (c *Codec) recvSegmented(ctx context.Context, first *adapter.Frame) ([]byte, error) {
	if len(first.Data) < 8 {
		return nil, fmt.Errorf("short first frame: %d bytes", len(first.Data))
	}
	total := int(first.Data[0]&0x0F)<<8 | int(first.Data[1])
	if total == 0 {
		// escape encoding for >4095 byte messages
		return nil, ErrMessageTooLarge
	}
	buf := make([]byte, 0, total)
	buf = append(buf, first.Data[2:8]...)

	if err := c.sendFrame([]byte{pciFlowControl | fcContinue, c.cfg.BlockSize, c.cfg.STmin}); err != nil {
		return nil, err
	}

	expected := byte(1)
	inBlock := 0
	for len(buf) < total {
		frame, err := c.waitFrame(ctx, c.cfg.ReassemblyTimeout)
		if err != nil {
			return nil, err
		}
		if len(frame.Data) < 2 || frame.Data[0]&0xF0 != pciConsecutive {
			continue
		}
		if seq := frame.Data[0] & 0x0F; seq != expected {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrSequence, seq, expected)
		}
		expected = (expected + 1) & 0x0F

		need := total - len(buf)
		chunk := frame.Data[1:]
		if len(chunk) > need {
			chunk = chunk[:need]
		}
		buf = append(buf, chunk...)

		inBlock++
		if c.cfg.BlockSize > 0 && inBlock == int(c.cfg.BlockSize) && len(buf) < total {
			if err := c.sendFrame([]byte{pciFlowControl | fcContinue, c.cfg.BlockSize, c.cfg.STmin}); err != nil {
				return nil, err
			}
			inBlock = 0
		}
	}
	return buf, nil
}

func (c *Codec) waitFrame(ctx context.Context, timeout time.Duration) (*adapter.Frame, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrReassemblyTimeout
		case frame := <-c.tr.Recv():
			if frame.Identifier != c.cfg.RxID {
				continue
			}
			return frame, nil
		}
	}
}

func (c *Codec) sendFrame(data []byte) error {
	if len(data) < 8 {
		padded := make([]byte, 8)
		copy(padded, data)
		for i := len(data); i < 8; i++ {
			padded[i] = padByte
		}
		data = padded
	}
	return c.tr.Send(adapter.NewFrame(c.cfg.TxID, data))
}

// stminDuration decodes the flow-control separation time byte.
func stminDuration(st byte) time.Duration {
	switch {
	case st <= 0x7F:
		return time.Duration(st) * time.Millisecond
	case st >= 0xF1 && st <= 0xF9:
		return time.Duration(st-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}
