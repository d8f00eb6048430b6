package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ptcan/msdflash/pkg/debug"
	"go.bug.st/serial"
)

const (
	slcanBell          = 0x07 // controller NAK
	slcanDefaultSerial = 115200
)

func init() {
	if err := Register(&AdapterInfo{
		Name:               "slcan",
		Description:        "Lawicel SLCAN serial CAN dongle",
		RequiresSerialPort: true,
		New:                NewSLCan,
	}); err != nil {
		panic(err)
	}
}

// SLCan talks the Lawicel ASCII protocol over a serial port. One command
// or frame per line, CR terminated, BEL on rejection.
type SLCan struct {
	BaseAdapter
	port     serial.Port
	portOnce sync.Once
}

func NewSLCan(cfg *Config) (Adapter, error) {
	return &SLCan{
		BaseAdapter: NewBaseAdapter("slcan", cfg),
	}, nil
}

func (sa *SLCan) Open(ctx context.Context) error {
	baudrate := sa.cfg.PortBaudrate
	if baudrate == 0 {
		baudrate = slcanDefaultSerial
	}
	speed, err := slcanBitrateCode(sa.cfg.CANRate)
	if err != nil {
		return err
	}

	mode := &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(sa.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sa.cfg.Port, err)
	}
	if err := p.SetReadTimeout(10 * time.Millisecond); err != nil {
		p.Close()
		return err
	}
	sa.port = p

	// Known state: close any open channel, drain stale bytes, then
	// configure speed and open.
	setup := [][]byte{
		[]byte("\rC\r"),
		[]byte("S" + speed + "\r"),
		[]byte("O\r"),
	}
	for i, cmd := range setup {
		if _, err := p.Write(cmd); err != nil {
			p.Close()
			return fmt.Errorf("slcan setup failed: %w", err)
		}
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
			p.ResetInputBuffer()
		}
	}

	go sa.recvManager(ctx)
	go sa.sendManager(ctx)
	return nil
}

func (sa *SLCan) Close() error {
	sa.BaseAdapter.Close()
	var err error
	sa.portOnce.Do(func() {
		if sa.port == nil {
			return
		}
		sa.port.Write([]byte("C\r"))
		time.Sleep(10 * time.Millisecond)
		err = sa.port.Close()
	})
	return err
}

func (sa *SLCan) sendManager(ctx context.Context) {
	if sa.cfg.Debug {
		defer debug.Log("slcan sendManager exited")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sa.closeChan:
			return
		case frame := <-sa.sendChan:
			if err := frame.Validate(); err != nil {
				sa.Error(err)
				continue
			}
			if _, err := sa.port.Write([]byte(encodeSLCanFrame(frame))); err != nil {
				sa.Error(fmt.Errorf("failed to send frame: %w", err))
			}
			if sa.cfg.Debug {
				debug.Log("out: " + frame.String())
			}
		}
	}
}

func (sa *SLCan) recvManager(ctx context.Context) {
	if sa.cfg.Debug {
		defer debug.Log("slcan recvManager exited")
	}
	readBuf := make([]byte, 64)
	var line strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		case <-sa.closeChan:
			return
		default:
			n, err := sa.port.Read(readBuf)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case <-sa.closeChan:
				default:
					sa.Error(fmt.Errorf("failed to read from serial port: %w", err))
				}
				return
			}
			for _, b := range readBuf[:n] {
				switch b {
				case slcanBell:
					line.Reset()
					sa.Error(errors.New("slcan: command rejected"))
				case '\r':
					if line.Len() > 0 {
						sa.handleLine(line.String())
						line.Reset()
					}
				default:
					line.WriteByte(b)
				}
			}
		}
	}
}

func (sa *SLCan) handleLine(raw string) {
	switch raw[0] {
	case 't', 'T', 'r', 'R':
		frame, err := parseSLCanFrame(raw)
		if err != nil {
			sa.Error(err)
			return
		}
		if sa.cfg.Debug {
			debug.Log("in: " + frame.String())
		}
		sa.deliver(frame)
	case 'z', 'Z':
		// transmit ack, nothing to do
	default:
		if sa.cfg.Debug {
			debug.Logf("slcan: unhandled line %q", raw)
		}
	}
}

// parseSLCanFrame decodes a tiiiLdd.. / Tiiiiiiiilldd.. line into a frame.
func parseSLCanFrame(raw string) (*Frame, error) {
	kind := raw[0]
	extended := kind == 'T' || kind == 'R'
	rtr := kind == 'r' || kind == 'R'

	idLen := 3
	if extended {
		idLen = 8
	}
	if len(raw) < 1+idLen+1 {
		return nil, fmt.Errorf("slcan: short frame %q", raw)
	}
	id, err := strconv.ParseUint(raw[1:1+idLen], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("slcan: bad identifier in %q: %w", raw, err)
	}
	dlc := int(raw[1+idLen] - '0')
	if dlc < 0 || dlc > 8 {
		return nil, fmt.Errorf("slcan: bad DLC in %q", raw)
	}

	frame := NewFrame(uint32(id), nil)
	frame.Extended = extended
	frame.RTR = rtr
	if rtr {
		return frame, nil
	}

	hexData := raw[1+idLen+1:]
	if len(hexData) < dlc*2 {
		return nil, fmt.Errorf("slcan: truncated data in %q", raw)
	}
	data := make([]byte, dlc)
	for i := 0; i < dlc; i++ {
		b, err := strconv.ParseUint(hexData[i*2:i*2+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("slcan: bad data in %q: %w", raw, err)
		}
		data[i] = byte(b)
	}
	frame.Data = data
	return frame, nil
}

func encodeSLCanFrame(frame *Frame) string {
	var sb strings.Builder
	switch {
	case frame.RTR && frame.Extended:
		sb.WriteByte('R')
	case frame.RTR:
		sb.WriteByte('r')
	case frame.Extended:
		sb.WriteByte('T')
	default:
		sb.WriteByte('t')
	}
	if frame.Extended {
		sb.WriteString(fmt.Sprintf("%08X", frame.Identifier&MaxExtendedID))
	} else {
		sb.WriteString(fmt.Sprintf("%03X", frame.Identifier&MaxStandardID))
	}
	sb.WriteByte('0' + byte(len(frame.Data)))
	if !frame.RTR {
		for _, b := range frame.Data {
			sb.WriteString(fmt.Sprintf("%02X", b))
		}
	}
	sb.WriteByte('\r')
	return sb.String()
}

func slcanBitrateCode(kbit float64) (string, error) {
	switch kbit {
	case 10:
		return "0", nil
	case 20:
		return "1", nil
	case 50:
		return "2", nil
	case 100:
		return "3", nil
	case 125:
		return "4", nil
	case 250:
		return "5", nil
	case 0, 500:
		return "6", nil
	case 800:
		return "7", nil
	case 1000:
		return "8", nil
	}
	return "", fmt.Errorf("slcan: unsupported bitrate %.0f kbit/s", kbit)
}
