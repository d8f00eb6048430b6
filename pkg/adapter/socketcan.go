//go:build linux

package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ptcan/msdflash/pkg/debug"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := Register(&AdapterInfo{
		Name:               "socketcan",
		Description:        "Linux SocketCAN interface",
		RequiresSerialPort: false,
		New:                NewSocketCAN,
	}); err != nil {
		panic(err)
	}
}

// SocketCAN drives a kernel CAN interface such as can0. The interface
// bitrate is kernel-managed (ip link set can0 type can bitrate ...), so
// CANRate is informational only here.
type SocketCAN struct {
	BaseAdapter
	conn     net.Conn
	recv     *socketcan.Receiver
	tx       *socketcan.Transmitter
	connOnce sync.Once
}

func NewSocketCAN(cfg *Config) (Adapter, error) {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("socketcan", cfg),
	}, nil
}

func (sc *SocketCAN) Open(ctx context.Context) error {
	conn, err := socketcan.DialContext(ctx, "can", sc.cfg.Port)
	if err != nil {
		return fmt.Errorf("socketcan dial %s: %w", sc.cfg.Port, err)
	}
	sc.conn = conn
	sc.recv = socketcan.NewReceiver(conn)
	sc.tx = socketcan.NewTransmitter(conn)

	go sc.recvManager(ctx)
	go sc.sendManager(ctx)
	return nil
}

func (sc *SocketCAN) Close() error {
	sc.BaseAdapter.Close()
	var err error
	sc.connOnce.Do(func() {
		if sc.conn != nil {
			err = sc.conn.Close()
		}
	})
	return err
}

func (sc *SocketCAN) sendManager(ctx context.Context) {
	if sc.cfg.Debug {
		defer debug.Log("socketcan sendManager exited")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.closeChan:
			return
		case frame := <-sc.sendChan:
			if err := frame.Validate(); err != nil {
				sc.Error(err)
				continue
			}
			var cf can.Frame
			cf.ID = frame.Identifier
			cf.IsExtended = frame.Extended
			cf.IsRemote = frame.RTR
			cf.Length = uint8(len(frame.Data))
			copy(cf.Data[:], frame.Data)
			wctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			err := sc.tx.TransmitFrame(wctx, cf)
			cancel()
			if err != nil {
				sc.Error(fmt.Errorf("failed to send frame: %w", err))
			}
			if sc.cfg.Debug {
				debug.Log("out: " + frame.String())
			}
		}
	}
}

func (sc *SocketCAN) recvManager(ctx context.Context) {
	if sc.cfg.Debug {
		defer debug.Log("socketcan recvManager exited")
	}
	for sc.recv.Receive() {
		select {
		case <-ctx.Done():
			return
		case <-sc.closeChan:
			return
		default:
		}
		cf := sc.recv.Frame()
		frame := NewFrame(cf.ID, cf.Data[:cf.Length])
		frame.Extended = cf.IsExtended
		frame.RTR = cf.IsRemote
		if sc.cfg.Debug {
			debug.Log("in: " + frame.String())
		}
		sc.deliver(frame)
	}
	if err := sc.recv.Err(); err != nil {
		select {
		case <-sc.closeChan:
		default:
			sc.Error(fmt.Errorf("socketcan receive: %w", err))
		}
	}
}
