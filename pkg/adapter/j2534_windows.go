//go:build windows

package adapter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/ptcan/msdflash/pkg/debug"
	"golang.org/x/sys/windows"
)

const (
	j2534ProtocolCAN    = 0x00000002
	j2534PassFilter     = 0x00000001
	j2534SetConfig      = 0x00000001
	j2534ParamDataRate  = 0x00000001
	j2534ErrTimeout     = 0x0000000A
	j2534ErrBufferEmpty = 0x00000007
	j2534DataBufferSize = 4128
)

func init() {
	if err := Register(&AdapterInfo{
		Name:               "j2534",
		Description:        "J2534 pass-thru driver DLL",
		RequiresSerialPort: false,
		New:                NewJ2534,
	}); err != nil {
		panic(err)
	}
}

type passThruMsg struct {
	ProtocolID     uint32
	RxStatus       uint32
	TxFlags        uint32
	Timestamp      uint32
	DataSize       uint32
	ExtraDataIndex uint32
	Data           [j2534DataBufferSize]byte
}

type sConfig struct {
	Parameter uint32
	Value     uint32
}

type sConfigList struct {
	NumOfParams uint32
	ConfigPtr   *sConfig
}

// J2534 loads a vendor pass-thru DLL (Port holds the DLL path) and drives
// raw CAN through it. The DLL serializes its own channel access, the ioMu
// keeps our read and write calls from interleaving mid-message.
type J2534 struct {
	BaseAdapter

	dll *windows.LazyDLL

	passThruOpen           *windows.LazyProc
	passThruClose          *windows.LazyProc
	passThruConnect        *windows.LazyProc
	passThruDisconnect     *windows.LazyProc
	passThruReadMsgs       *windows.LazyProc
	passThruWriteMsgs      *windows.LazyProc
	passThruStartMsgFilter *windows.LazyProc
	passThruStopMsgFilter  *windows.LazyProc
	passThruIoctl          *windows.LazyProc

	deviceID  uint32
	channelID uint32
	filterID  uint32

	ioMu     sync.Mutex
	teardown sync.Once
}

func NewJ2534(cfg *Config) (Adapter, error) {
	return &J2534{
		BaseAdapter: NewBaseAdapter("j2534", cfg),
	}, nil
}

func (ja *J2534) Open(ctx context.Context) error {
	if _, err := os.Stat(ja.cfg.Port); err != nil {
		return fmt.Errorf("j2534 DLL not found: %s", ja.cfg.Port)
	}
	ja.dll = windows.NewLazyDLL(ja.cfg.Port)
	if err := ja.dll.Load(); err != nil {
		return fmt.Errorf("failed to load %s: %w", ja.cfg.Port, err)
	}
	ja.passThruOpen = ja.dll.NewProc("PassThruOpen")
	ja.passThruClose = ja.dll.NewProc("PassThruClose")
	ja.passThruConnect = ja.dll.NewProc("PassThruConnect")
	ja.passThruDisconnect = ja.dll.NewProc("PassThruDisconnect")
	ja.passThruReadMsgs = ja.dll.NewProc("PassThruReadMsgs")
	ja.passThruWriteMsgs = ja.dll.NewProc("PassThruWriteMsgs")
	ja.passThruStartMsgFilter = ja.dll.NewProc("PassThruStartMsgFilter")
	ja.passThruStopMsgFilter = ja.dll.NewProc("PassThruStopMsgFilter")
	ja.passThruIoctl = ja.dll.NewProc("PassThruIoctl")

	bitrate := uint32(ja.cfg.CANRate * 1000)
	if bitrate == 0 {
		bitrate = 500000
	}

	status, _, _ := ja.passThruOpen.Call(0, uintptr(unsafe.Pointer(&ja.deviceID)))
	if status != 0 {
		return j2534Error("PassThruOpen", status)
	}
	status, _, _ = ja.passThruConnect.Call(
		uintptr(ja.deviceID),
		j2534ProtocolCAN,
		0,
		uintptr(bitrate),
		uintptr(unsafe.Pointer(&ja.channelID)),
	)
	if status != 0 {
		ja.passThruClose.Call(uintptr(ja.deviceID))
		return j2534Error("PassThruConnect", status)
	}
	if err := ja.setDataRate(bitrate); err != nil {
		ja.disconnect()
		return err
	}
	if err := ja.installPassFilter(); err != nil {
		ja.disconnect()
		return err
	}

	go ja.recvManager(ctx)
	go ja.sendManager(ctx)
	return nil
}

func (ja *J2534) Close() error {
	ja.BaseAdapter.Close()
	ja.teardown.Do(ja.disconnect)
	return nil
}

func (ja *J2534) disconnect() {
	if ja.filterID != 0 {
		ja.passThruStopMsgFilter.Call(uintptr(ja.channelID), uintptr(ja.filterID))
		ja.filterID = 0
	}
	if ja.channelID != 0 {
		ja.passThruDisconnect.Call(uintptr(ja.channelID))
		ja.channelID = 0
	}
	if ja.deviceID != 0 {
		ja.passThruClose.Call(uintptr(ja.deviceID))
		ja.deviceID = 0
	}
}

func (ja *J2534) setDataRate(bitrate uint32) error {
	cfg := sConfig{Parameter: j2534ParamDataRate, Value: bitrate}
	list := sConfigList{NumOfParams: 1, ConfigPtr: &cfg}
	status, _, _ := ja.passThruIoctl.Call(
		uintptr(ja.channelID),
		j2534SetConfig,
		uintptr(unsafe.Pointer(&list)),
		0,
	)
	if status != 0 {
		return j2534Error("PassThruIoctl(SET_CONFIG)", status)
	}
	return nil
}

// installPassFilter opens the channel for all identifiers; the software
// filter in BaseAdapter narrows the stream.
func (ja *J2534) installPassFilter() error {
	var mask, pattern passThruMsg
	mask.ProtocolID = j2534ProtocolCAN
	pattern.ProtocolID = j2534ProtocolCAN
	mask.DataSize = 4
	pattern.DataSize = 4
	mask.ExtraDataIndex = 4
	pattern.ExtraDataIndex = 4
	status, _, _ := ja.passThruStartMsgFilter.Call(
		uintptr(ja.channelID),
		j2534PassFilter,
		uintptr(unsafe.Pointer(&mask)),
		uintptr(unsafe.Pointer(&pattern)),
		0,
		uintptr(unsafe.Pointer(&ja.filterID)),
	)
	if status != 0 {
		return j2534Error("PassThruStartMsgFilter", status)
	}
	return nil
}

func (ja *J2534) sendManager(ctx context.Context) {
	if ja.cfg.Debug {
		defer debug.Log("j2534 sendManager exited")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ja.closeChan:
			return
		case frame := <-ja.sendChan:
			if err := frame.Validate(); err != nil {
				ja.Error(err)
				continue
			}
			if err := ja.writeFrame(frame); err != nil {
				ja.Error(err)
			}
			if ja.cfg.Debug {
				debug.Log("out: " + frame.String())
			}
		}
	}
}

func (ja *J2534) writeFrame(frame *Frame) error {
	var msg passThruMsg
	msg.ProtocolID = j2534ProtocolCAN
	msg.DataSize = uint32(len(frame.Data)) + 4
	msg.ExtraDataIndex = 4
	// The vendor driver carries the arbitration id little-endian in the
	// first four data bytes.
	arb := frame.Identifier & MaxExtendedID
	msg.Data[0] = byte(arb)
	msg.Data[1] = byte(arb >> 8)
	msg.Data[2] = byte(arb >> 16)
	msg.Data[3] = byte(arb >> 24)
	copy(msg.Data[4:], frame.Data)

	count := uint32(1)
	ja.ioMu.Lock()
	status, _, _ := ja.passThruWriteMsgs.Call(
		uintptr(ja.channelID),
		uintptr(unsafe.Pointer(&msg)),
		uintptr(unsafe.Pointer(&count)),
		1000,
	)
	ja.ioMu.Unlock()
	if status != 0 {
		return j2534Error("PassThruWriteMsgs", status)
	}
	return nil
}

func (ja *J2534) recvManager(ctx context.Context) {
	if ja.cfg.Debug {
		defer debug.Log("j2534 recvManager exited")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ja.closeChan:
			return
		default:
		}
		var msg passThruMsg
		count := uint32(1)
		ja.ioMu.Lock()
		status, _, _ := ja.passThruReadMsgs.Call(
			uintptr(ja.channelID),
			uintptr(unsafe.Pointer(&msg)),
			uintptr(unsafe.Pointer(&count)),
			20,
		)
		ja.ioMu.Unlock()
		switch status {
		case 0:
		case j2534ErrTimeout, j2534ErrBufferEmpty:
			continue
		default:
			select {
			case <-ja.closeChan:
				return
			default:
			}
			ja.Error(j2534Error("PassThruReadMsgs", status))
			continue
		}
		if count == 0 || msg.DataSize < 4 {
			continue
		}
		arb := uint32(msg.Data[0]) | uint32(msg.Data[1])<<8 |
			uint32(msg.Data[2])<<16 | uint32(msg.Data[3])<<24
		payloadLen := int(msg.DataSize) - 4
		if payloadLen > 8 {
			payloadLen = 8
		}
		data := make([]byte, payloadLen)
		copy(data, msg.Data[4:4+payloadLen])
		frame := NewFrame(arb, data)
		frame.Extended = arb > MaxStandardID
		if ja.cfg.Debug {
			debug.Log("in: " + frame.String())
		}
		ja.deliver(frame)
	}
}

func j2534Error(api string, status uintptr) error {
	return fmt.Errorf("%s failed with status 0x%08X", api, status)
}
