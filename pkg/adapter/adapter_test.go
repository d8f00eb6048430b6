package adapter

import (
	"errors"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{name: "standard ok", frame: &Frame{Identifier: 0x6F1, Data: []byte{1, 2, 3}}},
		{name: "extended ok", frame: &Frame{Identifier: 0x18DAF110, Extended: true, Data: []byte{1}}},
		{name: "standard id too wide", frame: &Frame{Identifier: 0x800, Data: []byte{1}}, wantErr: true},
		{name: "extended id too wide", frame: &Frame{Identifier: 0x20000000, Extended: true}, wantErr: true},
		{name: "payload too long", frame: &Frame{Identifier: 0x123, Data: make([]byte, 9)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.frame.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	if _, err := New("no-such-backend", &Config{}); !errors.Is(err, ErrAdapterUnknown) {
		t.Errorf("New(unknown) error = %v, want ErrAdapterUnknown", err)
	}
}

func TestRegistryHasSLCan(t *testing.T) {
	info, err := Get("slcan")
	if err != nil {
		t.Fatal(err)
	}
	if !info.RequiresSerialPort {
		t.Error("slcan should require a serial port")
	}
	a, err := New("slcan", &Config{Port: "/dev/null", CANRate: 500})
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "slcan" {
		t.Errorf("Name() = %q, want slcan", a.Name())
	}
}

func TestBaseAdapterFilter(t *testing.T) {
	ba := NewBaseAdapter("test", &Config{Filter: []uint32{0x6F9}})
	ba.deliver(NewFrame(0x7E8, []byte{0x01}))
	ba.deliver(NewFrame(0x6F9, []byte{0x02}))
	select {
	case f := <-ba.Recv():
		if f.Identifier != 0x6F9 {
			t.Errorf("got identifier 0x%X, want 0x6F9", f.Identifier)
		}
	default:
		t.Fatal("expected a frame to pass the filter")
	}
	select {
	case f := <-ba.Recv():
		t.Errorf("unexpected extra frame 0x%X", f.Identifier)
	default:
	}

	// clearing the filter passes everything
	if err := ba.SetFilter(nil); err != nil {
		t.Fatal(err)
	}
	ba.deliver(NewFrame(0x7E8, []byte{0x03}))
	select {
	case <-ba.Recv():
	default:
		t.Fatal("expected frame after filter cleared")
	}
}

func TestBaseAdapterSendAfterClose(t *testing.T) {
	ba := NewBaseAdapter("test", &Config{})
	ba.Close()
	if err := ba.Send(NewFrame(0x123, nil)); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Send after close = %v, want ErrPortClosed", err)
	}
}
