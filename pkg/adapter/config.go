package adapter

import "log"

// Config carries everything a backend needs to open a link. Unused fields
// are ignored by backends that have no use for them, e.g. PortBaudrate on
// SocketCAN.
type Config struct {
	// Port is the device path, interface name or driver DLL depending on
	// the backend: /dev/ttyUSB0, can0, C:\path\to\op20pt32.dll.
	Port string
	// PortBaudrate is the serial link speed for serial-attached dongles.
	PortBaudrate int
	// CANRate is the bus speed in kbit/s, 500 for powertrain CAN.
	CANRate float64
	// Filter lists identifiers to pass through to Recv. Empty passes all.
	Filter []uint32
	// OnMessage receives user-facing status lines. Defaults to log.Println.
	OnMessage func(string)
	// OnError receives asynchronous link errors. Defaults to log.Println.
	OnError func(error)
	// Debug enables frame-level tracing to the debug log.
	Debug bool
}

func (c *Config) message(msg string) {
	if c.OnMessage != nil {
		c.OnMessage(msg)
		return
	}
	log.Println(msg)
}

func (c *Config) error(err error) {
	if c.OnError != nil {
		c.OnError(err)
		return
	}
	log.Println(err)
}
