package main

import (
	"errors"
	"time"

	serial "github.com/daedaluz/goserial"
)

// baudFlags maps the configuration's enumerated baud rates to the
// termios speed constants goserial expects (spec section 6's baud
// enum).
var baudFlags = map[int]serial.CFlag{
	110:   serial.B110,
	300:   serial.B300,
	600:   serial.B600,
	1200:  serial.B1200,
	2400:  serial.B2400,
	9600:  serial.B9600,
	19200: serial.B19200,
	38400: serial.B38400,
}

// serialChannel adapts a goserial.Port to link.ByteChannel. Serial port
// open/configure is explicitly out of scope for the core (spec section
// 1); this is the external collaborator that realises the contract.
type serialChannel struct {
	port *serial.Port
}

// openSerialChannel opens device at baud, 8N1 raw mode, and wraps it as
// a link.ByteChannel with a short read timeout so Read never blocks
// for long (the contract promises it never blocks at all).
func openSerialChannel(device string, baud int) (*serialChannel, error) {
	flag, ok := baudFlags[baud]
	if !ok {
		return nil, errors.New("serial_channel: unsupported baud rate")
	}
	opts := serial.NewOptions().SetReadTimeout(1 * time.Millisecond)
	port, err := serial.Open(device, opts)
	if err != nil {
		return nil, err
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.SetSpeed(flag)
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	return &serialChannel{port: port}, nil
}

// Read satisfies link.ByteChannel: a read-timeout expiry (no bytes
// ready within the configured window) is reported as (0, nil) rather
// than propagated, since the channel contract never blocks and never
// fails merely because nothing arrived yet.
func (c *serialChannel) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if err != nil {
		if errors.Is(err, serial.ErrClosed) {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

func (c *serialChannel) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// WriteReady always reports true: goserial's Write is a direct
// synchronous syscall.Write with no internal staging buffer to drain.
func (c *serialChannel) WriteReady() bool { return true }

func (c *serialChannel) Close() error {
	return c.port.Close()
}
