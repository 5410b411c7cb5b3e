package motorlink

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// PortOptions describes the UART used when the motor board is wired
// directly to the host instead of through the WiFi bridge. The board only
// speaks 8N1, so the baud rate is the one tunable.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
}

// Normalize validates the options and applies the default baud rate.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate < 0 {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}
	if opts.BaudRate == 0 {
		opts.BaudRate = 9600
	}
	return opts, nil
}

// SerialMode converts the port options into the 8N1 serial.Mode that
// go.bug.st/serial expects when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}, nil
}

// SerialOpener matches serial.Open; tests replace it.
type SerialOpener func(path string, mode *serial.Mode) (serial.Port, error)

// SerialDialer opens the motor board's UART.
type SerialDialer struct {
	Path    string
	Options PortOptions
	// Open defaults to serial.Open.
	Open SerialOpener
}

func (d SerialDialer) String() string { return "serial://" + d.Path }

// Dial opens the serial port with the configured mode.
func (d SerialDialer) Dial(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := d.Options.SerialMode()
	if err != nil {
		return nil, err
	}
	open := d.Open
	if open == nil {
		open = serial.Open
	}
	p, err := open(d.Path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}
