// Package serial opens serial line devices.
package serial

import (
	"io"

	goserial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// Options to be passed to Open(), closely mirrors goserial.OpenOptions.
type Options struct {
	BaudRate          int
	DataBits          int
	StopBits          StopBits
	RTSCTSFlowControl bool
	// ReadTimeout is the inter-character timeout in milliseconds. Zero blocks until
	// MinimumReadSize bytes arrive.
	ReadTimeout int
	Parity      Parity
}

// Parity describes a serial port parity setting.
type Parity int

const (
	// NoParity disable parity control (default)
	NoParity Parity = iota
	// OddParity enable odd-parity check
	OddParity
	// EvenParity enable even-parity check
	EvenParity
)

// ParseParity converts "none", "odd" or "even".
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none":
		return NoParity, nil
	case "odd":
		return OddParity, nil
	case "even":
		return EvenParity, nil
	default:
		return NoParity, errors.Errorf("unknown parity %q", s)
	}
}

// StopBits describe a serial port stop bits setting.
type StopBits int

const (
	// OneStopBit sets 1 stop bit (default)
	OneStopBit StopBits = iota
	// TwoStopBits sets 2 stop bits
	TwoStopBits
)

// DefaultOptions is 9600 baud 8N1 without flow control.
var DefaultOptions = Options{BaudRate: 9600, DataBits: 8, StopBits: OneStopBit, Parity: NoParity}

func (o Options) toOpenOptions(devicePath string) (goserial.OpenOptions, error) {
	opts := goserial.OpenOptions{
		PortName:          devicePath,
		BaudRate:          uint(o.BaudRate),
		DataBits:          uint(o.DataBits),
		StopBits:          1,
		RTSCTSFlowControl: o.RTSCTSFlowControl,
		MinimumReadSize:   1,
	}
	if o.BaudRate <= 0 {
		return opts, errors.Errorf("invalid baud rate %d", o.BaudRate)
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return opts, errors.Errorf("invalid data bits %d", o.DataBits)
	}
	switch o.StopBits {
	case OneStopBit:
	case TwoStopBits:
		opts.StopBits = 2
	default:
		return opts, errors.Errorf("invalid stop bits %d", o.StopBits)
	}
	switch o.Parity {
	case NoParity:
		opts.ParityMode = goserial.PARITY_NONE
	case OddParity:
		opts.ParityMode = goserial.PARITY_ODD
	case EvenParity:
		opts.ParityMode = goserial.PARITY_EVEN
	default:
		return opts, errors.Errorf("invalid parity %d", o.Parity)
	}
	if o.ReadTimeout > 0 {
		opts.InterCharacterTimeout = uint(o.ReadTimeout)
		opts.MinimumReadSize = 0
	}
	return opts, nil
}

// Open attempts to open a serial device on the given path. It's a variable
// in case you need to override it during tests.
var Open = func(devicePath string, options Options) (io.ReadWriteCloser, error) {
	opts, err := options.toOpenOptions(devicePath)
	if err != nil {
		return nil, err
	}
	device, err := goserial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial device %q", devicePath)
	}
	return device, nil
}
