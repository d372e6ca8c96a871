// Package board defines the GPIO and I2C boundaries that hardware communication strategies talk
// through. Implementations live in subpackages: periph for real hardware, fake for tests.
package board

import "github.com/pkg/errors"

// PinMode is the electrical configuration of a GPIO line.
type PinMode int

const (
	// Input leaves the line floating.
	Input PinMode = iota
	// InputPullUp enables the internal pull-up resistor.
	InputPullUp
	// Output drives the line.
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case InputPullUp:
		return "input-pullup"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// ErrPinModeUnsupported is returned by SetMode when a line cannot be put into a mode.
var ErrPinModeUnsupported = errors.New("pin mode not supported")

// GPIO opens numbered lines on a board.
type GPIO interface {
	// OpenPin acquires the line and puts it in the given mode. The pin MUST be closed when done.
	OpenPin(number int, mode PinMode) (Pin, error)
}

// A Pin represents an individual, opened GPIO line. Read and Write are called from tight timing
// loops, so they take no context and do no allocation.
type Pin interface {
	Number() int
	// SetMode reconfigures the line. It returns ErrPinModeUnsupported if the line can't do it.
	SetMode(mode PinMode) error
	// Read samples the line level, true being high.
	Read() bool
	// Write drives the line, true being high. The pin must be in Output mode.
	Write(high bool) error
	// Close releases the line.
	Close() error
}
