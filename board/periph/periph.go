// Package periph implements the board GPIO and I2C boundaries on top of periph.io, which covers
// the Raspberry Pi family and most sysfs/character-device Linux boards.
package periph

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"go.aim.dev/aim/board"
	"go.aim.dev/aim/logging"
)

var (
	initOnce sync.Once
	errInit  error
)

// Init loads the periph host drivers. It is safe to call more than once.
func Init(logger logging.Logger) error {
	initOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			errInit = errors.Wrap(err, "failed to initialize periph host drivers")
			return
		}
		for _, loaded := range state.Loaded {
			logger.Debugw("loaded periph driver", "driver", loaded.String())
		}
		for _, failed := range state.Failed {
			logger.Debugw("periph driver failed to load", "driver", failed.D.String(), "error", failed.Err)
		}
	})
	return errInit
}

// GPIO opens pins through the periph gpio registry. Pins are looked up by their number, e.g.
// 21 resolves to "GPIO21" on a Raspberry Pi.
type GPIO struct {
	logger logging.Logger
}

// NewGPIO initializes periph and returns a board.GPIO.
func NewGPIO(logger logging.Logger) (*GPIO, error) {
	if err := Init(logger); err != nil {
		return nil, err
	}
	return &GPIO{logger: logger}, nil
}

// OpenPin looks the line up in the registry and applies the requested mode.
func (g *GPIO) OpenPin(number int, mode board.PinMode) (board.Pin, error) {
	line := gpioreg.ByName(strconv.Itoa(number))
	if line == nil {
		return nil, errors.Errorf("no global pin found for %d", number)
	}
	pin := &periphPin{line: line, number: number}
	if err := pin.SetMode(mode); err != nil {
		return nil, err
	}
	return pin, nil
}

type periphPin struct {
	line   gpio.PinIO
	number int
	mode   board.PinMode
}

func (p *periphPin) Number() int {
	return p.number
}

func (p *periphPin) SetMode(mode board.PinMode) error {
	var err error
	switch mode {
	case board.Output:
		err = p.line.Out(gpio.Low)
	case board.Input:
		err = p.line.In(gpio.Float, gpio.NoEdge)
	case board.InputPullUp:
		if err = p.line.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return errors.Wrapf(board.ErrPinModeUnsupported, "pin %d: %v", p.number, err)
		}
	default:
		return errors.Wrapf(board.ErrPinModeUnsupported, "pin %d: mode %d", p.number, mode)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to set pin %d to %s", p.number, mode)
	}
	p.mode = mode
	return nil
}

func (p *periphPin) Read() bool {
	return p.line.Read() == gpio.High
}

func (p *periphPin) Write(high bool) error {
	if p.mode != board.Output {
		return errors.Errorf("pin %d is not an output", p.number)
	}
	l := gpio.Low
	if high {
		l = gpio.High
	}
	return p.line.Out(l)
}

func (p *periphPin) Close() error {
	return p.line.Halt()
}
