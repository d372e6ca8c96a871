// Package fake implements in-memory GPIO pins and I2C devices for testing strategies that
// talk to hardware.
package fake

import (
	"sync"

	"github.com/pkg/errors"

	"go.aim.dev/aim/board"
)

// GPIO hands out scripted pins. Pins are created on first use so tests can script them before
// the strategy under test opens them.
type GPIO struct {
	mu   sync.Mutex
	pins map[int]*Pin

	// OpenErr, when set, fails every OpenPin.
	OpenErr error
}

// NewGPIO returns an empty fake GPIO.
func NewGPIO() *GPIO {
	return &GPIO{pins: map[int]*Pin{}}
}

// Pin returns the pin with the given number, creating it if needed.
func (g *GPIO) Pin(number int) *Pin {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pins[number]
	if !ok {
		p = &Pin{number: number}
		g.pins[number] = p
	}
	return p
}

// OpenPin implements board.GPIO.
func (g *GPIO) OpenPin(number int, mode board.PinMode) (board.Pin, error) {
	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	p := g.Pin(number)
	if err := p.SetMode(mode); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
	return p, nil
}

// Pin is a scripted GPIO line. Without ReadFunc a read returns the last written level.
type Pin struct {
	mu     sync.Mutex
	number int
	mode   board.PinMode
	level  bool
	open   bool
	writes []bool

	// NoPullUp makes InputPullUp unsupported, like lines without internal resistors.
	NoPullUp bool
	// ReadFunc produces the level seen by Read.
	ReadFunc func() bool
	// WriteFunc observes every level written.
	WriteFunc func(high bool)
}

// Number implements board.Pin.
func (p *Pin) Number() int {
	return p.number
}

// SetMode implements board.Pin.
func (p *Pin) SetMode(mode board.PinMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode == board.InputPullUp && p.NoPullUp {
		return errors.Wrapf(board.ErrPinModeUnsupported, "pin %d", p.number)
	}
	p.mode = mode
	return nil
}

// Mode returns the current mode.
func (p *Pin) Mode() board.PinMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Read implements board.Pin.
func (p *Pin) Read() bool {
	p.mu.Lock()
	read := p.ReadFunc
	level := p.level
	p.mu.Unlock()
	if read != nil {
		return read()
	}
	return level
}

// Write implements board.Pin.
func (p *Pin) Write(high bool) error {
	p.mu.Lock()
	if p.mode != board.Output {
		p.mu.Unlock()
		return errors.Errorf("pin %d is not an output", p.number)
	}
	p.level = high
	p.writes = append(p.writes, high)
	write := p.WriteFunc
	p.mu.Unlock()
	if write != nil {
		write(high)
	}
	return nil
}

// Writes returns every level written so far.
func (p *Pin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.writes...)
}

// Level returns the last written level.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// IsOpen reports whether the pin is open.
func (p *Pin) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close implements board.Pin.
func (p *Pin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}
