package periph

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"go.aim.dev/aim/board"
	"go.aim.dev/aim/logging"
)

// I2CBus is a board.I2C backed by a periph bus, e.g. "1" for /dev/i2c-1.
type I2CBus struct {
	name   string
	logger logging.Logger

	mu  sync.Mutex
	bus i2c.BusCloser
}

// NewI2CBus initializes periph and remembers the bus name. The bus itself is opened lazily by
// OpenHandle and closed again when the handle is.
func NewI2CBus(name string, logger logging.Logger) (*I2CBus, error) {
	if err := Init(logger); err != nil {
		return nil, err
	}
	return &I2CBus{name: name, logger: logger}, nil
}

// OpenHandle locks the bus and returns a handle addressing one device.
func (b *I2CBus) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.mu.Lock()
	bus, err := i2creg.Open(b.name)
	if err != nil {
		b.mu.Unlock()
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", b.name)
	}
	b.bus = bus
	return &i2cHandle{parent: b, dev: &i2c.Dev{Bus: bus, Addr: uint16(addr)}}, nil
}

type i2cHandle struct {
	parent *I2CBus
	dev    *i2c.Dev
	closed bool
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.dev.Tx(tx, nil)
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	if err := h.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (h *i2cHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	defer h.parent.mu.Unlock()
	err := h.parent.bus.Close()
	h.parent.bus = nil
	return err
}
