package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.aim.dev/aim/board"
)

// I2C is a fake bus holding register-addressed devices.
type I2C struct {
	mu      sync.Mutex
	devices map[byte]*I2CDevice
}

// NewI2C returns an empty bus.
func NewI2C() *I2C {
	return &I2C{devices: map[byte]*I2CDevice{}}
}

// AddDevice attaches a device at addr and returns it for scripting.
func (b *I2C) AddDevice(addr byte) *I2CDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &I2CDevice{Registers: map[byte]byte{}}
	b.devices[addr] = d
	return d
}

// OpenHandle implements board.I2C. Opening an address with no device fails, like a NACK.
func (b *I2C) OpenHandle(addr byte) (board.I2CHandle, error) {
	b.mu.Lock()
	d, ok := b.devices[addr]
	b.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no i2c device at address %#x", addr)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, errors.Errorf("i2c handle for address %#x already open", addr)
	}
	d.open = true
	return &i2cHandle{dev: d}, nil
}

// I2CDevice is a register file. A one byte write sets the register pointer, longer writes
// store data starting at the register in the first byte. Reads return consecutive registers
// starting at the pointer.
type I2CDevice struct {
	mu      sync.Mutex
	open    bool
	pointer byte
	writes  [][]byte

	Registers map[byte]byte
	// ReadErr and WriteErr, when set, fail the corresponding transactions.
	ReadErr  error
	WriteErr error
}

// SetWord stores a big-endian 16 bit value at reg and reg+1.
func (d *I2CDevice) SetWord(reg byte, value int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Registers[reg] = byte(uint16(value) >> 8)
	d.Registers[reg+1] = byte(uint16(value))
}

// Register returns the byte stored at reg.
func (d *I2CDevice) Register(reg byte) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Registers[reg]
}

// Writes returns every write transaction seen so far.
func (d *I2CDevice) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

// IsOpen reports whether a handle to the device is open.
func (d *I2CDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type i2cHandle struct {
	dev *I2CDevice
}

func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := h.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return errors.New("i2c handle closed")
	}
	if d.WriteErr != nil {
		return d.WriteErr
	}
	if len(tx) == 0 {
		return nil
	}
	d.writes = append(d.writes, append([]byte(nil), tx...))
	d.pointer = tx[0]
	for i, b := range tx[1:] {
		d.Registers[tx[0]+byte(i)] = b
	}
	return nil
}

func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := h.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, errors.New("i2c handle closed")
	}
	if d.ReadErr != nil {
		return nil, d.ReadErr
	}
	out := make([]byte, count)
	for i := range out {
		out[i] = d.Registers[d.pointer+byte(i)]
	}
	return out, nil
}

func (h *i2cHandle) Close() error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	h.dev.open = false
	return nil
}
