package board

import (
	"context"
)

// I2C represents a shareable I2C bus on the board.
type I2C interface {
	// OpenHandle locks and returns a handle interface that MUST be closed when done.
	// you cannot have 2 open for the same addr
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is similar to an io handle. It MUST be closed to release the bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	// Close closes the handle and releases the lock on the bus.
	Close() error
}

// An I2CRegister is a lightweight wrapper around a handle for a particular register.
type I2CRegister struct {
	Handle   I2CHandle
	Register byte
}

// ReadWord reads a 16 bit big-endian word starting at the register as a single transaction:
// write the register address, then read two bytes back.
func (reg *I2CRegister) ReadWord(ctx context.Context) ([]byte, error) {
	if err := reg.Handle.Write(ctx, []byte{reg.Register}); err != nil {
		return nil, err
	}
	return reg.Handle.Read(ctx, 2)
}

// WriteByteData writes a byte to the I2C channel register.
func (reg *I2CRegister) WriteByteData(ctx context.Context, data byte) error {
	return reg.Handle.Write(ctx, []byte{reg.Register, data})
}
