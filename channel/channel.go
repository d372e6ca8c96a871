// Package channel defines the contract a sensor uses to move raw payloads to and from a device,
// independent of whether the wire is a GPIO line, an I2C bus or a serial port.
package channel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by I/O on a channel that has not been connected.
	ErrNotConnected = errors.New("channel not connected")
	// ErrNoRequest is returned by Receive when no request was sent first.
	ErrNoRequest = errors.New("no pending request")
)

// Payload is the raw wire representation a channel carries: text lines or binary frames.
type Payload interface {
	~string | ~[]byte
}

// Channel is a connection to one device. Send and Receive split a request/response cycle so the
// caller can service other devices while this one settles; Execute does both in one call.
//
// A Channel is owned by a single sensor and is not safe for concurrent use by several callers.
type Channel[T Payload] interface {
	Name() string
	// Connect acquires the underlying pins, bus handle or port. Connecting an already connected
	// channel does nothing.
	Connect(ctx context.Context) error
	// Disconnect releases what Connect acquired.
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Send(ctx context.Context, request T) error
	Receive(ctx context.Context) (T, error)
	Execute(ctx context.Context, request T) (T, error)
}

// Pending holds the request armed by Send until Receive executes it. Strategies whose devices
// answer a request in a single bus transaction use it to implement Send and Receive on top of
// Execute.
type Pending[T Payload] struct {
	mu      sync.Mutex
	request T
	armed   bool
}

// Arm stores a request, replacing any that was not collected.
func (p *Pending[T]) Arm(request T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.request = request
	p.armed = true
}

// Take returns and clears the armed request, failing with ErrNoRequest if there is none.
func (p *Pending[T]) Take() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		var zero T
		return zero, ErrNoRequest
	}
	req := p.request
	var zero T
	p.request = zero
	p.armed = false
	return req, nil
}

// Clear drops any armed request.
func (p *Pending[T]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	p.request = zero
	p.armed = false
}

// Receive implements Channel.Receive for strategies that execute on receive: it takes the armed
// request and runs it through execute.
func Receive[T Payload](
	ctx context.Context,
	p *Pending[T],
	execute func(ctx context.Context, request T) (T, error),
) (T, error) {
	req, err := p.Take()
	if err != nil {
		var zero T
		return zero, err
	}
	return execute(ctx, req)
}
