package inject

import (
	"context"

	"go.aim.dev/aim/channel"
)

// Channel is an injected channel.Channel.
type Channel[T channel.Payload] struct {
	channel.Channel[T]
	name            string
	ConnectFunc     func(ctx context.Context) error
	DisconnectFunc  func(ctx context.Context) error
	IsConnectedFunc func() bool
	SendFunc        func(ctx context.Context, request T) error
	ReceiveFunc     func(ctx context.Context) (T, error)
	ExecuteFunc     func(ctx context.Context, request T) (T, error)
}

// NewChannel returns a new injected channel.
func NewChannel[T channel.Payload](name string) *Channel[T] {
	return &Channel[T]{name: name}
}

// Name returns the name of the channel.
func (c *Channel[T]) Name() string {
	return c.name
}

// Connect calls the injected Connect or the real version.
func (c *Channel[T]) Connect(ctx context.Context) error {
	if c.ConnectFunc == nil {
		return c.Channel.Connect(ctx)
	}
	return c.ConnectFunc(ctx)
}

// Disconnect calls the injected Disconnect or the real version.
func (c *Channel[T]) Disconnect(ctx context.Context) error {
	if c.DisconnectFunc == nil {
		return c.Channel.Disconnect(ctx)
	}
	return c.DisconnectFunc(ctx)
}

// IsConnected calls the injected IsConnected or the real version.
func (c *Channel[T]) IsConnected() bool {
	if c.IsConnectedFunc == nil {
		return c.Channel.IsConnected()
	}
	return c.IsConnectedFunc()
}

// Send calls the injected Send or the real version.
func (c *Channel[T]) Send(ctx context.Context, request T) error {
	if c.SendFunc == nil {
		return c.Channel.Send(ctx, request)
	}
	return c.SendFunc(ctx, request)
}

// Receive calls the injected Receive or the real version.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	if c.ReceiveFunc == nil {
		return c.Channel.Receive(ctx)
	}
	return c.ReceiveFunc(ctx)
}

// Execute calls the injected Execute or the real version.
func (c *Channel[T]) Execute(ctx context.Context, request T) (T, error) {
	if c.ExecuteFunc == nil {
		return c.Channel.Execute(ctx, request)
	}
	return c.ExecuteFunc(ctx, request)
}
