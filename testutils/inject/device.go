// Package inject provides doubles whose behavior is swapped in per test through Func fields.
// A nil Func falls back to the embedded implementation.
package inject

import (
	"context"

	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/sensor"
)

// Device is an injected sensor.Device.
type Device struct {
	sensor.Device
	name             string
	ConnectFunc      func(ctx context.Context) error
	DisconnectFunc   func(ctx context.Context) error
	IsConnectedFunc  func() bool
	StartReadingFunc func(ctx context.Context) error
	StopReadingFunc  func(ctx context.Context) (*reading.Reading, error)
}

// NewDevice returns a new injected device.
func NewDevice(name string) *Device {
	return &Device{name: name}
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return d.name
}

// Connect calls the injected Connect or the real version.
func (d *Device) Connect(ctx context.Context) error {
	if d.ConnectFunc == nil {
		return d.Device.Connect(ctx)
	}
	return d.ConnectFunc(ctx)
}

// Disconnect calls the injected Disconnect or the real version.
func (d *Device) Disconnect(ctx context.Context) error {
	if d.DisconnectFunc == nil {
		return d.Device.Disconnect(ctx)
	}
	return d.DisconnectFunc(ctx)
}

// IsConnected calls the injected IsConnected or the real version.
func (d *Device) IsConnected() bool {
	if d.IsConnectedFunc == nil {
		return d.Device.IsConnected()
	}
	return d.IsConnectedFunc()
}

// StartReading calls the injected StartReading or the real version.
func (d *Device) StartReading(ctx context.Context) error {
	if d.StartReadingFunc == nil {
		return d.Device.StartReading(ctx)
	}
	return d.StartReadingFunc(ctx)
}

// StopReading calls the injected StopReading or the real version.
func (d *Device) StopReading(ctx context.Context) (*reading.Reading, error) {
	if d.StopReadingFunc == nil {
		return d.Device.StopReading(ctx)
	}
	return d.StopReadingFunc(ctx)
}
