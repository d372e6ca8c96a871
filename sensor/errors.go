package sensor

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidSensor is returned by New when a required part is missing.
	ErrInvalidSensor = errors.New("invalid sensor")
	// ErrAlreadyReading is returned by StartReading while a reading is in progress.
	ErrAlreadyReading = errors.New("sensor is already reading")
	// ErrNotReading is returned by StopReading without a matching StartReading.
	ErrNotReading = errors.New("sensor is not reading")
)

// ConnectionError reports a failure to connect or disconnect a sensor's channel.
type ConnectionError struct {
	Sensor string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sensor %q connection error: %v", e.Sensor, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReadError reports a failure to send a request, receive a response or convert it.
type ReadError struct {
	Sensor string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("sensor %q read error: %v", e.Sensor, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
