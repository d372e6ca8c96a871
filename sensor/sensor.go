// Package sensor pairs a communication channel with a reading converter and enforces the
// start-reading/stop-reading protocol.
package sensor

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/reading"
)

// A Device is a sensor as the orchestrator sees it, independent of its wire format.
type Device interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	// StartReading sends the request to the device.
	StartReading(ctx context.Context) error
	// StopReading collects the response to the request sent by StartReading and converts it.
	StopReading(ctx context.Context) (*reading.Reading, error)
}

type readState int

const (
	idle readState = iota
	busy
)

type readEvent int

const (
	startEvent readEvent = iota
	stopEvent
)

func (s readState) next(ev readEvent) (readState, error) {
	switch {
	case s == idle && ev == startEvent:
		return busy, nil
	case s == busy && ev == stopEvent:
		return idle, nil
	case ev == startEvent:
		return s, ErrAlreadyReading
	default:
		return s, ErrNotReading
	}
}

// Sensor is a Device whose channel carries payloads of type T.
type Sensor[T channel.Payload] struct {
	name      string
	request   T
	ch        channel.Channel[T]
	converter reading.Converter[T]
	logger    logging.Logger

	mu    sync.Mutex
	state readState
}

// StringSensor is a sensor speaking text lines.
type StringSensor = Sensor[string]

// BinarySensor is a sensor speaking binary frames.
type BinarySensor = Sensor[[]byte]

// New returns a sensor that sends request on ch and decodes responses with converter.
func New[T channel.Payload](
	name string,
	request T,
	ch channel.Channel[T],
	converter reading.Converter[T],
	logger logging.Logger,
) (*Sensor[T], error) {
	switch {
	case name == "":
		return nil, errors.Wrap(ErrInvalidSensor, "name is required")
	case len(request) == 0:
		return nil, errors.Wrapf(ErrInvalidSensor, "%q: request is required", name)
	case ch == nil:
		return nil, errors.Wrapf(ErrInvalidSensor, "%q: channel is required", name)
	case converter == nil:
		return nil, errors.Wrapf(ErrInvalidSensor, "%q: converter is required", name)
	}
	if logger == nil {
		logger = logging.NewBlankLogger(name)
	}
	return &Sensor[T]{
		name:      name,
		request:   request,
		ch:        ch,
		converter: converter,
		logger:    logger,
	}, nil
}

// Name returns the sensor name.
func (s *Sensor[T]) Name() string {
	return s.name
}

// Connect connects the channel.
func (s *Sensor[T]) Connect(ctx context.Context) error {
	if err := s.ch.Connect(ctx); err != nil {
		return &ConnectionError{Sensor: s.name, Err: err}
	}
	return nil
}

// Disconnect disconnects the channel and drops any outstanding request.
func (s *Sensor[T]) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.state = idle
	s.mu.Unlock()
	if err := s.ch.Disconnect(ctx); err != nil {
		return &ConnectionError{Sensor: s.name, Err: err}
	}
	return nil
}

// IsConnected reports whether the channel is connected.
func (s *Sensor[T]) IsConnected() bool {
	return s.ch.IsConnected()
}

// IsReading reports whether a request is outstanding.
func (s *Sensor[T]) IsReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == busy
}

// StartReading sends the request. It fails with ErrAlreadyReading if a request is outstanding.
func (s *Sensor[T]) StartReading(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.next(startEvent)
	if err != nil {
		return errors.Wrapf(err, "%q", s.name)
	}
	if err := s.ch.Send(ctx, s.request); err != nil {
		return &ReadError{Sensor: s.name, Err: err}
	}
	s.state = next
	s.logger.Debugw("started reading", "channel", s.ch.Name())
	return nil
}

// StopReading receives and converts the response. It fails with ErrNotReading if no request is
// outstanding. The sensor is idle afterwards even if receiving or converting failed, since the
// request has been consumed either way.
func (s *Sensor[T]) StopReading(ctx context.Context) (*reading.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.next(stopEvent)
	if err != nil {
		return nil, errors.Wrapf(err, "%q", s.name)
	}
	raw, err := s.ch.Receive(ctx)
	s.state = next
	if err != nil {
		return nil, &ReadError{Sensor: s.name, Err: err}
	}
	r, err := s.converter.Convert(raw)
	if err != nil {
		return nil, &ReadError{Sensor: s.name, Err: err}
	}
	s.logger.Debugw("stopped reading", "measurements", r.Len())
	return r, nil
}

// Read runs one full request/response cycle with Execute. It fails with ErrAlreadyReading if a
// StartReading is outstanding.
func (s *Sensor[T]) Read(ctx context.Context) (*reading.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == busy {
		return nil, errors.Wrapf(ErrAlreadyReading, "%q", s.name)
	}
	raw, err := s.ch.Execute(ctx, s.request)
	if err != nil {
		return nil, &ReadError{Sensor: s.name, Err: err}
	}
	r, err := s.converter.Convert(raw)
	if err != nil {
		return nil, &ReadError{Sensor: s.name, Err: err}
	}
	return r, nil
}
