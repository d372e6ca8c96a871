// Package dht implements a channel for DHT11 class temperature and humidity sensors, which talk
// over a single wire and encode bits in the length of high pulses.
package dht

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.aim.dev/aim/board"
	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/utils"
)

// Request is the only command the channel understands.
var Request = []byte("READ")

const (
	defaultMinInterval = 2500 * time.Millisecond
	startHigh          = 20 * time.Millisecond
	startLow           = 20 * time.Millisecond
	startRelease       = 30 * time.Microsecond
	// A high pulse longer than this is a 1.
	oneThreshold = 30 * time.Microsecond
	// Upper bound on polls of the line while waiting for it to change level.
	maxPolls = 10000
)

// Config is used to configure the sensor.
type Config struct {
	Pin           int `json:"pin"`
	MinIntervalMs int `json:"min_interval_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Pin <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "pin")
	}
	if cfg.MinIntervalMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_interval_ms cannot be negative"))
	}
	return nil
}

// DHT is a channel.Channel[[]byte] returning encoded Frames.
type DHT struct {
	name        string
	gpio        board.GPIO
	pinNum      int
	minInterval time.Duration
	clk         clock.Clock
	logger      logging.Logger
	// delay waits between the edges of the start signal.
	delay func(time.Duration)

	pending channel.Pending[[]byte]

	mu        sync.Mutex
	pin       board.Pin
	connected bool
	lastRead  time.Time
	cached    *Frame
	lastGood  *Frame
}

var _ channel.Channel[[]byte] = (*DHT)(nil)

// New returns an unconnected DHT channel. clk may be nil to use the wall clock.
func New(name string, gpio board.GPIO, cfg Config, clk clock.Clock, logger logging.Logger) (*DHT, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	minInterval := defaultMinInterval
	if cfg.MinIntervalMs > 0 {
		minInterval = time.Duration(cfg.MinIntervalMs) * time.Millisecond
	}
	if clk == nil {
		clk = clock.New()
	}
	d := &DHT{
		name:        name,
		gpio:        gpio,
		pinNum:      cfg.Pin,
		minInterval: minInterval,
		clk:         clk,
		logger:      logger,
	}
	d.delay = d.defaultDelay
	return d, nil
}

func (d *DHT) defaultDelay(dur time.Duration) {
	if dur >= time.Millisecond {
		d.clk.Sleep(dur)
		return
	}
	utils.SpinDelay(dur, false)
}

// Name returns the channel name.
func (d *DHT) Name() string {
	return d.name
}

// Connect opens the data line, idling high.
func (d *DHT) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return nil
	}
	pin, err := d.gpio.OpenPin(d.pinNum, board.Output)
	if err != nil {
		return errors.Wrapf(err, "failed to open dht pin %d", d.pinNum)
	}
	if err := pin.Write(true); err != nil {
		return multierr.Combine(err, pin.Close())
	}
	d.pin = pin
	d.connected = true
	return nil
}

// Disconnect releases the data line. Cached frames survive so that the minimum interval still
// holds across reconnects.
func (d *DHT) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.pending.Clear()
	err := d.pin.Close()
	d.pin = nil
	d.connected = false
	return err
}

// IsConnected reports whether the line is held.
func (d *DHT) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Send arms a read.
func (d *DHT) Send(ctx context.Context, request []byte) error {
	if !bytes.Equal(request, Request) {
		return errors.Errorf("dht: unknown request %q", request)
	}
	if !d.IsConnected() {
		return channel.ErrNotConnected
	}
	d.pending.Arm(request)
	return nil
}

// Receive runs the armed read.
func (d *DHT) Receive(ctx context.Context) ([]byte, error) {
	return channel.Receive(ctx, &d.pending, d.Execute)
}

// Execute returns an encoded Frame. Within the minimum interval of the previous bus read the
// previous frame is returned without touching the bus. A failed bus read yields the last good
// frame marked stale, or a zero frame marked invalid if there never was one.
func (d *DHT) Execute(ctx context.Context, request []byte) ([]byte, error) {
	if !bytes.Equal(request, Request) {
		return nil, errors.Errorf("dht: unknown request %q", request)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, channel.ErrNotConnected
	}

	now := d.clk.Now()
	if d.cached != nil && now.Sub(d.lastRead) < d.minInterval {
		return d.cached.Encode(), nil
	}
	d.lastRead = now

	data, err := d.readData()
	if err == nil && !Checksum(data) {
		err = errors.Errorf("dht checksum mismatch on % x", data)
	}

	var frame Frame
	switch {
	case err == nil:
		frame = Frame{Time: now, Data: data, Valid: true}
		env := frame.Env()
		d.logger.Debugw("dht read", "temperature", env.Temperature.String(), "humidity", env.Humidity.String())
		good := frame
		d.lastGood = &good
	case d.lastGood != nil:
		d.logger.Warnw("dht read failed, returning last good frame", "error", err, "from", d.lastGood.Time)
		frame = *d.lastGood
		frame.Stale = true
	default:
		d.logger.Warnw("dht read failed and no good frame yet", "error", err)
		frame = Frame{Time: now}
	}
	d.cached = &frame
	return frame.Encode(), nil
}

// readData sends the start signal and decodes the 40 bit response. It must be called with mu
// held.
func (d *DHT) readData() ([5]byte, error) {
	var data [5]byte
	defer utils.LockThread()()

	if err := d.pin.SetMode(board.Output); err != nil {
		return data, err
	}
	if err := d.pin.Write(true); err != nil {
		return data, err
	}
	d.delay(startHigh)
	if err := d.pin.Write(false); err != nil {
		return data, err
	}
	d.delay(startLow)
	if err := d.pin.Write(true); err != nil {
		return data, err
	}
	d.delay(startRelease)
	if err := d.pin.SetMode(board.InputPullUp); err != nil {
		if !errors.Is(err, board.ErrPinModeUnsupported) {
			return data, err
		}
		if err := d.pin.SetMode(board.Input); err != nil {
			return data, err
		}
	}

	// The sensor answers with 80µs low and 80µs high before the first bit.
	for _, level := range []bool{true, false, true} {
		if err := d.waitWhile(level); err != nil {
			return data, errors.Wrap(err, "handshake")
		}
	}

	for i := 0; i < 40; i++ {
		if err := d.waitWhile(false); err != nil {
			return data, errors.Wrapf(err, "bit %d", i)
		}
		start := d.clk.Now()
		if err := d.waitWhile(true); err != nil {
			return data, errors.Wrapf(err, "bit %d", i)
		}
		if d.clk.Since(start) > oneThreshold {
			data[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return data, nil
}

func (d *DHT) waitWhile(level bool) error {
	for polls := 0; d.pin.Read() == level; polls++ {
		if polls >= maxPolls {
			return errors.Errorf("dht bus timeout waiting for line to leave %v after %d polls", level, polls)
		}
	}
	return nil
}
