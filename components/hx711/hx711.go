// Package hx711 implements a channel for the HX711 24 bit load cell ADC. The chip has no bus
// controller: it is read by toggling a clock line and sampling a data line, and the number of
// extra clock pulses after each conversion selects the channel and gain of the next one.
// Datasheet: https://cdn.sparkfun.com/datasheets/Sensors/ForceFlex/hx711_english.pdf
package hx711

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.aim.dev/aim/board"
	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/utils"
)

// Request is the only command the channel understands. It triggers one averaged read.
const Request = "READ"

// RawKey is the payload key carrying the averaged ADC value.
const RawKey = "raw"

const (
	defaultSamples      = 3
	defaultReadyTimeout = time.Second
	readyPollInterval   = 100 * time.Microsecond
	// Half of the clock period. PD_SCK high time must stay under 50µs or the chip powers down.
	clockHalfPeriod = time.Microsecond
	// Holding PD_SCK high for more than 60µs powers the chip down.
	powerDownHold = 80 * time.Microsecond
	trimFraction  = 0.2
)

// Gain selects the input channel and amplifier gain of the next conversion.
type Gain int

// Supported gains. Channel A takes 128 or 64, channel B is fixed at 32.
const (
	Gain128 Gain = 128
	Gain64  Gain = 64
	Gain32  Gain = 32
)

// Pulses returns the number of clock pulses after the 24 data bits that select g.
func (g Gain) Pulses() (int, error) {
	switch g {
	case Gain128:
		return 1, nil
	case Gain32:
		return 2, nil
	case Gain64:
		return 3, nil
	default:
		return 0, errors.Errorf("unsupported hx711 gain %d", int(g))
	}
}

// Config is used to configure the chip.
type Config struct {
	ClockPin       int `json:"clock_pin"`
	DataPin        int `json:"data_pin"`
	Gain           int `json:"gain,omitempty"`
	Samples        int `json:"samples,omitempty"`
	ReadyTimeoutMs int `json:"ready_timeout_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ClockPin <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "clock_pin")
	}
	if cfg.DataPin <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "data_pin")
	}
	if cfg.ClockPin == cfg.DataPin {
		return utils.NewConfigValidationError(path, errors.New("clock_pin and data_pin must differ"))
	}
	if cfg.Gain != 0 {
		if _, err := Gain(cfg.Gain).Pulses(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.Samples < 0 || cfg.ReadyTimeoutMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("samples and ready_timeout_ms cannot be negative"))
	}
	return nil
}

// HX711 is a channel.Channel[string] reading the chip over two GPIO lines.
type HX711 struct {
	name         string
	gpio         board.GPIO
	clockNum     int
	dataNum      int
	gainPulses   int
	samples      int
	readyTimeout time.Duration
	clk          clock.Clock
	logger       logging.Logger

	pending channel.Pending[string]

	mu        sync.Mutex
	clockPin  board.Pin
	dataPin   board.Pin
	connected bool
	last      float64
}

var _ channel.Channel[string] = (*HX711)(nil)

// New returns an unconnected HX711 channel. clk may be nil to use the wall clock.
func New(name string, gpio board.GPIO, cfg Config, clk clock.Clock, logger logging.Logger) (*HX711, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	gain := Gain128
	if cfg.Gain != 0 {
		gain = Gain(cfg.Gain)
	}
	pulses, err := gain.Pulses()
	if err != nil {
		return nil, err
	}
	samples := defaultSamples
	if cfg.Samples > 0 {
		samples = cfg.Samples
	}
	readyTimeout := defaultReadyTimeout
	if cfg.ReadyTimeoutMs > 0 {
		readyTimeout = time.Duration(cfg.ReadyTimeoutMs) * time.Millisecond
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HX711{
		name:         name,
		gpio:         gpio,
		clockNum:     cfg.ClockPin,
		dataNum:      cfg.DataPin,
		gainPulses:   pulses,
		samples:      samples,
		readyTimeout: readyTimeout,
		clk:          clk,
		logger:       logger,
	}, nil
}

// Name returns the channel name.
func (h *HX711) Name() string {
	return h.name
}

// Connect opens the clock line as an output held low, which also wakes the chip, and the data
// line as an input.
func (h *HX711) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connected {
		return nil
	}
	clockPin, err := h.gpio.OpenPin(h.clockNum, board.Output)
	if err != nil {
		return errors.Wrapf(err, "failed to open hx711 clock pin %d", h.clockNum)
	}
	dataPin, err := h.gpio.OpenPin(h.dataNum, board.Input)
	if err != nil {
		return multierr.Combine(errors.Wrapf(err, "failed to open hx711 data pin %d", h.dataNum), clockPin.Close())
	}
	if err := clockPin.Write(false); err != nil {
		return multierr.Combine(err, clockPin.Close(), dataPin.Close())
	}
	h.clockPin = clockPin
	h.dataPin = dataPin
	h.connected = true
	h.logger.Debugw("connected hx711", "clock_pin", h.clockNum, "data_pin", h.dataNum, "gain_pulses", h.gainPulses)
	return nil
}

// Disconnect powers the chip down by holding the clock high and releases both lines.
func (h *HX711) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return nil
	}
	h.pending.Clear()
	err := h.clockPin.Write(true)
	utils.SpinDelay(powerDownHold, true)
	err = multierr.Combine(err, h.clockPin.Close(), h.dataPin.Close())
	h.clockPin, h.dataPin = nil, nil
	h.connected = false
	return err
}

// IsConnected reports whether both lines are held.
func (h *HX711) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Send arms a read. Conversion happens on Receive, once the chip has had time to settle.
func (h *HX711) Send(ctx context.Context, request string) error {
	if request != Request {
		return errors.Errorf("hx711: unknown request %q", request)
	}
	if !h.IsConnected() {
		return channel.ErrNotConnected
	}
	h.pending.Arm(request)
	return nil
}

// Receive runs the armed read.
func (h *HX711) Receive(ctx context.Context) (string, error) {
	return channel.Receive(ctx, &h.pending, h.Execute)
}

// Execute reads the configured number of samples and returns "time:<t>;raw:<average>". If the chip
// never signals ready the last good value is returned instead and a warning is logged.
func (h *HX711) Execute(ctx context.Context, request string) (string, error) {
	if request != Request {
		return "", errors.Errorf("hx711: unknown request %q", request)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connected {
		return "", channel.ErrNotConnected
	}

	samples := make([]float64, 0, h.samples)
	for i := 0; i < h.samples; i++ {
		v, err := h.readRaw(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			h.logger.Warnw("hx711 read failed, returning last value", "error", err, "last", h.last)
			return h.payload(h.last), nil
		}
		samples = append(samples, float64(v))
	}
	avg, err := Average(samples)
	if err != nil {
		return "", err
	}
	h.last = avg
	return h.payload(avg), nil
}

func (h *HX711) payload(raw float64) string {
	return reading.FormatLine(reading.TimeField(reading.TimeKey, h.clk.Now()), reading.FloatField(RawKey, raw))
}

// waitReady polls until the chip pulls the data line low.
func (h *HX711) waitReady(ctx context.Context) error {
	deadline := h.clk.Now().Add(h.readyTimeout)
	for h.dataPin.Read() {
		if !h.clk.Now().Before(deadline) {
			return errors.Errorf("hx711 not ready after %s", h.readyTimeout)
		}
		if !goutils.SelectContextOrWait(ctx, readyPollInterval) {
			return ctx.Err()
		}
	}
	return nil
}

// readRaw clocks out one conversion. The bit loop runs with the goroutine pinned to its thread
// since a clock high time over 50µs resets the chip.
func (h *HX711) readRaw(ctx context.Context) (int32, error) {
	if err := h.waitReady(ctx); err != nil {
		return 0, err
	}
	defer utils.LockThread()()

	var value uint32
	for i := 0; i < 24; i++ {
		bit, err := h.pulse()
		if err != nil {
			return 0, err
		}
		value <<= 1
		if bit {
			value |= 1
		}
	}
	for i := 0; i < h.gainPulses; i++ {
		if _, err := h.pulse(); err != nil {
			return 0, err
		}
	}
	return utils.SignExtend24(value), nil
}

// pulse drives one clock cycle and samples the data line after the falling edge.
func (h *HX711) pulse() (bool, error) {
	if err := h.clockPin.Write(true); err != nil {
		return false, err
	}
	utils.SpinDelay(clockHalfPeriod, false)
	if err := h.clockPin.Write(false); err != nil {
		return false, err
	}
	utils.SpinDelay(clockHalfPeriod, false)
	return h.dataPin.Read(), nil
}

// Average reduces raw samples: one sample is returned as is, up to four give their median, and
// five or more give the mean after dropping the lowest and highest 20%.
func Average(samples []float64) (float64, error) {
	switch n := len(samples); {
	case n == 0:
		return 0, utils.ErrNoSamples
	case n == 1:
		return samples[0], nil
	case n < 5:
		return utils.Median(samples)
	default:
		return utils.TrimmedMean(samples, trimFraction)
	}
}
