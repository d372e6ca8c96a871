// Package mpu6050 implements a channel for the MPU-6050 6 axis accelerometer and gyroscope. A
// description of the I2C registers is at
// https://download.datasheets.com/pdfs/2015/3/19/8/3/59/59/invse_/manual/5rm-mpu-6000a-00v4.2.pdf
//
// The chip has two possible I2C addresses, which can be selected by wiring the AD0 pin to either
// hot or ground:
//   - if AD0 is wired to ground, it uses the default I2C address of 0x68
//   - if AD0 is wired to hot, it uses the alternate I2C address of 0x69
package mpu6050

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.aim.dev/aim/board"
	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/utils"
)

// Request is the only command the channel understands.
const Request = "READ"

// Payload keys.
const (
	AccelXKey      = "accelX"
	AccelYKey      = "accelY"
	AccelZKey      = "accelZ"
	GyroXKey       = "gyroX"
	GyroYKey       = "gyroY"
	GyroZKey       = "gyroZ"
	TemperatureKey = "temp"
)

const (
	defaultAddress   byte = 0x68
	alternateAddress byte = 0x69

	regGyroConfig  byte = 0x1B
	regAccelConfig byte = 0x1C
	regAccelXOut   byte = 0x3B
	regTempOut     byte = 0x41
	regGyroXOut    byte = 0x43
	regPowerMgmt1  byte = 0x6B

	sleepBit byte = 1 << 6

	standardGravity = 9.80665
)

// Full scale ranges, as the FS_SEL and AFS_SEL register values and the LSB per unit they give.
var (
	accelRanges = map[int]struct {
		sel      byte
		modifier float64
	}{
		2:  {0, 16384},
		4:  {1, 8192},
		8:  {2, 4096},
		16: {3, 2048},
	}
	gyroRanges = map[int]struct {
		sel      byte
		modifier float64
	}{
		250:  {0, 131},
		500:  {1, 65.5},
		1000: {2, 32.8},
		2000: {3, 16.4},
	}
)

// Config is used to configure the chip.
type Config struct {
	UseAlternateI2CAddress bool `json:"use_alt_i2c_address,omitempty"`
	// AccelRange is the accelerometer full scale in g: 2, 4, 8 or 16. Zero leaves the chip default of 2.
	AccelRange int `json:"accel_range,omitempty"`
	// GyroRange is the gyroscope full scale in degrees per second: 250, 500, 1000 or 2000. Zero
	// leaves the chip default of 250.
	GyroRange int `json:"gyro_range,omitempty"`
	// GUnits reports acceleration in g instead of m/s^2.
	GUnits bool `json:"g_units,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if _, ok := accelRanges[cfg.AccelRange]; cfg.AccelRange != 0 && !ok {
		return utils.NewConfigValidationError(path, errors.Errorf("unsupported accel_range %d", cfg.AccelRange))
	}
	if _, ok := gyroRanges[cfg.GyroRange]; cfg.GyroRange != 0 && !ok {
		return utils.NewConfigValidationError(path, errors.Errorf("unsupported gyro_range %d", cfg.GyroRange))
	}
	return nil
}

// MPU6050 is a channel.Channel[string] reading the chip over I2C.
type MPU6050 struct {
	name          string
	bus           board.I2C
	address       byte
	accelRange    int
	gyroRange     int
	accelModifier float64
	gyroModifier  float64
	gUnits        bool
	clk           clock.Clock
	logger        logging.Logger

	pending channel.Pending[string]

	mu     sync.Mutex
	handle board.I2CHandle
}

var _ channel.Channel[string] = (*MPU6050)(nil)

// New returns an unconnected MPU6050 channel. clk may be nil to use the wall clock.
func New(name string, bus board.I2C, cfg Config, clk clock.Clock, logger logging.Logger) (*MPU6050, error) {
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	address := defaultAddress
	if cfg.UseAlternateI2CAddress {
		address = alternateAddress
	}
	accel, gyro := 2, 250
	if cfg.AccelRange != 0 {
		accel = cfg.AccelRange
	}
	if cfg.GyroRange != 0 {
		gyro = cfg.GyroRange
	}
	if clk == nil {
		clk = clock.New()
	}
	logger.Debugf("Using address %d for MPU6050 sensor", address)
	return &MPU6050{
		name:          name,
		bus:           bus,
		address:       address,
		accelRange:    cfg.AccelRange,
		gyroRange:     cfg.GyroRange,
		accelModifier: accelRanges[accel].modifier,
		gyroModifier:  gyroRanges[gyro].modifier,
		gUnits:        cfg.GUnits,
		clk:           clk,
		logger:        logger,
	}, nil
}

// Name returns the channel name.
func (m *MPU6050) Name() string {
	return m.name
}

// Connect opens the handle, wakes the chip and applies the configured ranges.
func (m *MPU6050) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return nil
	}
	handle, err := m.bus.OpenHandle(m.address)
	if err != nil {
		return errors.Wrapf(err, "can't open I2C address %#x", m.address)
	}

	// The chip starts out in standby mode (the Sleep bit in the power management register defaults
	// to 1). Set it to measurement mode by clearing the register.
	writes := []struct {
		reg  byte
		data byte
		skip bool
	}{
		{regPowerMgmt1, 0, false},
		{regAccelConfig, accelRanges[m.accelRange].sel << 3, m.accelRange == 0},
		{regGyroConfig, gyroRanges[m.gyroRange].sel << 3, m.gyroRange == 0},
	}
	for _, w := range writes {
		if w.skip {
			continue
		}
		reg := board.I2CRegister{Handle: handle, Register: w.reg}
		if err := reg.WriteByteData(ctx, w.data); err != nil {
			return multierr.Combine(errors.Wrapf(err, "unable to write MPU6050 register %#x", w.reg), handle.Close())
		}
	}
	m.handle = handle
	return nil
}

// Disconnect puts the chip back to sleep and closes the handle.
func (m *MPU6050) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	m.pending.Clear()
	reg := board.I2CRegister{Handle: m.handle, Register: regPowerMgmt1}
	err := multierr.Combine(reg.WriteByteData(ctx, sleepBit), m.handle.Close())
	m.handle = nil
	return err
}

// IsConnected reports whether the handle is open.
func (m *MPU6050) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// Send arms a read.
func (m *MPU6050) Send(ctx context.Context, request string) error {
	if request != Request {
		return errors.Errorf("mpu6050: unknown request %q", request)
	}
	if !m.IsConnected() {
		return channel.ErrNotConnected
	}
	m.pending.Arm(request)
	return nil
}

// Receive runs the armed read.
func (m *MPU6050) Receive(ctx context.Context) (string, error) {
	return channel.Receive(ctx, &m.pending, m.Execute)
}

// Execute reads acceleration, angular velocity and temperature and returns them as a text line.
func (m *MPU6050) Execute(ctx context.Context, request string) (string, error) {
	if request != Request {
		return "", errors.Errorf("mpu6050: unknown request %q", request)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return "", channel.ErrNotConnected
	}

	t := m.clk.Now()
	var accel, gyro [3]float64
	for i := range accel {
		raw, err := m.readWord(ctx, regAccelXOut+byte(2*i))
		if err != nil {
			return "", err
		}
		accel[i] = float64(raw) / m.accelModifier
		if !m.gUnits {
			accel[i] *= standardGravity
		}
	}
	for i := range gyro {
		raw, err := m.readWord(ctx, regGyroXOut+byte(2*i))
		if err != nil {
			return "", err
		}
		gyro[i] = float64(raw) / m.gyroModifier
	}
	rawTemp, err := m.readWord(ctx, regTempOut)
	if err != nil {
		return "", err
	}
	// Taken straight from the MPU6050 register map. Yes, these are weird constants.
	temperature := float64(rawTemp)/340.0 + 36.53

	return reading.FormatLine(
		reading.TimeField(reading.TimeKey, t),
		reading.FloatField(AccelXKey, accel[0]),
		reading.FloatField(AccelYKey, accel[1]),
		reading.FloatField(AccelZKey, accel[2]),
		reading.FloatField(GyroXKey, gyro[0]),
		reading.FloatField(GyroYKey, gyro[1]),
		reading.FloatField(GyroZKey, gyro[2]),
		reading.FloatField(TemperatureKey, temperature),
	), nil
}

func (m *MPU6050) readWord(ctx context.Context, register byte) (int16, error) {
	reg := board.I2CRegister{Handle: m.handle, Register: register}
	data, err := reg.ReadWord(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "reading MPU6050 register %#x", register)
	}
	if len(data) != 2 {
		return 0, errors.Errorf("expected 2 bytes from MPU6050 register %#x, got %d", register, len(data))
	}
	return utils.Int16FromBytesBE(data), nil
}
