package smartscale

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.aim.dev/aim/components/dht"
	"go.aim.dev/aim/components/hx711"
	"go.aim.dev/aim/components/mpu6050"
	"go.aim.dev/aim/reading"
)

// Reading sources and measurement names produced by the smart scale converters.
const (
	WeightSource      = "weight"
	EnvironmentSource = "environment"
	GyroscopeSource   = "gyroscope"

	WeightMeasurement      = "weight"
	TemperatureMeasurement = "temperature"
	HumidityMeasurement    = "humidity"
	RollMeasurement        = "roll"
	PitchMeasurement       = "pitch"
)

// ScaleConverter turns raw load cell lines into weights: (raw - ZeroOffset) / CalibrationFactor.
// A zero CalibrationFactor is treated as 1.
type ScaleConverter struct {
	mu                sync.Mutex
	ZeroOffset        float64
	CalibrationFactor float64
}

// NewScaleConverter returns a converter with the given offset and factor.
func NewScaleConverter(zeroOffset, calibrationFactor float64) *ScaleConverter {
	return &ScaleConverter{ZeroOffset: zeroOffset, CalibrationFactor: calibrationFactor}
}

// Convert implements reading.Converter.
func (c *ScaleConverter) Convert(raw string) (*reading.Reading, error) {
	t, v, err := parseRaw(raw)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	weight := (v - c.ZeroOffset) / c.factor()
	c.mu.Unlock()
	return reading.NewBuilder(WeightSource, t).Add(WeightMeasurement, weight).Build()
}

// Tare makes the raw value of raw the new zero.
func (c *ScaleConverter) Tare(raw string) error {
	_, v, err := parseRaw(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ZeroOffset = v
	return nil
}

// Calibrate sets the factor so that raw converts to known. It must follow a Tare done with the
// scale empty.
func (c *ScaleConverter) Calibrate(raw string, known float64) error {
	if known <= 0 {
		return errors.Errorf("calibration weight must be positive, got %v", known)
	}
	_, v, err := parseRaw(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := v - c.ZeroOffset
	if delta == 0 {
		return errors.New("calibration reading equals the zero offset")
	}
	c.CalibrationFactor = delta / known
	return nil
}

func (c *ScaleConverter) factor() float64 {
	if c.CalibrationFactor == 0 {
		return 1
	}
	return c.CalibrationFactor
}

func parseRaw(raw string) (time.Time, float64, error) {
	l, err := reading.ParseLine(raw)
	if err != nil {
		return time.Time{}, 0, err
	}
	t, err := l.Time(reading.TimeKey)
	if err != nil {
		return time.Time{}, 0, err
	}
	v, err := l.Float(hx711.RawKey)
	if err != nil {
		return time.Time{}, 0, err
	}
	return t, v, nil
}

// EnvironmentConverter turns DHT frames into temperature and humidity. Stale frames are
// converted as they are. A frame that was never read successfully converts to zero temperature
// and humidity, so a stuck line still yields a reading of the usual shape.
type EnvironmentConverter struct{}

// Convert implements reading.Converter.
func (EnvironmentConverter) Convert(raw []byte) (*reading.Reading, error) {
	f, err := dht.DecodeFrame(raw)
	if err != nil {
		return nil, errors.Wrap(reading.ErrMalformedPayload, err.Error())
	}
	var temperature, humidity float64
	if f.Valid {
		temperature, humidity = f.Temperature(), f.Humidity()
	}
	return reading.NewBuilder(EnvironmentSource, f.Time).
		Add(TemperatureMeasurement, temperature).
		Add(HumidityMeasurement, humidity).
		Build()
}

// DefaultAlpha weights the integrated gyro rate against the accelerometer angle.
const DefaultAlpha = 0.98

// GyroscopeConverter fuses accelerometer and gyro lines into roll and pitch in degrees with a
// complementary filter. It carries state between readings, so one converter serves one sensor.
type GyroscopeConverter struct {
	Alpha float64

	mu          sync.Mutex
	initialized bool
	last        time.Time
	roll        float64
	pitch       float64
}

// NewGyroscopeConverter returns a converter using DefaultAlpha.
func NewGyroscopeConverter() *GyroscopeConverter {
	return &GyroscopeConverter{Alpha: DefaultAlpha}
}

// Convert implements reading.Converter.
func (c *GyroscopeConverter) Convert(raw string) (*reading.Reading, error) {
	l, err := reading.ParseLine(raw)
	if err != nil {
		return nil, err
	}
	t, err := l.Time(reading.TimeKey)
	if err != nil {
		return nil, err
	}
	var v [5]float64
	for i, key := range []string{mpu6050.AccelXKey, mpu6050.AccelYKey, mpu6050.AccelZKey, mpu6050.GyroXKey, mpu6050.GyroYKey} {
		if v[i], err = l.Float(key); err != nil {
			return nil, err
		}
	}
	roll, pitch := c.update(t, v[0], v[1], v[2], v[3], v[4])
	return reading.NewBuilder(GyroscopeSource, t).
		Add(RollMeasurement, roll).
		Add(PitchMeasurement, pitch).
		Build()
}

// Reset forgets the filter state.
func (c *GyroscopeConverter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = false
}

func (c *GyroscopeConverter) update(t time.Time, ax, ay, az, gx, gy float64) (float64, float64) {
	accelRoll := degrees(math.Atan2(ay, math.Sqrt(ax*ax+az*az)))
	accelPitch := degrees(math.Atan2(-ax, math.Sqrt(ay*ay+az*az)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		c.roll, c.pitch = accelRoll, accelPitch
		c.last = t
		c.initialized = true
		return c.roll, c.pitch
	}
	dt := t.Sub(c.last).Seconds()
	if dt < 0 {
		dt = 0
	}
	c.last = t
	c.roll = c.Alpha*(c.roll+gx*dt) + (1-c.Alpha)*accelRoll
	c.pitch = c.Alpha*(c.pitch+gy*dt) + (1-c.Alpha)*accelPitch
	return c.roll, c.pitch
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
