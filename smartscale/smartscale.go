// Package smartscale wires the stock smart scale: an HX711 load cell as the instrument, an
// MPU-6050 for inclination and a DHT for temperature and humidity, corrected by a linear model.
package smartscale

import (
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.aim.dev/aim/aim"
	"go.aim.dev/aim/board"
	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/components/dht"
	"go.aim.dev/aim/components/fake"
	"go.aim.dev/aim/components/hx711"
	"go.aim.dev/aim/components/mpu6050"
	"go.aim.dev/aim/components/uart"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/model"
	"go.aim.dev/aim/model/linear"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/sensor"
)

// Sensor names.
const (
	ScaleName       = "SCALE"
	GyroscopeName   = "GYROSCOPE"
	EnvironmentName = "ENVIRONMENTAL"
	VibrationName   = "ACCELEROMETER"
)

const (
	// VibrationCommand asks the serial vibration sensor for a reading.
	VibrationCommand = "GET_VIBR"
	// VibrationSource is the reading source of the vibration sensor.
	VibrationSource = "vibration"
	vibrationKey    = "rms"
)

// Hardware is the board the smart scale is wired to.
type Hardware struct {
	GPIO board.GPIO
	I2C  board.I2C
}

type wiring struct {
	scale        channel.Channel[string]
	scaleRequest string
	gyro         channel.Channel[string]
	gyroRequest  string
	env          channel.Channel[[]byte]
	envRequest   []byte
	vibration    channel.Channel[string]
	vibrationReq string
}

// Build returns the configuration for a smart scale wired to hw.
func Build(cfg *Config, hw Hardware, clk clock.Clock, logger logging.Logger) (*aim.Configuration, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	if hw.GPIO == nil || hw.I2C == nil {
		return nil, errors.New("smart scale needs both GPIO and I2C")
	}
	scale, err := hx711.New(ScaleName, hw.GPIO, cfg.Scale, clk, logger.Sublogger("hx711"))
	if err != nil {
		return nil, err
	}
	gyro, err := mpu6050.New(GyroscopeName, hw.I2C, cfg.Gyroscope, clk, logger.Sublogger("mpu6050"))
	if err != nil {
		return nil, err
	}
	env, err := dht.New(EnvironmentName, hw.GPIO, cfg.Environment, clk, logger.Sublogger("dht"))
	if err != nil {
		return nil, err
	}
	w := wiring{
		scale:        scale,
		scaleRequest: hx711.Request,
		gyro:         gyro,
		gyroRequest:  mpu6050.Request,
		env:          env,
		envRequest:   dht.Request,
	}
	if cfg.Vibration != nil {
		vib, err := uart.New(VibrationName, *cfg.Vibration, logger.Sublogger("uart"))
		if err != nil {
			return nil, err
		}
		w.vibration, w.vibrationReq = vib, VibrationCommand
	}
	return assemble(cfg, w, clk, logger)
}

// BuildFake returns the configuration for a simulated smart scale seeded from rng. The scale
// weighs 19 to 21 with the default calibration. Each channel gets its own source split off rng,
// so runs with the same seed match even when the channels are read concurrently.
func BuildFake(cfg *Config, rng *rand.Rand, clk clock.Clock, logger logging.Logger) (*aim.Configuration, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	split := func() *rand.Rand {
		return rand.New(rand.NewSource(rng.Int63())) //nolint:gosec
	}
	w := wiring{
		scale:        fake.NewScale(ScaleName, split(), clk),
		scaleRequest: fake.ScaleCommand,
		gyro:         fake.NewGyroscope(GyroscopeName, split(), clk),
		gyroRequest:  fake.GyroscopeCommand,
		env:          fake.NewEnvironment(EnvironmentName, split(), clk),
		envRequest:   fake.EnvironmentCommand,
	}
	if cfg.Vibration != nil {
		w.vibration = fake.New[string](VibrationName, VibrationCommand, func(rng *rand.Rand, now time.Time) string {
			rms := math.Round(rng.Float64()*1000) / 1000
			return reading.FormatLine(reading.TimeField(reading.TimeKey, now), reading.FloatField(vibrationKey, rms))
		}, split(), clk)
		w.vibrationReq = VibrationCommand
	}
	return assemble(cfg, w, clk, logger)
}

func assemble(cfg *Config, w wiring, clk clock.Clock, logger logging.Logger) (*aim.Configuration, error) {
	if clk == nil {
		clk = clock.New()
	}
	instrument, err := sensor.New[string](ScaleName, w.scaleRequest, w.scale,
		NewScaleConverter(cfg.ZeroOffset, cfg.CalibrationFactor), logger.Sublogger(ScaleName))
	if err != nil {
		return nil, err
	}
	gyro, err := sensor.New[string](GyroscopeName, w.gyroRequest, w.gyro, NewGyroscopeConverter(), logger.Sublogger(GyroscopeName))
	if err != nil {
		return nil, err
	}
	env, err := sensor.New[[]byte](EnvironmentName, w.envRequest, w.env, EnvironmentConverter{}, logger.Sublogger(EnvironmentName))
	if err != nil {
		return nil, err
	}
	sensors := []sensor.Device{gyro, env}
	if w.vibration != nil {
		vib, err := sensor.New[string](VibrationName, w.vibrationReq, w.vibration,
			reading.LineConverter{Source: VibrationSource, Now: clk.Now}, logger.Sublogger(VibrationName))
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, vib)
	}
	m, err := loadModel(cfg, logger.Sublogger("model"))
	if err != nil {
		return nil, err
	}
	return &aim.Configuration{
		Name:       cfg.Name,
		Instrument: instrument,
		Sensors:    sensors,
		Model:      m,
	}, nil
}

func loadModel(cfg *Config, logger logging.Logger) (model.Model, error) {
	if cfg.ModelPath != "" {
		return linear.Load(cfg.ModelPath, logger)
	}
	return linear.New(*cfg.Model, logger)
}
