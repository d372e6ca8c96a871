// Package fake implements simulated channels that need no hardware. Values are drawn from an
// injected random source so runs are reproducible with a fixed seed.
package fake

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/components/dht"
	"go.aim.dev/aim/components/hx711"
	"go.aim.dev/aim/components/mpu6050"
	"go.aim.dev/aim/reading"
)

// Commands accepted by the simulated channels.
const (
	ScaleCommand     = "GET_WEIGHT"
	GyroscopeCommand = "GET_INCLINE"
)

// EnvironmentCommand is accepted by the simulated environment channel.
var EnvironmentCommand = []byte("GET_ENVIRONMENT")

// Generator produces one simulated payload.
type Generator[T channel.Payload] func(rng *rand.Rand, now time.Time) T

// Channel is a simulated channel.Channel that answers its command with generated payloads.
type Channel[T channel.Payload] struct {
	name     string
	command  T
	generate Generator[T]
	clk      clock.Clock

	pending channel.Pending[T]

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
}

// New returns a simulated channel. clk may be nil to use the wall clock.
func New[T channel.Payload](name string, command T, generate Generator[T], rng *rand.Rand, clk clock.Clock) *Channel[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Channel[T]{name: name, command: command, generate: generate, rng: rng, clk: clk}
}

// Name returns the channel name.
func (c *Channel[T]) Name() string {
	return c.name
}

// Connect marks the channel connected.
func (c *Channel[T]) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

// Disconnect marks the channel disconnected.
func (c *Channel[T]) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.pending.Clear()
	return nil
}

// IsConnected reports whether Connect was called.
func (c *Channel[T]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send arms a request.
func (c *Channel[T]) Send(ctx context.Context, request T) error {
	if err := c.check(request); err != nil {
		return err
	}
	c.pending.Arm(request)
	return nil
}

// Receive answers the armed request.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	return channel.Receive(ctx, &c.pending, c.Execute)
}

// Execute answers request with a generated payload.
func (c *Channel[T]) Execute(ctx context.Context, request T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := c.check(request); err != nil {
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generate(c.rng, c.clk.Now()), nil
}

func (c *Channel[T]) check(request T) error {
	if !c.IsConnected() {
		return errors.Wrapf(channel.ErrNotConnected, "%s", c.name)
	}
	if string(request) != string(c.command) {
		return errors.Errorf("%s: invalid command %q", c.name, string(request))
	}
	return nil
}

// NewScale simulates an HX711 whose raw value is a weight between 19 and 21, rounded to 0.1.
func NewScale(name string, rng *rand.Rand, clk clock.Clock) *Channel[string] {
	return New[string](name, ScaleCommand, func(rng *rand.Rand, now time.Time) string {
		w := math.Round((19+2*rng.Float64())*10) / 10
		return reading.FormatLine(reading.TimeField(reading.TimeKey, now), reading.FloatField(hx711.RawKey, w))
	}, rng, clk)
}

// NewGyroscope simulates an MPU-6050 lying almost flat: gravity on Z plus a small tilt and
// a few degrees per second of rotation.
func NewGyroscope(name string, rng *rand.Rand, clk clock.Clock) *Channel[string] {
	return New[string](name, GyroscopeCommand, func(rng *rand.Rand, now time.Time) string {
		tilt := (rng.Float64() - 0.5) * 0.2
		return reading.FormatLine(
			reading.TimeField(reading.TimeKey, now),
			reading.FloatField(mpu6050.AccelXKey, 9.80665*math.Sin(tilt)),
			reading.FloatField(mpu6050.AccelYKey, 9.80665*math.Sin(tilt/2)),
			reading.FloatField(mpu6050.AccelZKey, 9.80665*math.Cos(tilt)),
			reading.FloatField(mpu6050.GyroXKey, (rng.Float64()-0.5)*4),
			reading.FloatField(mpu6050.GyroYKey, (rng.Float64()-0.5)*4),
			reading.FloatField(mpu6050.GyroZKey, (rng.Float64()-0.5)*4),
			reading.FloatField(mpu6050.TemperatureKey, 20+rng.Float64()*5),
		)
	}, rng, clk)
}

// NewEnvironment simulates a DHT sensor reporting 18.0 to 25.9 °C and 30.0 to 59.9 % humidity.
func NewEnvironment(name string, rng *rand.Rand, clk clock.Clock) *Channel[[]byte] {
	return New[[]byte](name, EnvironmentCommand, func(rng *rand.Rand, now time.Time) []byte {
		data := [5]byte{
			byte(30 + rng.Intn(30)),
			byte(rng.Intn(10)),
			byte(18 + rng.Intn(8)),
			byte(rng.Intn(10)),
		}
		data[4] = data[0] + data[1] + data[2] + data[3]
		return dht.Frame{Time: now, Data: data, Valid: true}.Encode()
	}, rng, clk)
}
