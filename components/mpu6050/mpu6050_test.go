package mpu6050

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.aim.dev/aim/board/fake"
	"go.aim.dev/aim/channel"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/reading"
)

func scriptChip(dev *fake.I2CDevice) {
	dev.SetWord(0x3B, 16384)
	dev.SetWord(0x3D, -8192)
	dev.SetWord(0x3F, 0)
	dev.SetWord(0x43, 131)
	dev.SetWord(0x45, -262)
	dev.SetWord(0x47, 1310)
	dev.SetWord(0x41, 340)
}

func values(t *testing.T, line string) map[string]float64 {
	t.Helper()
	r, err := reading.LineConverter{Source: "gyroscope"}.Convert(line)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Names(), test.ShouldResemble, []string{
		AccelXKey, AccelYKey, AccelZKey, GyroXKey, GyroYKey, GyroZKey, TemperatureKey,
	})
	out := map[string]float64{}
	for _, m := range r.Measurements() {
		out[m.Name] = m.Value
	}
	return out
}

func TestValidate(t *testing.T) {
	test.That(t, (&Config{}).Validate("gyro"), test.ShouldBeNil)
	test.That(t, (&Config{AccelRange: 3}).Validate("gyro"), test.ShouldNotBeNil)
	test.That(t, (&Config{GyroRange: 300}).Validate("gyro"), test.ShouldNotBeNil)
	test.That(t, (&Config{AccelRange: 16, GyroRange: 2000}).Validate("gyro"), test.ShouldBeNil)
}

func TestReadDefaults(t *testing.T) {
	ctx := context.Background()
	bus := fake.NewI2C()
	dev := bus.AddDevice(0x68)
	dev.Registers[0x6B] = 0x40
	scriptChip(dev)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC))

	m, err := New("gyroscope", bus, Config{}, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	_, err = m.Execute(ctx, Request)
	test.That(t, errors.Is(err, channel.ErrNotConnected), test.ShouldBeTrue)

	test.That(t, m.Connect(ctx), test.ShouldBeNil)
	test.That(t, m.Connect(ctx), test.ShouldBeNil)
	test.That(t, dev.Register(0x6B), test.ShouldEqual, byte(0))
	test.That(t, dev.Writes()[0], test.ShouldResemble, []byte{0x6B, 0})
	test.That(t, len(dev.Writes()), test.ShouldEqual, 1)

	test.That(t, m.Send(ctx, Request), test.ShouldBeNil)
	line, err := m.Receive(ctx)
	test.That(t, err, test.ShouldBeNil)
	v := values(t, line)
	test.That(t, v[AccelXKey], test.ShouldAlmostEqual, 9.80665)
	test.That(t, v[AccelYKey], test.ShouldAlmostEqual, -4.903325)
	test.That(t, v[AccelZKey], test.ShouldEqual, 0)
	test.That(t, v[GyroXKey], test.ShouldAlmostEqual, 1)
	test.That(t, v[GyroYKey], test.ShouldAlmostEqual, -2)
	test.That(t, v[GyroZKey], test.ShouldAlmostEqual, 10)
	test.That(t, v[TemperatureKey], test.ShouldAlmostEqual, 37.53)

	// every register is read as its own two byte transaction
	writes := dev.Writes()
	test.That(t, writes[1:], test.ShouldResemble, [][]byte{
		{0x3B}, {0x3D}, {0x3F}, {0x43}, {0x45}, {0x47}, {0x41},
	})

	test.That(t, m.Disconnect(ctx), test.ShouldBeNil)
	test.That(t, dev.Register(0x6B), test.ShouldEqual, byte(0x40))
	test.That(t, dev.IsOpen(), test.ShouldBeFalse)
	test.That(t, m.IsConnected(), test.ShouldBeFalse)
}

func TestRangesAndUnits(t *testing.T) {
	ctx := context.Background()
	bus := fake.NewI2C()
	dev := bus.AddDevice(0x69)
	scriptChip(dev)

	m, err := New("gyroscope", bus, Config{
		UseAlternateI2CAddress: true,
		AccelRange:             4,
		GyroRange:              500,
		GUnits:                 true,
	}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Connect(ctx), test.ShouldBeNil)
	test.That(t, dev.Register(0x1C), test.ShouldEqual, byte(1<<3))
	test.That(t, dev.Register(0x1B), test.ShouldEqual, byte(1<<3))

	line, err := m.Execute(ctx, Request)
	test.That(t, err, test.ShouldBeNil)
	v := values(t, line)
	test.That(t, v[AccelXKey], test.ShouldAlmostEqual, 2)
	test.That(t, v[AccelYKey], test.ShouldAlmostEqual, -1)
	test.That(t, v[GyroXKey], test.ShouldAlmostEqual, 2)
	test.That(t, v[GyroZKey], test.ShouldAlmostEqual, 20)
}

func TestBusErrors(t *testing.T) {
	ctx := context.Background()
	bus := fake.NewI2C()
	m, err := New("gyroscope", bus, Config{}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Connect(ctx), test.ShouldNotBeNil)

	dev := bus.AddDevice(0x68)
	dev.WriteErr = errors.New("nack")
	test.That(t, m.Connect(ctx), test.ShouldNotBeNil)
	test.That(t, dev.IsOpen(), test.ShouldBeFalse)

	dev.WriteErr = nil
	test.That(t, m.Connect(ctx), test.ShouldBeNil)
	dev.ReadErr = errors.New("bus stuck")
	_, err = m.Execute(ctx, Request)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bus stuck")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	dev.ReadErr = nil
	_, err = m.Execute(cancelled, Request)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}
