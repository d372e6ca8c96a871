package aim

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.aim.dev/aim/lifecycle"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/model"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/sensor"
	"go.aim.dev/aim/session"
	"go.aim.dev/aim/testutils/inject"
)

// recorder logs every device call in the order it happened.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(device, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, device+" "+op)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) forDevice(name string) []string {
	var out []string
	for _, c := range r.all() {
		if dev, op, _ := strings.Cut(c, " "); dev == name {
			out = append(out, op)
		}
	}
	return out
}

// first returns the position of the first call with op, or -1.
func (r *recorder) first(op string) int {
	for i, c := range r.all() {
		if strings.HasSuffix(c, " "+op) {
			return i
		}
	}
	return -1
}

// last returns the position of the last call with op, or -1.
func (r *recorder) last(op string) int {
	calls := r.all()
	for i := len(calls) - 1; i >= 0; i-- {
		if strings.HasSuffix(calls[i], " "+op) {
			return i
		}
	}
	return -1
}

func newDevice(rec *recorder, name string, values ...float64) *inject.Device {
	d := inject.NewDevice(name)
	d.ConnectFunc = func(ctx context.Context) error {
		rec.add(name, "connect")
		return nil
	}
	d.DisconnectFunc = func(ctx context.Context) error {
		rec.add(name, "disconnect")
		return nil
	}
	d.StartReadingFunc = func(ctx context.Context) error {
		rec.add(name, "start")
		return nil
	}
	d.StopReadingFunc = func(ctx context.Context) (*reading.Reading, error) {
		rec.add(name, "stop")
		b := reading.NewBuilder(name, time.Unix(1, 0))
		for i, v := range values {
			b.Add(name+string(rune('a'+i)), v)
		}
		return b.Build()
	}
	return d
}

func newModel(features *[]float64) *inject.Model {
	m := inject.NewModel("model")
	m.PredictFunc = func(ctx context.Context, f []float64) (model.Prediction, error) {
		*features = append([]float64(nil), f...)
		return model.Prediction{CorrectedValue: f[0] + 1, Confidence: 0.9, ErrorMargin: 0.1}, nil
	}
	return m
}

func newConfig(rec *recorder, features *[]float64) *Configuration {
	return &Configuration{
		Name:       "test",
		Instrument: newDevice(rec, "scale", 10),
		Sensors: []sensor.Device{
			newDevice(rec, "gyro", 0.5, -0.5),
			newDevice(rec, "env", 21, 40),
		},
		Model: newModel(features),
	}
}

func TestConfigurationValidate(t *testing.T) {
	rec := &recorder{}
	var features []float64
	cfg := newConfig(rec, &features)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, len(cfg.Devices()), test.ShouldEqual, 3)
	test.That(t, cfg.Devices()[0].Name(), test.ShouldEqual, "scale")

	for _, mutate := range []func(c *Configuration){
		func(c *Configuration) { c.Instrument = nil },
		func(c *Configuration) { c.Model = nil },
		func(c *Configuration) { c.Sensors = nil },
		func(c *Configuration) { c.Sensors = []sensor.Device{nil} },
	} {
		c := newConfig(rec, &features)
		mutate(c)
		test.That(t, errors.Is(c.Validate(), ErrInvalidConfiguration), test.ShouldBeTrue)
	}
}

func TestLifecycleGate(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.NoConfiguration)

	err := a.StartMeasurementSession(ctx)
	test.That(t, errors.Is(err, ErrNoConfiguration), test.ShouldBeTrue)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.NoConfiguration)
	test.That(t, errors.Is(a.StartMeasurementSessionAsync(ctx), ErrNoConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(a.Connect(ctx), ErrNoConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(a.ConnectAsync(ctx), ErrNoConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(a.Disconnect(ctx), ErrNoConfiguration), test.ShouldBeTrue)
	_, err = a.EndMeasurementSession(ctx)
	test.That(t, errors.Is(err, ErrNoConfiguration), test.ShouldBeTrue)
	_, err = a.Predict(ctx, session.New(time.Now()))
	test.That(t, errors.Is(err, ErrNoConfiguration), test.ShouldBeTrue)

	bad := newConfig(rec, &features)
	bad.Sensors = nil
	test.That(t, errors.Is(a.LoadConfiguration(bad), ErrInvalidConfiguration), test.ShouldBeTrue)
	test.That(t, errors.Is(a.LoadConfiguration(nil), ErrNoConfiguration), test.ShouldBeTrue)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.NoConfiguration)
	test.That(t, a.Configuration(), test.ShouldBeNil)

	cfg := newConfig(rec, &features)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.Ready)
	test.That(t, a.Configuration(), test.ShouldEqual, cfg)

	_, err = a.EndMeasurementSession(ctx)
	test.That(t, errors.Is(err, ErrSessionNotStarted), test.ShouldBeTrue)
	_, err = a.EndMeasurementSessionAsync(ctx)
	test.That(t, errors.Is(err, ErrSessionNotStarted), test.ShouldBeTrue)
	test.That(t, len(rec.all()), test.ShouldEqual, 0)

	other := newConfig(rec, &features)
	test.That(t, a.LoadConfiguration(other), test.ShouldBeNil)
	test.That(t, a.Configuration(), test.ShouldEqual, other)

	test.That(t, a.StartMeasurementSession(ctx), test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.Measuring)
	err = a.StartMeasurementSession(ctx)
	test.That(t, errors.Is(err, lifecycle.ErrInvalidTransition), test.ShouldBeTrue)
	err = a.LoadConfiguration(cfg)
	test.That(t, errors.Is(err, lifecycle.ErrInvalidTransition), test.ShouldBeTrue)
	test.That(t, a.Configuration(), test.ShouldEqual, other)

	_, err = a.EndMeasurementSession(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.Ready)
}

func TestSessionSequential(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(newConfig(rec, &features)), test.ShouldBeNil)

	test.That(t, a.StartMeasurementSession(ctx), test.ShouldBeNil)
	s, err := a.EndMeasurementSession(ctx)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, rec.all(), test.ShouldResemble, []string{
		"scale connect", "scale start",
		"gyro connect", "gyro start",
		"env connect", "env start",
		"scale stop", "scale disconnect",
		"gyro stop", "gyro disconnect",
		"env stop", "env disconnect",
	})
	test.That(t, s.Valid(), test.ShouldBeTrue)
	test.That(t, s.Primary().Source(), test.ShouldEqual, "scale")
	aux := s.Auxiliary()
	test.That(t, len(aux), test.ShouldEqual, 2)
	test.That(t, aux[0].Source(), test.ShouldEqual, "gyro")
	test.That(t, aux[1].Source(), test.ShouldEqual, "env")
	test.That(t, s.Features(), test.ShouldResemble, []float64{10, 0.5, -0.5, 21, 40})
	test.That(t, s.EndedAt().Before(s.StartedAt()), test.ShouldBeFalse)
}

func TestLogsTransitions(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	logger, logs := logging.NewObservedTestLogger(t)
	a := New(logger, nil)
	test.That(t, a.LoadConfiguration(newConfig(rec, &features)), test.ShouldBeNil)
	test.That(t, a.StartMeasurementSession(ctx), test.ShouldBeNil)
	_, err := a.EndMeasurementSession(ctx)
	test.That(t, err, test.ShouldBeNil)

	transitions := logs.FilterMessage("lifecycle transition").All()
	test.That(t, transitions, test.ShouldHaveLength, 3)
	test.That(t, transitions[0].ContextMap()["event"], test.ShouldEqual, lifecycle.LoadConfiguration.String())
	test.That(t, transitions[1].ContextMap()["to"], test.ShouldEqual, lifecycle.Measuring.String())
	test.That(t, transitions[2].ContextMap()["to"], test.ShouldEqual, lifecycle.Ready.String())
	test.That(t, logs.FilterMessage("measurement session ended").Len(), test.ShouldEqual, 1)
}

func TestSessionAsync(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(newConfig(rec, &features)), test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		rec.calls = nil
		test.That(t, a.StartMeasurementSessionAsync(ctx), test.ShouldBeNil)
		s, err := a.EndMeasurementSessionAsync(ctx)
		test.That(t, err, test.ShouldBeNil)

		for _, name := range []string{"scale", "gyro", "env"} {
			test.That(t, rec.forDevice(name), test.ShouldResemble, []string{"connect", "start", "stop", "disconnect"})
		}
		// every phase is a barrier
		test.That(t, rec.last("connect"), test.ShouldBeLessThan, rec.first("start"))
		test.That(t, rec.last("start"), test.ShouldBeLessThan, rec.first("stop"))
		test.That(t, rec.last("stop"), test.ShouldBeLessThan, rec.first("disconnect"))

		test.That(t, s.Primary().Source(), test.ShouldEqual, "scale")
		test.That(t, s.Features(), test.ShouldResemble, []float64{10, 0.5, -0.5, 21, 40})
		test.That(t, a.State(), test.ShouldEqual, lifecycle.Ready)
	}
}

func TestConnectFailures(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	cfg := newConfig(rec, &features)
	boom := &sensor.ConnectionError{Sensor: "gyro", Err: errors.New("unplugged")}
	cfg.Sensors[0].(*inject.Device).ConnectFunc = func(ctx context.Context) error {
		rec.add("gyro", "connect")
		return boom
	}
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)

	err := a.Connect(ctx)
	test.That(t, err, test.ShouldEqual, boom)
	// no rollback and no further connects
	test.That(t, rec.all(), test.ShouldResemble, []string{"scale connect", "gyro connect"})

	rec.calls = nil
	err = a.StartMeasurementSession(ctx)
	var connErr *sensor.ConnectionError
	test.That(t, errors.As(err, &connErr), test.ShouldBeTrue)
	test.That(t, connErr.Sensor, test.ShouldEqual, "gyro")
	test.That(t, rec.all(), test.ShouldResemble, []string{"scale connect", "scale start", "gyro connect"})
	test.That(t, a.State(), test.ShouldEqual, lifecycle.Measuring)
}

func TestConnectAsyncWaitsForAll(t *testing.T) {
	ctx := context.Background()
	var features []float64
	var done int32
	boom := errors.New("env unplugged")

	slow := func(name string, delay time.Duration, err error) *inject.Device {
		d := inject.NewDevice(name)
		d.ConnectFunc = func(ctx context.Context) error {
			time.Sleep(delay)
			atomic.AddInt32(&done, 1)
			return err
		}
		return d
	}
	cfg := &Configuration{
		Name:       "slow",
		Instrument: slow("scale", 30*time.Millisecond, nil),
		Sensors: []sensor.Device{
			slow("env", time.Millisecond, boom),
			slow("gyro", 60*time.Millisecond, nil),
			slow("vib", 10*time.Millisecond, nil),
		},
		Model: newModel(&features),
	}
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)

	err := a.ConnectAsync(ctx)
	test.That(t, err, test.ShouldEqual, boom)
	test.That(t, atomic.LoadInt32(&done), test.ShouldEqual, 4)
}

func TestDisconnectCollectsErrors(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	cfg := newConfig(rec, &features)
	errScale := errors.New("scale stuck")
	errEnv := errors.New("env stuck")
	cfg.Instrument.(*inject.Device).DisconnectFunc = func(ctx context.Context) error { return errScale }
	cfg.Sensors[1].(*inject.Device).DisconnectFunc = func(ctx context.Context) error { return errEnv }
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)

	for _, disconnect := range []func(context.Context) error{a.Disconnect, a.DisconnectAsync} {
		rec.calls = nil
		err := disconnect(ctx)
		test.That(t, errors.Is(err, errScale), test.ShouldBeTrue)
		test.That(t, errors.Is(err, errEnv), test.ShouldBeTrue)
		test.That(t, rec.forDevice("gyro"), test.ShouldResemble, []string{"disconnect"})
	}
}

func TestEndPropagatesReadErrors(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	cfg := newConfig(rec, &features)
	readErr := &sensor.ReadError{Sensor: "env", Err: errors.New("garbled")}
	cfg.Sensors[1].(*inject.Device).StopReadingFunc = func(ctx context.Context) (*reading.Reading, error) {
		return nil, readErr
	}
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)

	test.That(t, a.StartMeasurementSession(ctx), test.ShouldBeNil)
	_, err := a.EndMeasurementSession(ctx)
	test.That(t, err, test.ShouldEqual, readErr)
	test.That(t, a.State(), test.ShouldEqual, lifecycle.Ready)

	test.That(t, a.StartMeasurementSessionAsync(ctx), test.ShouldBeNil)
	_, err = a.EndMeasurementSessionAsync(ctx)
	var re *sensor.ReadError
	test.That(t, errors.As(err, &re), test.ShouldBeTrue)
	test.That(t, re.Sensor, test.ShouldEqual, "env")
}

func TestPredict(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	var features []float64
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(newConfig(rec, &features)), test.ShouldBeNil)

	_, err := a.Predict(ctx, nil)
	test.That(t, errors.Is(err, ErrNoSessionData), test.ShouldBeTrue)
	_, err = a.PredictAsync(ctx, nil)
	test.That(t, errors.Is(err, ErrNoSessionData), test.ShouldBeTrue)

	empty, err := reading.NewBuilder("scale", time.Now()).Build()
	test.That(t, err, test.ShouldBeNil)
	invalid := session.New(time.Now())
	test.That(t, invalid.SetPrimary(empty), test.ShouldBeNil)
	_, err = a.Predict(ctx, invalid)
	test.That(t, errors.Is(err, ErrInvalidSession), test.ShouldBeTrue)
	test.That(t, features, test.ShouldBeNil)

	test.That(t, a.StartMeasurementSession(ctx), test.ShouldBeNil)
	s, err := a.EndMeasurementSession(ctx)
	test.That(t, err, test.ShouldBeNil)
	before := s.Features()

	p, err := a.Predict(ctx, s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.CorrectedValue, test.ShouldEqual, 11)
	test.That(t, features, test.ShouldResemble, []float64{10, 0.5, -0.5, 21, 40})
	test.That(t, s.Features(), test.ShouldResemble, before)

	p, err = a.PredictAsync(ctx, s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Confidence, test.ShouldEqual, 0.9)

	modelErr := errors.New("inference failed")
	a.Configuration().Model.(*inject.Model).PredictFunc = func(ctx context.Context, f []float64) (model.Prediction, error) {
		return model.Prediction{}, modelErr
	}
	_, err = a.Predict(ctx, s)
	test.That(t, err, test.ShouldEqual, modelErr)
}

func TestPredictAsyncHonorsContext(t *testing.T) {
	rec := &recorder{}
	var features []float64
	cfg := newConfig(rec, &features)
	release := make(chan struct{})
	defer close(release)
	cfg.Model.(*inject.Model).PredictFunc = func(ctx context.Context, f []float64) (model.Prediction, error) {
		<-release
		return model.Prediction{}, nil
	}
	a := New(logging.NewTestLogger(t), nil)
	test.That(t, a.LoadConfiguration(cfg), test.ShouldBeNil)
	test.That(t, a.StartMeasurementSession(context.Background()), test.ShouldBeNil)
	s, err := a.EndMeasurementSession(context.Background())
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.PredictAsync(ctx, s)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}
