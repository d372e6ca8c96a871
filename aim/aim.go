// Package aim is the acquisition orchestrator. It holds one configuration, gates it with the
// lifecycle state machine, fans operations out over the instrument and sensors and hands
// completed sessions to the correction model.
package aim

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.aim.dev/aim/lifecycle"
	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/model"
	"go.aim.dev/aim/reading"
	"go.aim.dev/aim/sensor"
	"go.aim.dev/aim/session"
)

// AIM orchestrates measurement sessions. Its methods are meant to be called by a single owner
// and are not safe for concurrent use.
//
// The Async variants run the per-device calls concurrently and return once every one of them has
// finished. A failing device never cancels or rolls back the others; the first error is returned
// and the devices are left as they are for the caller to inspect or Disconnect.
type AIM struct {
	logger  logging.Logger
	clk     clock.Clock
	machine *lifecycle.Machine
	cfg     *Configuration
	started time.Time
}

// New returns an orchestrator with no configuration. clk may be nil to use the wall clock.
func New(logger logging.Logger, clk clock.Clock) *AIM {
	if clk == nil {
		clk = clock.New()
	}
	return &AIM{logger: logger, clk: clk, machine: lifecycle.NewMachine()}
}

// State returns the lifecycle state.
func (a *AIM) State() lifecycle.State {
	return a.machine.State()
}

// Configuration returns the loaded configuration, or nil.
func (a *AIM) Configuration() *Configuration {
	return a.cfg
}

// LoadConfiguration validates cfg and makes it current. Loading over an existing configuration is
// a ChangeConfiguration and is refused while measuring.
func (a *AIM) LoadConfiguration(cfg *Configuration) error {
	if cfg == nil {
		return ErrNoConfiguration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	event := lifecycle.LoadConfiguration
	if a.cfg != nil {
		event = lifecycle.ChangeConfiguration
	}
	if err := a.fire(event); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Infow("loaded configuration", "name", cfg.Name, "sensors", len(cfg.Sensors), "model", cfg.Model.Name())
	return nil
}

// Connect connects the instrument and then each sensor in order, stopping at the first failure.
func (a *AIM) Connect(ctx context.Context) error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	return a.each(ctx, "connect", connect)
}

// ConnectAsync connects all devices concurrently.
func (a *AIM) ConnectAsync(ctx context.Context) error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	return a.fanOut(ctx, "connect", connect)
}

// Disconnect disconnects every device, carrying on past failures, and returns all errors.
func (a *AIM) Disconnect(ctx context.Context) error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	var errs error
	for _, d := range a.cfg.Devices() {
		if err := d.Disconnect(ctx); err != nil {
			a.logger.Warnw("disconnect failed", "sensor", d.Name(), "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// DisconnectAsync disconnects every device concurrently and returns all errors.
func (a *AIM) DisconnectAsync(ctx context.Context) error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	devices := a.cfg.Devices()
	errs := make([]error, len(devices))
	var g errgroup.Group
	for i, d := range devices {
		i, d := i, d // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			if err := d.Disconnect(ctx); err != nil {
				a.logger.Warnw("disconnect failed", "sensor", d.Name(), "error", err)
				errs[i] = err
			}
			return nil
		})
	}
	//nolint:errcheck
	g.Wait()
	return multierr.Combine(errs...)
}

// StartMeasurementSession moves to Measuring, then connects and starts reading each device in
// turn, instrument first.
func (a *AIM) StartMeasurementSession(ctx context.Context) error {
	if err := a.startSession(); err != nil {
		return err
	}
	return a.each(ctx, "start reading", func(ctx context.Context, d sensor.Device) error {
		if err := d.Connect(ctx); err != nil {
			return err
		}
		return d.StartReading(ctx)
	})
}

// StartMeasurementSessionAsync moves to Measuring, connects all devices concurrently and, once
// they are all connected, starts all of their readings concurrently.
func (a *AIM) StartMeasurementSessionAsync(ctx context.Context) error {
	if err := a.startSession(); err != nil {
		return err
	}
	if err := a.fanOut(ctx, "connect", connect); err != nil {
		return err
	}
	return a.fanOut(ctx, "start reading", func(ctx context.Context, d sensor.Device) error {
		return d.StartReading(ctx)
	})
}

// EndMeasurementSession moves back to Ready, then stops reading and disconnects each device in
// turn. The readings are returned as a new session: the instrument reading as primary and the
// sensor readings as auxiliary, in configuration order.
func (a *AIM) EndMeasurementSession(ctx context.Context) (*session.Session, error) {
	if err := a.endSession(); err != nil {
		return nil, err
	}
	devices := a.cfg.Devices()
	readings := make([]*reading.Reading, len(devices))
	for i, d := range devices {
		r, err := d.StopReading(ctx)
		if err != nil {
			a.logger.Warnw("stop reading failed", "sensor", d.Name(), "error", err)
			return nil, err
		}
		readings[i] = r
		if err := d.Disconnect(ctx); err != nil {
			a.logger.Warnw("disconnect failed", "sensor", d.Name(), "error", err)
			return nil, err
		}
	}
	return a.assemble(readings)
}

// EndMeasurementSessionAsync is EndMeasurementSession with all stops run concurrently, followed
// by all disconnects run concurrently. The session has the same layout.
func (a *AIM) EndMeasurementSessionAsync(ctx context.Context) (*session.Session, error) {
	if err := a.endSession(); err != nil {
		return nil, err
	}
	devices := a.cfg.Devices()
	readings := make([]*reading.Reading, len(devices))
	var g errgroup.Group
	for i, d := range devices {
		i, d := i, d // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			r, err := d.StopReading(ctx)
			if err != nil {
				a.logger.Warnw("stop reading failed", "sensor", d.Name(), "error", err)
				return err
			}
			readings[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := a.fanOut(ctx, "disconnect", func(ctx context.Context, d sensor.Device) error {
		return d.Disconnect(ctx)
	}); err != nil {
		return nil, err
	}
	return a.assemble(readings)
}

// Predict runs the model on the session's feature vector. The session is not modified.
func (a *AIM) Predict(ctx context.Context, s *session.Session) (model.Prediction, error) {
	if err := a.checkPrediction(s); err != nil {
		return model.Prediction{}, err
	}
	return a.cfg.Model.Predict(ctx, s.Features())
}

// PredictAsync runs the model on its own goroutine and returns early with the context error if
// ctx ends first.
func (a *AIM) PredictAsync(ctx context.Context, s *session.Session) (model.Prediction, error) {
	if err := a.checkPrediction(s); err != nil {
		return model.Prediction{}, err
	}
	type result struct {
		p   model.Prediction
		err error
	}
	results := make(chan result, 1)
	m := a.cfg.Model
	features := s.Features()
	goutils.PanicCapturingGo(func() {
		p, err := m.Predict(ctx, features)
		results <- result{p, err}
	})
	select {
	case <-ctx.Done():
		return model.Prediction{}, ctx.Err()
	case res := <-results:
		return res.p, res.err
	}
}

func connect(ctx context.Context, d sensor.Device) error {
	return d.Connect(ctx)
}

func (a *AIM) checkConfiguration() error {
	if a.cfg == nil {
		return ErrNoConfiguration
	}
	return a.cfg.Validate()
}

func (a *AIM) checkPrediction(s *session.Session) error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	if s == nil {
		return ErrNoSessionData
	}
	if err := s.Validate(); err != nil {
		return errors.Wrap(ErrInvalidSession, err.Error())
	}
	return nil
}

func (a *AIM) fire(event lifecycle.Event) error {
	from := a.machine.State()
	to, err := a.machine.Fire(event)
	if err != nil {
		return err
	}
	a.logger.Debugw("lifecycle transition", "event", event.String(), "from", from.String(), "to", to.String())
	return nil
}

func (a *AIM) startSession() error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	if err := a.fire(lifecycle.StartMeasurementSession); err != nil {
		return err
	}
	a.started = a.clk.Now()
	return nil
}

func (a *AIM) endSession() error {
	if err := a.checkConfiguration(); err != nil {
		return err
	}
	if a.machine.State() != lifecycle.Measuring {
		return ErrSessionNotStarted
	}
	return a.fire(lifecycle.EndMeasurementSession)
}

func (a *AIM) assemble(readings []*reading.Reading) (*session.Session, error) {
	s := session.New(a.started)
	if err := s.SetPrimary(readings[0]); err != nil {
		return nil, err
	}
	for _, r := range readings[1:] {
		s.AddAuxiliary(r)
	}
	s.Finish(a.clk.Now())
	a.logger.Infow("measurement session ended", "session", s.ID().String(), "valid", s.Valid(), "features", len(s.Features()))
	return s, nil
}

// each runs fn on every device in order and stops at the first error.
func (a *AIM) each(ctx context.Context, op string, fn func(ctx context.Context, d sensor.Device) error) error {
	for _, d := range a.cfg.Devices() {
		if err := fn(ctx, d); err != nil {
			a.logger.Warnw(op+" failed", "sensor", d.Name(), "error", err)
			return err
		}
	}
	return nil
}

// fanOut runs fn on every device concurrently, waits for all of them and returns the first error.
func (a *AIM) fanOut(ctx context.Context, op string, fn func(ctx context.Context, d sensor.Device) error) error {
	var g errgroup.Group
	for _, d := range a.cfg.Devices() {
		d := d // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			if err := fn(ctx, d); err != nil {
				a.logger.Warnw(op+" failed", "sensor", d.Name(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
