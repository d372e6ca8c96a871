package lifecycle

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNext(t *testing.T) {
	allowed := map[State]map[Event]State{
		NoConfiguration: {LoadConfiguration: Ready},
		Ready:           {ChangeConfiguration: Ready, StartMeasurementSession: Measuring},
		Measuring:       {EndMeasurementSession: Ready},
	}
	for _, s := range []State{NoConfiguration, Ready, Measuring} {
		for _, e := range []Event{LoadConfiguration, ChangeConfiguration, StartMeasurementSession, EndMeasurementSession} {
			next, err := Next(s, e)
			if want, ok := allowed[s][e]; ok {
				test.That(t, err, test.ShouldBeNil)
				test.That(t, next, test.ShouldEqual, want)
				continue
			}
			test.That(t, errors.Is(err, ErrInvalidTransition), test.ShouldBeTrue)
			test.That(t, next, test.ShouldEqual, s)
			var transitionErr *TransitionError
			test.That(t, errors.As(err, &transitionErr), test.ShouldBeTrue)
			test.That(t, transitionErr.From, test.ShouldEqual, s)
			test.That(t, transitionErr.Event, test.ShouldEqual, e)
		}
	}
}

func TestMachine(t *testing.T) {
	m := NewMachine()
	test.That(t, m.State(), test.ShouldEqual, NoConfiguration)
	test.That(t, m.Can(StartMeasurementSession), test.ShouldBeFalse)

	_, err := m.Fire(StartMeasurementSession)
	test.That(t, errors.Is(err, ErrInvalidTransition), test.ShouldBeTrue)
	test.That(t, m.State(), test.ShouldEqual, NoConfiguration)

	s, err := m.Fire(LoadConfiguration)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldEqual, Ready)

	_, err = m.Fire(LoadConfiguration)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "LoadConfiguration is not allowed in state Ready")

	_, err = m.Fire(StartMeasurementSession)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Can(ChangeConfiguration), test.ShouldBeFalse)
	_, err = m.Fire(StartMeasurementSession)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, m.State(), test.ShouldEqual, Measuring)

	s, err = m.Fire(EndMeasurementSession)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldEqual, Ready)
}
