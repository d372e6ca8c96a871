// Package lifecycle gates the orchestrator: configurations are loaded before measuring, and a
// measurement session is started before it is ended.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// State is a lifecycle state.
type State int

// The lifecycle states. NoConfiguration is the initial state.
const (
	NoConfiguration State = iota
	Ready
	Measuring
)

func (s State) String() string {
	switch s {
	case NoConfiguration:
		return "NoConfiguration"
	case Ready:
		return "Ready"
	case Measuring:
		return "Measuring"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event triggers a transition.
type Event int

// The lifecycle events.
const (
	LoadConfiguration Event = iota
	ChangeConfiguration
	StartMeasurementSession
	EndMeasurementSession
)

func (e Event) String() string {
	switch e {
	case LoadConfiguration:
		return "LoadConfiguration"
	case ChangeConfiguration:
		return "ChangeConfiguration"
	case StartMeasurementSession:
		return "StartMeasurementSession"
	case EndMeasurementSession:
		return "EndMeasurementSession"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// TransitionError is returned when an event is not allowed in the current state.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s is not allowed in state %s", ErrInvalidTransition, e.Event, e.From)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Next returns the state that event leads to from s. The transitions are fixed:
//
//	NoConfiguration --LoadConfiguration--> Ready
//	Ready --ChangeConfiguration--> Ready
//	Ready --StartMeasurementSession--> Measuring
//	Measuring --EndMeasurementSession--> Ready
func Next(s State, event Event) (State, error) {
	switch {
	case s == NoConfiguration && event == LoadConfiguration:
		return Ready, nil
	case s == Ready && event == ChangeConfiguration:
		return Ready, nil
	case s == Ready && event == StartMeasurementSession:
		return Measuring, nil
	case s == Measuring && event == EndMeasurementSession:
		return Ready, nil
	default:
		return s, &TransitionError{From: s, Event: event}
	}
}

// Machine holds the current state. It is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in NoConfiguration.
func NewMachine() *Machine {
	return &Machine{state: NoConfiguration}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event is allowed in the current state.
func (m *Machine) Can(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := Next(m.state, event)
	return err == nil
}

// Fire applies event. On error the state is unchanged.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Next(m.state, event)
	if err != nil {
		return m.state, err
	}
	m.state = next
	return next, nil
}
