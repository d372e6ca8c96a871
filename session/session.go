// Package session aggregates the readings of one measurement cycle.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"

	"go.aim.dev/aim/reading"
)

// A Session holds the primary instrument reading and the auxiliary sensor readings of one
// measurement cycle. It is built once by the orchestrator and not reused.
type Session struct {
	id        uuid.UUID
	started   time.Time
	ended     time.Time
	primary   *reading.Reading
	auxiliary []*reading.Reading
}

// New makes an empty session.
func New(started time.Time) *Session {
	return NewWithID(uuid.New(), started)
}

// NewWithID makes an empty session with an ID.
func NewWithID(id uuid.UUID, started time.Time) *Session {
	return &Session{id: id, started: started}
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// StartedAt is when the measurement cycle started.
func (s *Session) StartedAt() time.Time {
	return s.started
}

// EndedAt is when the measurement cycle ended, zero until Finish is called.
func (s *Session) EndedAt() time.Time {
	return s.ended
}

// Finish stamps the end of the measurement cycle.
func (s *Session) Finish(t time.Time) {
	s.ended = t
}

// SetPrimary sets the primary instrument reading. It may only be set once.
func (s *Session) SetPrimary(r *reading.Reading) error {
	if s.primary != nil {
		return errors.Errorf("session %s already has a primary reading", s.id)
	}
	s.primary = r
	return nil
}

// AddAuxiliary appends an auxiliary sensor reading.
func (s *Session) AddAuxiliary(r *reading.Reading) {
	s.auxiliary = append(s.auxiliary, r)
}

// Primary returns the primary instrument reading, or nil.
func (s *Session) Primary() *reading.Reading {
	return s.primary
}

// Auxiliary returns the auxiliary readings in sensor order.
func (s *Session) Auxiliary() []*reading.Reading {
	return append([]*reading.Reading(nil), s.auxiliary...)
}

// Validate reports why the session can't be used for a prediction, or nil if it can. A session
// needs a non-empty primary reading and at least one auxiliary reading, all of them non-empty.
func (s *Session) Validate() error {
	if s.primary.IsEmpty() {
		return errors.New("primary reading is missing or empty")
	}
	if len(s.auxiliary) == 0 {
		return errors.New("no auxiliary readings")
	}
	for i, r := range s.auxiliary {
		if r.IsEmpty() {
			return errors.Errorf("auxiliary reading %d is missing or empty", i)
		}
	}
	return nil
}

// Valid reports whether Validate passes. It is evaluated on every call.
func (s *Session) Valid() bool {
	return s.Validate() == nil
}

// Features flattens the session into the model input: the primary reading's values followed by
// each auxiliary reading's values in sensor order, each reading in measurement insertion order.
func (s *Session) Features() []float64 {
	n := s.primary.Len()
	for _, r := range s.auxiliary {
		n += r.Len()
	}
	out := make([]float64, 0, n)
	if s.primary != nil {
		out = append(out, s.primary.Values()...)
	}
	for _, r := range s.auxiliary {
		if r != nil {
			out = append(out, r.Values()...)
		}
	}
	return out
}

// String prints out a table of every measurement in feature order, with columns of role, source,
// measurement name and value.
func (s *Session) String() string {
	t := table.NewWriter()
	t.SetTitle("session %s", s.id)
	t.AppendHeader(table.Row{"#", "Role", "Source", "Measurement", "Value"})
	n := 0
	add := func(role string, r *reading.Reading) {
		if r == nil {
			t.AppendRow(table.Row{"", role, "", "", ""})
			return
		}
		for _, m := range r.Measurements() {
			n++
			t.AppendRow(table.Row{n, role, r.Source(), m.Name, fmt.Sprintf("%.4f", m.Value)})
		}
	}
	add("primary", s.primary)
	for _, r := range s.auxiliary {
		add("auxiliary", r)
	}
	return t.Render()
}
