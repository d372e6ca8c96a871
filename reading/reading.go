// Package reading holds the timestamped measurements a converter produces from one raw channel
// payload.
package reading

import (
	"time"

	"github.com/pkg/errors"

	"go.aim.dev/aim/channel"
)

// ErrMalformedPayload is returned by converters and the line codec when a raw payload can't be
// decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// A Measurement is one named scalar taken at a point in time.
type Measurement struct {
	Name  string
	Value float64
	Time  time.Time
}

// A Reading is the set of measurements one sensor produced in one request/response cycle.
// Measurement names are unique. The order they were added in is kept so that feature vectors
// built from readings are stable, but it plays no part in equality.
type Reading struct {
	source string
	time   time.Time
	names  []string
	values map[string]float64
}

// Source is the name of the sensor that produced the reading.
func (r *Reading) Source() string {
	return r.source
}

// Time is when the reading was taken.
func (r *Reading) Time() time.Time {
	return r.time
}

// Len returns the number of measurements.
func (r *Reading) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// IsEmpty reports whether r is nil or holds no measurements.
func (r *Reading) IsEmpty() bool {
	return r.Len() == 0
}

// Names returns the measurement names in insertion order.
func (r *Reading) Names() []string {
	return append([]string(nil), r.names...)
}

// Value returns the named measurement.
func (r *Reading) Value(name string) (float64, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Values returns the measurement values in insertion order.
func (r *Reading) Values() []float64 {
	out := make([]float64, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.values[n])
	}
	return out
}

// Measurements returns every measurement, stamped with the reading time.
func (r *Reading) Measurements() []Measurement {
	out := make([]Measurement, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, Measurement{Name: n, Value: r.values[n], Time: r.time})
	}
	return out
}

// Equal reports whether both readings have the same source, time and measurements, regardless
// of insertion order.
func (r *Reading) Equal(other *Reading) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.source != other.source || !r.time.Equal(other.time) || len(r.values) != len(other.values) {
		return false
	}
	for n, v := range r.values {
		ov, ok := other.values[n]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// A Builder accumulates measurements for a Reading. The zero value is not usable; use
// NewBuilder.
type Builder struct {
	r   *Reading
	err error
}

// NewBuilder starts a reading for source taken at t.
func NewBuilder(source string, t time.Time) *Builder {
	return &Builder{r: &Reading{source: source, time: t, values: map[string]float64{}}}
}

// Add records a measurement. Adding a name twice is an error reported by Build.
func (b *Builder) Add(name string, value float64) *Builder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.err = errors.New("measurement name cannot be empty")
		return b
	}
	if _, ok := b.r.values[name]; ok {
		b.err = errors.Errorf("duplicate measurement %q", name)
		return b
	}
	b.r.names = append(b.r.names, name)
	b.r.values[name] = value
	return b
}

// Build returns the finished reading. The builder must not be used afterwards.
func (b *Builder) Build() (*Reading, error) {
	if b.err != nil {
		return nil, errors.Wrapf(b.err, "building reading for %q", b.r.source)
	}
	r := b.r
	b.r = nil
	return r, nil
}

// A Converter turns one raw channel payload into a Reading.
type Converter[T channel.Payload] interface {
	Convert(raw T) (*Reading, error)
}

// ConverterFunc adapts a function to a Converter.
type ConverterFunc[T channel.Payload] func(raw T) (*Reading, error)

// Convert calls f.
func (f ConverterFunc[T]) Convert(raw T) (*Reading, error) {
	return f(raw)
}
