package reading

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	fieldSeparator = ";"
	kvSeparator    = ":"
)

// A Field is one key/value pair of a text line payload.
type Field struct {
	Key   string
	Value string
}

// FloatField formats v with the fewest digits that still parse back to exactly v.
func FloatField(key string, v float64) Field {
	return Field{Key: key, Value: strconv.FormatFloat(v, 'g', -1, 64)}
}

// TimeField formats t as RFC 3339 with nanoseconds.
func TimeField(key string, t time.Time) Field {
	return Field{Key: key, Value: t.Format(time.RFC3339Nano)}
}

// FormatLine joins fields as "key:value;key:value".
func FormatLine(fields ...Field) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteString(fieldSeparator)
		}
		sb.WriteString(f.Key)
		sb.WriteString(kvSeparator)
		sb.WriteString(f.Value)
	}
	return sb.String()
}

// A Line is a decoded text payload. Values may contain ':' since only the first one in a field
// separates the key.
type Line struct {
	keys   []string
	values map[string]string
}

// ParseLine decodes "key:value;key:value". Surrounding whitespace and a trailing separator are
// ignored.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, fieldSeparator)
	l := Line{values: map[string]string{}}
	if raw == "" {
		return l, errors.Wrap(ErrMalformedPayload, "empty line")
	}
	for _, field := range strings.Split(raw, fieldSeparator) {
		key, value, ok := strings.Cut(field, kvSeparator)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return Line{}, errors.Wrapf(ErrMalformedPayload, "bad field %q", field)
		}
		if _, dup := l.values[key]; dup {
			return Line{}, errors.Wrapf(ErrMalformedPayload, "duplicate key %q", key)
		}
		l.keys = append(l.keys, key)
		l.values[key] = strings.TrimSpace(value)
	}
	return l, nil
}

// Keys returns the keys in line order.
func (l Line) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Get returns the raw value for key.
func (l Line) Get(key string) (string, bool) {
	v, ok := l.values[key]
	return v, ok
}

// Float parses the value for key.
func (l Line) Float(key string) (float64, error) {
	v, ok := l.values[key]
	if !ok {
		return 0, errors.Wrapf(ErrMalformedPayload, "missing %q", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedPayload, "%q: %v", key, err)
	}
	return f, nil
}

// Time parses the RFC 3339 value for key.
func (l Line) Time(key string) (time.Time, error) {
	v, ok := l.values[key]
	if !ok {
		return time.Time{}, errors.Wrapf(ErrMalformedPayload, "missing %q", key)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrMalformedPayload, "%q: %v", key, err)
	}
	return t, nil
}

// TimeKey is the line key carrying the reading timestamp.
const TimeKey = "time"

// LineConverter converts a text line into a reading named Source. The TimeKey field becomes the
// reading time and every other field, in line order, a measurement. Lines without a time field
// are stamped with Now, or rejected if Now is nil.
type LineConverter struct {
	Source string
	Now    func() time.Time
}

// Convert implements Converter.
func (c LineConverter) Convert(raw string) (*Reading, error) {
	l, err := ParseLine(raw)
	if err != nil {
		return nil, err
	}
	var t time.Time
	if _, ok := l.Get(TimeKey); ok || c.Now == nil {
		if t, err = l.Time(TimeKey); err != nil {
			return nil, err
		}
	} else {
		t = c.Now()
	}
	b := NewBuilder(c.Source, t)
	for _, k := range l.keys {
		if k == TimeKey {
			continue
		}
		v, err := l.Float(k)
		if err != nil {
			return nil, err
		}
		b.Add(k, v)
	}
	return b.Build()
}
