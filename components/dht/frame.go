package dht

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

// FrameLen is the size of an encoded frame: 8 bytes of unix nanoseconds, the 5 bytes the sensor
// sent and a flags byte.
const FrameLen = 14

const (
	flagValid byte = 1 << iota
	flagStale
)

// Frame is one decoded sensor transmission.
type Frame struct {
	// Time is when the data was read off the bus.
	Time time.Time
	// Data holds humidity integer and decimal, temperature integer and decimal and the checksum.
	Data [5]byte
	// Valid is false when no good transmission has been received yet.
	Valid bool
	// Stale is true when Data is from an earlier read because the latest one failed.
	Stale bool
}

// Humidity in percent.
func (f Frame) Humidity() float64 {
	return float64(f.Data[0]) + float64(f.Data[1])*0.1
}

// Temperature in degrees Celsius.
func (f Frame) Temperature() float64 {
	return float64(f.Data[2]) + float64(f.Data[3])*0.1
}

// Env returns the readings in periph units.
func (f Frame) Env() physic.Env {
	tenthsC := physic.Temperature(f.Data[2])*10 + physic.Temperature(f.Data[3])
	tenthsRH := physic.RelativeHumidity(f.Data[0])*10 + physic.RelativeHumidity(f.Data[1])
	return physic.Env{
		Temperature: physic.ZeroCelsius + tenthsC*physic.Celsius/10,
		Humidity:    tenthsRH * physic.PercentRH / 10,
	}
}

// Encode serializes the frame.
func (f Frame) Encode() []byte {
	out := make([]byte, FrameLen)
	binary.BigEndian.PutUint64(out[0:8], uint64(f.Time.UnixNano()))
	copy(out[8:13], f.Data[:])
	if f.Valid {
		out[13] |= flagValid
	}
	if f.Stale {
		out[13] |= flagStale
	}
	return out
}

// DecodeFrame parses a frame produced by Encode.
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) != FrameLen {
		return Frame{}, errors.Errorf("dht frame must be %d bytes, got %d", FrameLen, len(raw))
	}
	f := Frame{
		Time:  time.Unix(0, int64(binary.BigEndian.Uint64(raw[0:8]))),
		Valid: raw[13]&flagValid != 0,
		Stale: raw[13]&flagStale != 0,
	}
	copy(f.Data[:], raw[8:13])
	return f, nil
}

// Checksum reports whether the last byte is the low byte of the sum of the other four. All zero
// data is rejected as well, since a line stuck low reads as zeros with a matching checksum.
func Checksum(data [5]byte) bool {
	if data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
		return false
	}
	sum := uint(data[0]) + uint(data[1]) + uint(data[2]) + uint(data[3])
	return data[4] == byte(sum&0xFF)
}
