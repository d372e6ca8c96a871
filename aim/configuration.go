package aim

import (
	"github.com/pkg/errors"

	"go.aim.dev/aim/model"
	"go.aim.dev/aim/sensor"
)

// A Configuration names the primary instrument, the auxiliary sensors read alongside it and the
// model that corrects the instrument reading.
type Configuration struct {
	Name       string
	Instrument sensor.Device
	Sensors    []sensor.Device
	Model      model.Model
}

// Validate returns an error matching ErrInvalidConfiguration if the instrument or model is
// missing, or if there is not at least one sensor.
func (c *Configuration) Validate() error {
	switch {
	case c.Instrument == nil:
		return errors.Wrap(ErrInvalidConfiguration, "instrument is required")
	case c.Model == nil:
		return errors.Wrap(ErrInvalidConfiguration, "model is required")
	case len(c.Sensors) == 0:
		return errors.Wrap(ErrInvalidConfiguration, "at least one sensor is required")
	}
	for i, s := range c.Sensors {
		if s == nil {
			return errors.Wrapf(ErrInvalidConfiguration, "sensor %d is nil", i)
		}
	}
	return nil
}

// Devices returns the instrument followed by the sensors in order.
func (c *Configuration) Devices() []sensor.Device {
	out := make([]sensor.Device, 0, len(c.Sensors)+1)
	out = append(out, c.Instrument)
	return append(out, c.Sensors...)
}
