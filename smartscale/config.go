package smartscale

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.aim.dev/aim/components/dht"
	"go.aim.dev/aim/components/hx711"
	"go.aim.dev/aim/components/mpu6050"
	"go.aim.dev/aim/components/uart"
	"go.aim.dev/aim/model/linear"
	"go.aim.dev/aim/utils"
)

// Config describes a smart scale: the load cell, the inclination and environment sensors read
// alongside it, an optional serial vibration sensor and the correction model.
type Config struct {
	Name              string         `json:"name"`
	Scale             hx711.Config   `json:"scale"`
	ZeroOffset        float64        `json:"zero_offset,omitempty"`
	CalibrationFactor float64        `json:"calibration_factor,omitempty"`
	I2CBus            string         `json:"i2c_bus"`
	Gyroscope         mpu6050.Config `json:"gyroscope"`
	Environment       dht.Config     `json:"environment"`
	Vibration         *uart.Config   `json:"vibration,omitempty"`
	// ModelPath names a JSON linear model file. It takes precedence over Model.
	ModelPath string         `json:"model_path,omitempty"`
	Model     *linear.Config `json:"model,omitempty"`
}

// DefaultConfig returns the stock wiring: HX711 on GPIO 21 (clock) and 20 (data) at gain 64,
// MPU-6050 on I2C bus 1 and a DHT on GPIO 26, with DefaultModel.
func DefaultConfig() *Config {
	model := DefaultModel()
	return &Config{
		Name: "ScaleConfig",
		Scale: hx711.Config{
			ClockPin: 21,
			DataPin:  20,
			Gain:     int(hx711.Gain64),
		},
		I2CBus:      "1",
		Environment: dht.Config{Pin: 26},
		Model:       &model,
	}
}

// DefaultModel passes the weight through unchanged. Its features are weight, roll, pitch,
// temperature and humidity.
func DefaultModel() linear.Config {
	return linear.Config{
		Name:    "ScaleModel",
		Weights: []float64{1, 0, 0, 0, 0},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.I2CBus == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "i2c_bus")
	}
	if err := cfg.Scale.Validate(path + ".scale"); err != nil {
		return err
	}
	if err := cfg.Gyroscope.Validate(path + ".gyroscope"); err != nil {
		return err
	}
	if err := cfg.Environment.Validate(path + ".environment"); err != nil {
		return err
	}
	if p := cfg.Environment.Pin; p == cfg.Scale.ClockPin || p == cfg.Scale.DataPin {
		return utils.NewConfigValidationError(path, errors.Errorf("pin %d is used by both the scale and the environment sensor", p))
	}
	if cfg.Vibration != nil {
		if err := cfg.Vibration.Validate(path + ".vibration"); err != nil {
			return err
		}
	}
	if cfg.ModelPath == "" {
		if cfg.Model == nil {
			return utils.NewConfigValidationFieldRequiredError(path, "model")
		}
		if err := cfg.Model.Validate(path + ".model"); err != nil {
			return err
		}
	}
	return nil
}

// DecodeConfig decodes attributes over DefaultConfig, so missing attributes keep their default,
// and validates the result. Unknown attributes are an error.
func DecodeConfig(attrs map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()
	if _, ok := attrs["model"]; ok {
		// decoding over the default would keep its trailing weights
		cfg.Model = nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "failed to decode smart scale config")
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a JSON object of attributes from path and decodes it with DecodeConfig.
func LoadConfig(path string) (*Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %q", path)
	}
	return DecodeConfig(attrs)
}
