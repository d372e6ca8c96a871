// Package linear is a correction model described by a JSON file of weights. It computes the
// corrected value as bias + w·x and the confidence as sigmoid(c·x + d).
package linear

import (
	"context"
	"encoding/json"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.aim.dev/aim/logging"
	"go.aim.dev/aim/model"
	"go.aim.dev/aim/utils"
)

// ErrFeatureShape is returned when a feature vector doesn't match the weights.
var ErrFeatureShape = errors.New("feature vector does not match model weights")

// Config describes a linear model.
type Config struct {
	Name              string    `json:"name"`
	Bias              float64   `json:"bias"`
	Weights           []float64 `json:"weights"`
	ConfidenceWeights []float64 `json:"confidence_weights,omitempty"`
	ConfidenceBias    float64   `json:"confidence_bias,omitempty"`
	ErrorMargin       float64   `json:"error_margin,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if len(cfg.Weights) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "weights")
	}
	if len(cfg.ConfidenceWeights) != 0 && len(cfg.ConfidenceWeights) != len(cfg.Weights) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("confidence_weights has %d entries, weights has %d", len(cfg.ConfidenceWeights), len(cfg.Weights)))
	}
	if cfg.ErrorMargin < 0 {
		return utils.NewConfigValidationError(path, errors.New("error_margin cannot be negative"))
	}
	return nil
}

// Model is a linear correction model.
type Model struct {
	cfg    Config
	logger logging.Logger
}

// New returns a model for cfg.
func New(cfg Config, logger logging.Logger) (*Model, error) {
	if err := cfg.Validate("model"); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, logger: logger}, nil
}

// Load reads a JSON model description from path.
func Load(path string, logger logging.Logger) (*Model, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode model %q", path)
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	logger.Debugw("loaded linear model", "name", cfg.Name, "features", len(cfg.Weights))
	return &Model{cfg: cfg, logger: logger}, nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.cfg.Name
}

// Features returns the length of the feature vector the model expects.
func (m *Model) Features() int {
	return len(m.cfg.Weights)
}

// Predict implements model.Model. Without confidence weights the confidence is 1.
func (m *Model) Predict(ctx context.Context, features []float64) (model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, err
	}
	if len(features) != len(m.cfg.Weights) {
		return model.Prediction{}, errors.Wrapf(ErrFeatureShape, "got %d features, want %d", len(features), len(m.cfg.Weights))
	}
	out := model.Prediction{
		CorrectedValue: m.cfg.Bias + floats.Dot(m.cfg.Weights, features),
		Confidence:     1,
		ErrorMargin:    m.cfg.ErrorMargin,
	}
	if len(m.cfg.ConfidenceWeights) != 0 {
		logit := m.cfg.ConfidenceBias + floats.Dot(m.cfg.ConfidenceWeights, features)
		conf, err := stats.Sigmoid([]float64{logit})
		if err != nil {
			return model.Prediction{}, err
		}
		out.Confidence = conf[0]
	}
	return out, nil
}
