package inject

import (
	"context"

	"go.aim.dev/aim/model"
)

// Model is an injected model.Model.
type Model struct {
	model.Model
	name        string
	PredictFunc func(ctx context.Context, features []float64) (model.Prediction, error)
}

// NewModel returns a new injected model.
func NewModel(name string) *Model {
	return &Model{name: name}
}

// Name returns the name of the model.
func (m *Model) Name() string {
	return m.name
}

// Predict calls the injected Predict or the real version.
func (m *Model) Predict(ctx context.Context, features []float64) (model.Prediction, error) {
	if m.PredictFunc == nil {
		return m.Model.Predict(ctx, features)
	}
	return m.PredictFunc(ctx, features)
}
