// Package model defines the boundary to the correction model that turns a session's feature
// vector into a corrected measurement.
package model

import "context"

// Prediction is a model's output for one session.
type Prediction struct {
	// CorrectedValue is the corrected primary measurement.
	CorrectedValue float64
	// Confidence is in [0, 1].
	Confidence float64
	// ErrorMargin is the expected absolute error of CorrectedValue.
	ErrorMargin float64
}

// A Model is an opaque inference service. Predict may block and should honor ctx.
type Model interface {
	Name() string
	Predict(ctx context.Context, features []float64) (Prediction, error)
}
