package utils

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ErrNoSamples is returned when averaging an empty set of samples.
var ErrNoSamples = errors.New("no samples to average")

// Median returns the middle value of samples, or the mean of the two middle values for an even
// number of samples.
func Median(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoSamples
	}
	return stats.Median(samples)
}

// TrimmedMean sorts samples, discards round(len*fraction) values from each end and returns the
// mean of what is left.
func TrimmedMean(samples []float64, fraction float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoSamples
	}
	if fraction < 0 || fraction >= 0.5 {
		return 0, errors.Errorf("trim fraction must be in [0, 0.5), got %v", fraction)
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	trim := int(math.Round(float64(len(sorted)) * fraction))
	return stats.Mean(sorted[trim : len(sorted)-trim])
}
