package domain

import (
	"fmt"
	"math"
)

// WeightSumTolerance is the tolerance for the fully-invested constraint.
const WeightSumTolerance = 1e-6

// Weights maps asset identifiers to portfolio weights.
type Weights map[string]float64

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Normalized returns a copy scaled so weights sum to 1. Weights that sum to
// zero cannot be normalized.
func (w Weights) Normalized() (Weights, error) {
	total := w.Sum()
	if total == 0 {
		return nil, fmt.Errorf("cannot normalize weights that sum to zero")
	}
	out := make(Weights, len(w))
	for asset, v := range w {
		out[asset] = v / total
	}
	return out, nil
}

// Validate checks the fully-invested portfolio invariant: non-negative
// weights summing to 1 within tolerance.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("no weights provided")
	}
	for asset, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight for %s is not finite", asset)
		}
		if v < 0 {
			return fmt.Errorf("weight for %s is negative: %v", asset, v)
		}
	}
	if diff := math.Abs(w.Sum() - 1.0); diff > WeightSumTolerance {
		return fmt.Errorf("weights sum to %v, expected 1 within %v", w.Sum(), WeightSumTolerance)
	}
	return nil
}

// Vector returns the weights in the given asset order.
func (w Weights) Vector(assets []string) []float64 {
	vec := make([]float64, len(assets))
	for i, asset := range assets {
		vec[i] = w[asset]
	}
	return vec
}

// EqualWeights builds a 1/K portfolio over the given assets.
func EqualWeights(assets []string) Weights {
	w := make(Weights, len(assets))
	if len(assets) == 0 {
		return w
	}
	share := 1.0 / float64(len(assets))
	for _, asset := range assets {
		w[asset] = share
	}
	return w
}
