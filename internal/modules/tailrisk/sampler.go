package tailrisk

import (
	"math/rand"
)

// Sampler adapts a fitted Model to the scenario-source capability consumed
// by the Monte Carlo simulator: it emits single-column scenario rows whose
// value is the sampled loss negated back into return space.
type Sampler struct {
	model    *Model
	method   string
	severity Severity
}

// Sampler returns a scenario source backed by this model's fitted tail.
func (m *Model) Sampler(method string, severity Severity) *Sampler {
	return &Sampler{model: m, method: method, severity: severity}
}

// GenerateScenarios draws n scenario rows using the supplied RNG.
func (s *Sampler) GenerateScenarios(n int, rng *rand.Rand) ([][]float64, error) {
	losses, err := s.model.GenerateScenarios(n, s.method, s.severity, rng)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, len(losses))
	for i, l := range losses {
		rows[i] = []float64{-l}
	}
	return rows, nil
}
