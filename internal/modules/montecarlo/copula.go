package montecarlo

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// GaussianCopulaSource generates correlated multi-asset scenario rows from
// the sample mean vector and the Cholesky factor of the sample covariance.
type GaussianCopulaSource struct {
	assets []string
	mu     []float64
	lower  *mat.TriDense
}

// NewGaussianCopulaSource fits a correlated Gaussian scenario generator to
// a return table.
func NewGaussianCopulaSource(table *domain.ReturnTable) (*GaussianCopulaSource, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid return table: %w", err)
	}

	n := table.Observations()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = table.Row(i)
	}

	cov, err := calculations.CovarianceMatrix(rows, len(table.Assets))
	if err != nil {
		return nil, err
	}
	lower, err := calculations.CholeskyFactor(cov)
	if err != nil {
		return nil, fmt.Errorf("failed to factorize covariance: %w", err)
	}

	return &GaussianCopulaSource{
		assets: table.Assets,
		mu:     table.MeanVector(),
		lower:  lower,
	}, nil
}

// Assets returns the column order of generated rows.
func (s *GaussianCopulaSource) Assets() []string {
	return s.assets
}

// GenerateScenarios draws n correlated scenario rows: mu + L*z with z a
// standard normal vector.
func (s *GaussianCopulaSource) GenerateScenarios(n int, rng *rand.Rand) ([][]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("scenario count must be positive, got %d", n)
	}

	k := len(s.assets)
	rows := make([][]float64, n)
	z := make([]float64, k)
	for i := 0; i < n; i++ {
		for j := range z {
			z[j] = rng.NormFloat64()
		}
		row := make([]float64, k)
		for r := 0; r < k; r++ {
			v := s.mu[r]
			for c := 0; c <= r; c++ {
				v += s.lower.At(r, c) * z[c]
			}
			row[r] = v
		}
		rows[i] = row
	}
	return rows, nil
}
