package sensitivity

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
)

// iidTable builds independent equal-variance assets so equal weights imply
// equal risk shares.
func iidTable(t *testing.T, seed int64) *domain.ReturnTable {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := 3000
	assets := []string{"a", "b", "c"}
	table := &domain.ReturnTable{
		Assets:    assets,
		Data:      make(map[string][]float64, len(assets)),
		Frequency: domain.Daily,
	}
	for _, asset := range assets {
		series := make([]float64, n)
		for i := range series {
			series[i] = rng.NormFloat64() * 0.01
		}
		table.Data[asset] = series
	}
	return table
}

func TestDecomposer_VolatilityEulerAllocation(t *testing.T) {
	table := iidTable(t, 1)
	weights := domain.EqualWeights(table.Assets)
	decomposer := NewDecomposer(testConfig(), zerolog.Nop())

	result, err := decomposer.Run(context.Background(), table, weights, MeasureVolatility)
	require.NoError(t, err)
	assert.Equal(t, MeasureVolatility, result.Measure)
	assert.Greater(t, result.TotalRisk, 0.0)
	require.Len(t, result.Contributions, 3)

	pctSum := 0.0
	componentSum := 0.0
	for _, c := range result.Contributions {
		pctSum += c.Percentage
		componentSum += c.Component
		assert.InDelta(t, 1.0/3.0, c.Percentage, 0.05,
			"iid equal-variance assets with equal weights share risk equally (%s)", c.Asset)
	}
	assert.InDelta(t, 1.0, pctSum, 1e-9, "Euler allocation is exact for volatility")
	assert.InDelta(t, result.TotalRisk, componentSum, 1e-9)
}

// orthogonalTable builds four assets from sign patterns that are zero-mean
// and mutually orthogonal over every period of 8 observations, so the
// sample covariance matrix is diagonal with equal variances.
func orthogonalTable(t *testing.T) *domain.ReturnTable {
	t.Helper()
	patterns := map[string][8]float64{
		"a": {1, -1, 1, -1, 1, -1, 1, -1},
		"b": {1, 1, -1, -1, 1, 1, -1, -1},
		"c": {1, -1, -1, 1, 1, -1, -1, 1},
		"d": {1, 1, 1, 1, -1, -1, -1, -1},
	}
	const n = 800
	const amp = 0.01
	assets := []string{"a", "b", "c", "d"}
	table := &domain.ReturnTable{
		Assets:    assets,
		Data:      make(map[string][]float64, len(assets)),
		Frequency: domain.Daily,
	}
	for _, asset := range assets {
		pattern := patterns[asset]
		series := make([]float64, n)
		for i := range series {
			series[i] = amp * pattern[i%8]
		}
		table.Data[asset] = series
	}
	return table
}

func TestDecomposer_DiagonalCovarianceEqualShares(t *testing.T) {
	table := orthogonalTable(t)
	weights := domain.EqualWeights(table.Assets)
	decomposer := NewDecomposer(testConfig(), zerolog.Nop())

	result, err := decomposer.Run(context.Background(), table, weights, MeasureVolatility)
	require.NoError(t, err)
	require.Len(t, result.Contributions, 4)

	for _, c := range result.Contributions {
		assert.InDelta(t, 0.25, c.Percentage, 1e-9,
			"equal weights over uncorrelated equal-variance assets contribute exactly one quarter each (%s)", c.Asset)
	}
}

func TestDecomposer_QuantileMeasures(t *testing.T) {
	table := iidTable(t, 2)
	weights := domain.EqualWeights(table.Assets)
	decomposer := NewDecomposer(testConfig(), zerolog.Nop())

	for _, measure := range []string{MeasureVaR, MeasureES} {
		result, err := decomposer.Run(context.Background(), table, weights, measure)
		require.NoError(t, err, "measure %s", measure)
		assert.Greater(t, result.TotalRisk, 0.0)
		require.Len(t, result.Contributions, 3)

		pctSum := 0.0
		for _, c := range result.Contributions {
			pctSum += c.Percentage
		}
		assert.InDelta(t, 1.0, pctSum, 0.01,
			"measure %s: percentage contributions must sum to about 1", measure)
	}
}

func TestDecomposer_Validation(t *testing.T) {
	table := iidTable(t, 3)
	weights := domain.EqualWeights(table.Assets)
	decomposer := NewDecomposer(testConfig(), zerolog.Nop())

	_, err := decomposer.Run(context.Background(), table, weights, "sharpe")
	assert.Error(t, err, "unknown measure")

	_, err = decomposer.Run(context.Background(), table, domain.Weights{"a": 0.4}, MeasureVolatility)
	assert.Error(t, err, "weights must be fully invested")
}
