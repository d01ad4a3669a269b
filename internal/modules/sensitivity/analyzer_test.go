package sensitivity

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
)

func testTable(t *testing.T, seed int64) *domain.ReturnTable {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := 400
	table := &domain.ReturnTable{
		Assets: []string{"equity_us", "equity_eu", "bond_gov"},
		Data: map[string][]float64{
			"equity_us": make([]float64, n),
			"equity_eu": make([]float64, n),
			"bond_gov":  make([]float64, n),
		},
		Frequency: domain.Daily,
	}
	for i := 0; i < n; i++ {
		market := rng.NormFloat64() * 0.01
		table.Data["equity_us"][i] = 0.0004 + market + rng.NormFloat64()*0.005
		table.Data["equity_eu"][i] = 0.0003 + 0.8*market + rng.NormFloat64()*0.006
		table.Data["bond_gov"][i] = 0.0001 - 0.2*market + rng.NormFloat64()*0.002
	}
	return table
}

func testConfig() engine.Config {
	return engine.Config{Workers: 4, BatchFloor: 1, Oversubscription: 2, Seed: 41}
}

func TestAnalyzer_CurveShape(t *testing.T) {
	table := testTable(t, 1)
	weights := domain.EqualWeights(table.Assets)
	analyzer := NewAnalyzer(testConfig(), zerolog.Nop())

	result, err := analyzer.Run(context.Background(), table, weights, -0.05, 0.05, 11)
	require.NoError(t, err)
	require.Len(t, result.Factors, len(table.Assets))

	for _, curve := range result.Factors {
		require.Len(t, curve.Points, 11)
		assert.InDelta(t, -0.05, curve.Points[0].Shock, 1e-12)
		assert.InDelta(t, 0.05, curve.Points[10].Shock, 1e-12)

		// An additive column shock shifts every portfolio observation by
		// weight*shock: the return response is exactly the weight and the
		// VaR response its negative.
		w := weights[curve.Factor]
		assert.InDelta(t, w, curve.ReturnSensitivity, 1e-9, "factor %s", curve.Factor)
		assert.InDelta(t, -w, curve.VaRSensitivity, 1e-9, "factor %s", curve.Factor)

		for _, point := range curve.Points {
			assert.GreaterOrEqual(t, point.ES95, point.VaR95)
			assert.Greater(t, point.Volatility, 0.0)
		}
	}
}

func TestAnalyzer_FactorOrderMatchesAssets(t *testing.T) {
	table := testTable(t, 2)
	analyzer := NewAnalyzer(testConfig(), zerolog.Nop())

	result, err := analyzer.Run(context.Background(), table, domain.EqualWeights(table.Assets), -0.01, 0.01, 3)
	require.NoError(t, err)
	for i, curve := range result.Factors {
		assert.Equal(t, table.Assets[i], curve.Factor)
	}
}

func TestAnalyzer_Validation(t *testing.T) {
	table := testTable(t, 3)
	weights := domain.EqualWeights(table.Assets)
	analyzer := NewAnalyzer(testConfig(), zerolog.Nop())

	_, err := analyzer.Run(context.Background(), table, weights, -0.05, 0.05, 1)
	assert.Error(t, err, "need at least two sweep points")

	_, err = analyzer.Run(context.Background(), table, weights, 0.05, -0.05, 5)
	assert.Error(t, err, "empty shock range")

	_, err = analyzer.Run(context.Background(), table, domain.Weights{"equity_us": 2}, -0.05, 0.05, 5)
	assert.Error(t, err, "invalid weights")
}
