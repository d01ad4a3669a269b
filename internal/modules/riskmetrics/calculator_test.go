package riskmetrics

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsingularity/riskoptimizer/internal/engine"
)

func gaussianSeries(n int, std float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = std * rng.NormFloat64()
	}
	return out
}

func testConfig() engine.Config {
	return engine.Config{Workers: 4, BatchFloor: 10, Oversubscription: 4, Seed: 1}
}

func TestCalculator_AllModels(t *testing.T) {
	series := gaussianSeries(1000, 0.01, 1)
	calc := NewCalculator(testConfig(), zerolog.Nop())

	models := []string{ModelParametric, ModelHistorical, ModelEVT}
	result, err := calc.Run(context.Background(), series, models, []float64{0.95, 0.99})
	require.NoError(t, err)
	require.Len(t, result.Models, 3)

	for _, model := range models {
		metrics, ok := result.Models[model]
		require.True(t, ok, "model %s missing from result", model)

		var95, var99 := metrics["var_95"], metrics["var_99"]
		es95, es99 := metrics["es_95"], metrics["es_99"]

		assert.Greater(t, var95, 0.0, "model %s", model)
		assert.GreaterOrEqual(t, var99, var95, "model %s: VaR must grow with confidence", model)
		assert.GreaterOrEqual(t, es95, var95, "model %s: ES must not be below VaR", model)
		assert.GreaterOrEqual(t, es99, var99, "model %s", model)
	}
}

func TestCalculator_Idempotent(t *testing.T) {
	series := gaussianSeries(800, 0.02, 2)
	calc := NewCalculator(testConfig(), zerolog.Nop())
	models := []string{ModelParametric, ModelHistorical, ModelEVT}

	first, err := calc.Run(context.Background(), series, models, []float64{0.95})
	require.NoError(t, err)
	second, err := calc.Run(context.Background(), series, models, []float64{0.95})
	require.NoError(t, err)
	assert.Equal(t, first.Models, second.Models, "same inputs must produce identical metrics")
}

func TestCalculator_Validation(t *testing.T) {
	calc := NewCalculator(testConfig(), zerolog.Nop())
	series := gaussianSeries(100, 0.01, 3)

	_, err := calc.Run(context.Background(), []float64{0.01}, []string{ModelHistorical}, []float64{0.95})
	assert.Error(t, err, "too few observations")

	_, err = calc.Run(context.Background(), series, nil, []float64{0.95})
	assert.Error(t, err, "no models")

	_, err = calc.Run(context.Background(), series, []string{"garch"}, []float64{0.95})
	assert.Error(t, err, "unknown model")

	_, err = calc.Run(context.Background(), series, []string{ModelHistorical}, []float64{0})
	assert.Error(t, err, "confidence at the boundary")

	_, err = calc.Run(context.Background(), series, []string{ModelHistorical}, nil)
	assert.Error(t, err, "no confidence levels")
}

func TestSupportedModel(t *testing.T) {
	assert.True(t, SupportedModel(ModelParametric))
	assert.True(t, SupportedModel(ModelHistorical))
	assert.True(t, SupportedModel(ModelEVT))
	assert.False(t, SupportedModel("garch"))
}

func TestModelVaR(t *testing.T) {
	series := gaussianSeries(1000, 0.01, 4)

	parametric, err := ModelVaR(series, ModelParametric, 0.95, zerolog.Nop())
	require.NoError(t, err)
	historical, err := ModelVaR(series, ModelHistorical, 0.95, zerolog.Nop())
	require.NoError(t, err)
	evt, err := ModelVaR(series, ModelEVT, 0.95, zerolog.Nop())
	require.NoError(t, err)

	assert.Greater(t, parametric, 0.0)
	assert.InDelta(t, historical, parametric, 0.005, "Gaussian data keeps the estimators close")
	assert.InDelta(t, historical, evt, 0.005)

	_, err = ModelVaR(series, "garch", 0.95, zerolog.Nop())
	assert.Error(t, err)
}

func TestModelVaR_EVTDegradesOnShortSeries(t *testing.T) {
	// Too short for a real tail fit: the EVT path must still answer.
	series := gaussianSeries(30, 0.01, 5)
	evt, err := ModelVaR(series, ModelEVT, 0.95, zerolog.Nop())
	require.NoError(t, err)
	assert.Greater(t, evt, 0.0)
}
