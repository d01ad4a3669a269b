package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrequency_AnnualizationFactor(t *testing.T) {
	assert.Equal(t, 252.0, Daily.AnnualizationFactor())
	assert.Equal(t, 52.0, Weekly.AnnualizationFactor())
	assert.Equal(t, 12.0, Monthly.AnnualizationFactor())
	assert.Equal(t, 252.0, Frequency("hourly").AnnualizationFactor(), "unknown frequencies default to daily")
}

func TestReturnTable_Validate(t *testing.T) {
	valid := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.01, -0.02, 0.005},
			"b": {0.002, 0.001, -0.004},
		},
		Frequency: Daily,
	}
	assert.NoError(t, valid.Validate())

	empty := &ReturnTable{}
	assert.Error(t, empty.Validate())

	missing := &ReturnTable{Assets: []string{"a"}, Data: map[string][]float64{}}
	assert.Error(t, missing.Validate())

	misaligned := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.01, 0.02},
			"b": {0.01},
		},
	}
	assert.Error(t, misaligned.Validate())

	nonFinite := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.01, math.NaN()},
			"b": {0.01, 0.02},
		},
	}
	assert.Error(t, nonFinite.Validate())

	short := &ReturnTable{
		Assets: []string{"a"},
		Data:   map[string][]float64{"a": {0.01}},
	}
	assert.Error(t, short.Validate())
}

func TestReturnTable_RowAndMeanVector(t *testing.T) {
	table := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.01, 0.03},
			"b": {-0.02, 0.04},
		},
	}

	assert.Equal(t, 2, table.Observations())
	assert.Equal(t, []float64{0.01, -0.02}, table.Row(0))
	assert.Equal(t, []float64{0.03, 0.04}, table.Row(1))

	mu := table.MeanVector()
	assert.InDelta(t, 0.02, mu[0], 1e-12)
	assert.InDelta(t, 0.01, mu[1], 1e-12)
}

func TestReturnTable_PortfolioReturns(t *testing.T) {
	table := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.02, 0.04},
			"b": {0.00, -0.02},
		},
	}

	portfolio, err := table.PortfolioReturns(Weights{"a": 0.5, "b": 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, portfolio[0], 1e-12)
	assert.InDelta(t, 0.01, portfolio[1], 1e-12)

	_, err = table.PortfolioReturns(Weights{"a": 0.5, "z": 0.5})
	assert.Error(t, err, "weights on unknown assets are rejected")
}

func TestReturnTable_Fingerprint(t *testing.T) {
	table := &ReturnTable{
		Assets: []string{"a", "b"},
		Data: map[string][]float64{
			"a": {0.01, 0.02},
			"b": {0.03, 0.04},
		},
		Frequency: Daily,
	}

	reordered := table.Copy()
	reordered.Assets = []string{"b", "a"}
	assert.Equal(t, table.Fingerprint(), reordered.Fingerprint(),
		"asset order does not change the fingerprint")

	changed := table.Copy()
	changed.Data["a"][0] = 0.05
	assert.NotEqual(t, table.Fingerprint(), changed.Fingerprint(),
		"changing a return value changes the fingerprint")

	weekly := table.Copy()
	weekly.Frequency = Weekly
	assert.NotEqual(t, table.Fingerprint(), weekly.Fingerprint())
}

func TestReturnTable_CopyIsIndependent(t *testing.T) {
	table := &ReturnTable{
		Assets:    []string{"a"},
		Data:      map[string][]float64{"a": {0.01, 0.02}},
		Frequency: Weekly,
	}

	dup := table.Copy()
	dup.Data["a"][0] = 99
	assert.Equal(t, 0.01, table.Data["a"][0], "mutating the copy must not touch the source")
	assert.Equal(t, Weekly, dup.Frequency)
}
