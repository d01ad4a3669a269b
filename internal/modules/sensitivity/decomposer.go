package sensitivity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// Supported decomposition measures.
const (
	MeasureVolatility = "volatility"
	MeasureVaR        = "var"
	MeasureES         = "es"
)

// weightDelta is the per-asset weight nudge for finite-difference
// contributions of quantile-based measures.
const weightDelta = 0.01

// decompositionConfidence fixes the tail level behind var/es decomposition.
const decompositionConfidence = 0.95

// Contribution is one asset's share of total portfolio risk.
type Contribution struct {
	Asset      string  `json:"asset"`
	Marginal   float64 `json:"marginal"`
	Component  float64 `json:"component"`
	Percentage float64 `json:"percentage"`
}

// Decomposition is the per-asset attribution of one risk measure.
type Decomposition struct {
	Measure       string         `json:"measure"`
	TotalRisk     float64        `json:"total_risk"`
	Contributions []Contribution `json:"per_asset_contributions"`
}

// Decomposer attributes portfolio risk to assets.
type Decomposer struct {
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
}

// NewDecomposer creates a risk decomposer.
func NewDecomposer(cfg engine.Config, log zerolog.Logger) *Decomposer {
	cfg.BatchFloor = 1
	return &Decomposer{
		dispatcher: engine.New(cfg, log),
		log:        log.With().Str("component", "decomposition").Logger(),
	}
}

// Run decomposes the chosen risk measure across assets. Volatility has a
// closed form from the covariance matrix; var and es use a parallel
// per-asset finite-difference perturbation since quantile measures have no
// closed form. Percentage contributions sum to about 1 either way.
func (d *Decomposer) Run(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	measure string,
) (*Decomposition, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid return table: %w", err)
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}

	switch measure {
	case MeasureVolatility:
		return d.decomposeVolatility(table, weights)
	case MeasureVaR, MeasureES:
		return d.decomposeQuantile(ctx, table, weights, measure)
	default:
		return nil, fmt.Errorf("unsupported risk measure %q", measure)
	}
}

// decomposeVolatility uses the Euler allocation: marginal_i = (Cov w)_i /
// sigma_p, component_i = w_i * marginal_i, and components sum exactly to
// sigma_p.
func (d *Decomposer) decomposeVolatility(table *domain.ReturnTable, weights domain.Weights) (*Decomposition, error) {
	n := table.Observations()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = table.Row(i)
	}
	cov, err := calculations.CovarianceMatrix(rows, len(table.Assets))
	if err != nil {
		return nil, err
	}

	weightVec := weights.Vector(table.Assets)
	total := calculations.PortfolioVolatility(weightVec, cov)
	if total == 0 {
		return nil, fmt.Errorf("portfolio volatility is zero, nothing to decompose")
	}

	contributions := make([]Contribution, len(table.Assets))
	for i, asset := range table.Assets {
		covW := 0.0
		for j := range weightVec {
			covW += cov.At(i, j) * weightVec[j]
		}
		marginal := covW / total
		component := weightVec[i] * marginal
		contributions[i] = Contribution{
			Asset:      asset,
			Marginal:   marginal,
			Component:  component,
			Percentage: component / total,
		}
	}

	d.log.Info().Str("measure", MeasureVolatility).Float64("total_risk", total).Msg("Risk decomposition complete")
	return &Decomposition{Measure: MeasureVolatility, TotalRisk: total, Contributions: contributions}, nil
}

// decomposeQuantile perturbs one asset's weight at a time, renormalizes and
// recomputes the tail measure, dispatching one unit per asset.
func (d *Decomposer) decomposeQuantile(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	measure string,
) (*Decomposition, error) {
	base, err := table.PortfolioReturns(weights)
	if err != nil {
		return nil, err
	}
	total := quantileRisk(base, measure)
	if total == 0 {
		return nil, fmt.Errorf("portfolio %s is zero, nothing to decompose", measure)
	}

	assets := table.Assets
	marginals := make([]float64, len(assets))
	err = d.dispatcher.Run(ctx, len(assets), func(_ context.Context, batch engine.Batch) error {
		for i := batch.Start; i < batch.End; i++ {
			nudged := make(domain.Weights, len(weights))
			for asset, w := range weights {
				nudged[asset] = w
			}
			nudged[assets[i]] += weightDelta
			renormalized, normErr := nudged.Normalized()
			if normErr != nil {
				return normErr
			}

			series, prjErr := table.PortfolioReturns(renormalized)
			if prjErr != nil {
				return prjErr
			}
			marginals[i] = (quantileRisk(series, measure) - total) / weightDelta
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("risk decomposition failed: %w", err)
	}

	contributions := make([]Contribution, len(assets))
	componentSum := 0.0
	for i, asset := range assets {
		component := weights[asset] * marginals[i]
		contributions[i] = Contribution{Asset: asset, Marginal: marginals[i], Component: component}
		componentSum += component
	}
	if componentSum != 0 {
		for i := range contributions {
			contributions[i].Percentage = contributions[i].Component / componentSum
		}
	}

	d.log.Info().Str("measure", measure).Float64("total_risk", total).Msg("Risk decomposition complete")
	return &Decomposition{Measure: measure, TotalRisk: total, Contributions: contributions}, nil
}

func quantileRisk(series []float64, measure string) float64 {
	if measure == MeasureES {
		return calculations.HistoricalES(series, decompositionConfidence)
	}
	return calculations.HistoricalVaR(series, decompositionConfidence)
}
