// Package montecarlo simulates portfolio return distributions by fanning
// scenario generation out over the batch dispatcher and deriving tail
// metrics from the merged distribution.
package montecarlo

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// ScenarioSource is the scenario-generation capability: anything that can
// produce a batch of scenario rows of a fixed width. Implemented by the
// Gaussian copula source below and by tailrisk.Sampler.
type ScenarioSource interface {
	GenerateScenarios(n int, rng *rand.Rand) ([][]float64, error)
}

// Result holds the merged simulation output: distribution moments plus
// var_<pct>/es_<pct> tail metrics per confidence level.
type Result struct {
	PortfolioMetrics calculations.Moments `json:"portfolio_metrics"`
	RiskMetrics      map[string]float64   `json:"risk_metrics"`
	Scenarios        int                  `json:"scenarios"`
}

// Simulator runs Monte Carlo portfolio simulations.
type Simulator struct {
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
}

// NewSimulator creates a simulator over the given dispatch configuration.
func NewSimulator(cfg engine.Config, log zerolog.Logger) *Simulator {
	return &Simulator{
		dispatcher: engine.New(cfg, log),
		log:        log.With().Str("component", "montecarlo").Logger(),
	}
}

// Run generates scenarioCount scenarios from the source in parallel
// batches, projects them onto the portfolio weights and computes moments
// plus VaR/ES per confidence level. Weights must be fully invested and
// non-negative. Single-column sources are treated as already-aggregated
// portfolio returns and the weights only fix the asset order for
// multi-column sources.
func (s *Simulator) Run(
	ctx context.Context,
	src ScenarioSource,
	assets []string,
	weights domain.Weights,
	scenarioCount int,
	confidences []float64,
) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("no scenario source provided")
	}
	if scenarioCount <= 0 {
		return nil, fmt.Errorf("scenario count must be positive, got %d", scenarioCount)
	}
	if err := validateConfidences(confidences); err != nil {
		return nil, err
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}

	weightVec := weights.Vector(assets)

	rows := make([][]float64, scenarioCount)
	err := s.dispatcher.Run(ctx, scenarioCount, func(_ context.Context, batch engine.Batch) error {
		generated, genErr := src.GenerateScenarios(batch.Size(), batch.Rng)
		if genErr != nil {
			return genErr
		}
		if len(generated) != batch.Size() {
			return fmt.Errorf("scenario source produced %d rows, expected %d", len(generated), batch.Size())
		}
		copy(rows[batch.Start:batch.End], generated)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scenario generation failed: %w", err)
	}

	portfolio := make([]float64, scenarioCount)
	for i, row := range rows {
		switch len(row) {
		case 1:
			portfolio[i] = row[0]
		case len(assets):
			v := 0.0
			for j, r := range row {
				v += weightVec[j] * r
			}
			portfolio[i] = v
		default:
			return nil, fmt.Errorf("scenario row %d has width %d, expected 1 or %d", i, len(row), len(assets))
		}
	}

	result := &Result{
		PortfolioMetrics: calculations.ComputeMoments(portfolio),
		RiskMetrics:      make(map[string]float64, 2*len(confidences)),
		Scenarios:        scenarioCount,
	}
	for _, c := range confidences {
		key := ConfidenceKey(c)
		result.RiskMetrics["var_"+key] = calculations.HistoricalVaR(portfolio, c)
		result.RiskMetrics["es_"+key] = calculations.HistoricalES(portfolio, c)
	}

	s.log.Info().
		Int("scenarios", scenarioCount).
		Int("confidence_levels", len(confidences)).
		Msg("Monte Carlo simulation complete")

	return result, nil
}

// ConfidenceKey renders a confidence level as the metric key suffix:
// 0.95 -> "95", 0.975 -> "97.5".
func ConfidenceKey(confidence float64) string {
	return fmt.Sprintf("%g", confidence*100)
}

func validateConfidences(confidences []float64) error {
	if len(confidences) == 0 {
		return fmt.Errorf("no confidence levels provided")
	}
	for _, c := range confidences {
		if c <= 0 || c >= 1 {
			return fmt.Errorf("confidence level must be in (0, 1), got %v", c)
		}
	}
	return nil
}
