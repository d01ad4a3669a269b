// Package services exposes the library surface of the risk engine: one
// facade wiring the dispatcher configuration and shared cache into every
// risk module.
package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/backtest"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
	"github.com/quantsingularity/riskoptimizer/internal/modules/montecarlo"
	"github.com/quantsingularity/riskoptimizer/internal/modules/optimization"
	"github.com/quantsingularity/riskoptimizer/internal/modules/riskmetrics"
	"github.com/quantsingularity/riskoptimizer/internal/modules/sensitivity"
	"github.com/quantsingularity/riskoptimizer/internal/modules/stress"
)

// RiskService is the single entry point for callers. Each operation
// validates its inputs before any work is dispatched and blocks until the
// fan-out round completes.
type RiskService struct {
	simulator  *montecarlo.Simulator
	calculator *riskmetrics.Calculator
	searcher   *optimization.Searcher
	tester     *stress.Tester
	backtester *backtest.Backtester
	analyzer   *sensitivity.Analyzer
	decomposer *sensitivity.Decomposer
	log        zerolog.Logger
}

// NewRiskService wires all risk modules onto one dispatch configuration and
// a shared covariance cache.
func NewRiskService(cfg engine.Config, log zerolog.Logger) *RiskService {
	cache := calculations.NewCache()
	return &RiskService{
		simulator:  montecarlo.NewSimulator(cfg, log),
		calculator: riskmetrics.NewCalculator(cfg, log),
		searcher:   optimization.NewSearcher(cfg, cache, log),
		tester:     stress.NewTester(cfg, log),
		backtester: backtest.NewBacktester(cfg, log),
		analyzer:   sensitivity.NewAnalyzer(cfg, log),
		decomposer: sensitivity.NewDecomposer(cfg, log),
		log:        log.With().Str("component", "risk_service").Logger(),
	}
}

// MonteCarlo simulates the portfolio return distribution from any scenario
// source and derives moments plus VaR/ES per confidence level.
func (s *RiskService) MonteCarlo(
	ctx context.Context,
	src montecarlo.ScenarioSource,
	assets []string,
	weights domain.Weights,
	scenarioCount int,
	confidences []float64,
) (*montecarlo.Result, error) {
	return s.simulator.Run(ctx, src, assets, weights, scenarioCount, confidences)
}

// BatchRisk computes VaR/ES for one return series under several models
// concurrently.
func (s *RiskService) BatchRisk(
	ctx context.Context,
	series []float64,
	models []string,
	confidences []float64,
) (*riskmetrics.Result, error) {
	return s.calculator.Run(ctx, series, models, confidences)
}

// Optimize searches random candidate portfolios and returns the efficient
// frontier plus named optimal portfolios.
func (s *RiskService) Optimize(
	ctx context.Context,
	table *domain.ReturnTable,
	opts optimization.Options,
) (*optimization.Result, error) {
	return s.searcher.Run(ctx, table, opts)
}

// StressTest applies named and synthesized shock scenarios against the
// portfolio. Nil scenarios runs the predefined set.
func (s *RiskService) StressTest(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	scenarios []stress.Scenario,
	customCount int,
) (*stress.Result, error) {
	return s.tester.Run(ctx, table, weights, scenarios, customCount)
}

// Backtest rolls a VaR estimation window over history and reports breach
// statistics per model.
func (s *RiskService) Backtest(
	ctx context.Context,
	series []float64,
	models []string,
	confidence float64,
	window, step int,
) (*backtest.Result, error) {
	return s.backtester.Run(ctx, series, models, confidence, window, step)
}

// Sensitivity sweeps per-factor shock grids and reports response curves and
// endpoint sensitivities.
func (s *RiskService) Sensitivity(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	shockMin, shockMax float64,
	points int,
) (*sensitivity.Result, error) {
	return s.analyzer.Run(ctx, table, weights, shockMin, shockMax, points)
}

// DecomposeRisk attributes total portfolio risk to individual assets.
func (s *RiskService) DecomposeRisk(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	measure string,
) (*sensitivity.Decomposition, error) {
	return s.decomposer.Run(ctx, table, weights, measure)
}
