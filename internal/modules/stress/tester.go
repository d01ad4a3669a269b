// Package stress applies named and synthesized shock scenarios to a return
// table in parallel and compares stressed tail metrics against the
// unshocked baseline.
package stress

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// customShockScale multiplies the correlated standard-normal shock vector.
// Three sigmas models a severe but plausible multi-sigma event.
const customShockScale = 3.0

// Scenario is a named shock specification: asset-class substring mapped to
// an additive return shock. A shock applies to every asset whose identifier
// contains the substring, case-insensitively.
type Scenario struct {
	Name   string             `json:"name"`
	Shocks map[string]float64 `json:"shocks"`
}

// PredefinedScenarios returns the built-in historical-style stress set.
func PredefinedScenarios() []Scenario {
	return []Scenario{
		{Name: "market_crash", Shocks: map[string]float64{
			"equity": -0.20, "stock": -0.20, "bond": 0.05, "commodity": -0.10, "currency": -0.05,
		}},
		{Name: "rate_spike", Shocks: map[string]float64{
			"bond": -0.10, "rate": -0.10, "equity": -0.05, "currency": 0.02,
		}},
		{Name: "commodity_shock", Shocks: map[string]float64{
			"commodity": -0.25, "oil": -0.30, "gold": 0.10, "equity": -0.05,
		}},
		{Name: "currency_crisis", Shocks: map[string]float64{
			"currency": -0.25, "fx": -0.25, "equity": -0.10, "bond": -0.05, "gold": 0.15,
		}},
		{Name: "liquidity_crunch", Shocks: map[string]float64{
			"equity": -0.15, "bond": -0.08, "commodity": -0.12, "currency": -0.10,
		}},
	}
}

// ScenarioResult holds the stressed portfolio metrics for one scenario.
type ScenarioResult struct {
	Name       string  `json:"name"`
	MeanReturn float64 `json:"mean_return"`
	VaR95      float64 `json:"var_95"`
	VaR99      float64 `json:"var_99"`
	ES95       float64 `json:"es_95"`
	ES99       float64 `json:"es_99"`
}

// Summary aggregates the synthesized custom scenarios.
type Summary struct {
	MeanReturn float64 `json:"mean_return"`
	MinReturn  float64 `json:"min_return"`
	MaxReturn  float64 `json:"max_return"`
	StdReturn  float64 `json:"std_return"`
	MeanVaR95  float64 `json:"mean_var_95"`
	MinVaR95   float64 `json:"min_var_95"`
	MaxVaR95   float64 `json:"max_var_95"`
	StdVaR95   float64 `json:"std_var_95"`
	Scenarios  int     `json:"scenarios"`
}

// Result is the merged stress-test output.
type Result struct {
	Baseline      ScenarioResult   `json:"baseline"`
	Predefined    []ScenarioResult `json:"predefined_results"`
	CustomSummary *Summary         `json:"custom_summary,omitempty"`
	WorstReturn   ScenarioResult   `json:"worst_return_scenario"`
	WorstVaR      ScenarioResult   `json:"worst_var_scenario"`
}

// Tester runs stress scenarios, one dispatch unit per scenario.
type Tester struct {
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
}

// NewTester creates a stress tester.
func NewTester(cfg engine.Config, log zerolog.Logger) *Tester {
	// One scenario per unit, each is already a full-table recomputation.
	cfg.BatchFloor = 1
	return &Tester{
		dispatcher: engine.New(cfg, log),
		log:        log.With().Str("component", "stress").Logger(),
	}
}

// Run applies the named scenarios plus customCount synthesized correlated
// shocks to copies of the table, in parallel. The source table is never
// mutated. Passing nil scenarios runs the predefined set.
func (t *Tester) Run(
	ctx context.Context,
	table *domain.ReturnTable,
	weights domain.Weights,
	scenarios []Scenario,
	customCount int,
) (*Result, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid return table: %w", err)
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	if customCount < 0 {
		return nil, fmt.Errorf("custom scenario count must be non-negative, got %d", customCount)
	}
	if scenarios == nil {
		scenarios = PredefinedScenarios()
	}
	for _, sc := range scenarios {
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario with empty name")
		}
	}

	baselineSeries, err := table.PortfolioReturns(weights)
	if err != nil {
		return nil, err
	}
	baseline := evaluate("baseline", baselineSeries)

	var lower *mat.TriDense
	if customCount > 0 {
		n := table.Observations()
		rows := make([][]float64, n)
		for i := 0; i < n; i++ {
			rows[i] = table.Row(i)
		}
		cov, covErr := calculations.CovarianceMatrix(rows, len(table.Assets))
		if covErr != nil {
			return nil, covErr
		}
		lower, err = calculations.CholeskyFactor(cov)
		if err != nil {
			return nil, fmt.Errorf("failed to factorize covariance for custom shocks: %w", err)
		}
	}

	total := len(scenarios) + customCount
	if total == 0 {
		return nil, fmt.Errorf("no scenarios to run")
	}

	results := make([]ScenarioResult, total)
	err = t.dispatcher.Run(ctx, total, func(_ context.Context, batch engine.Batch) error {
		for i := batch.Start; i < batch.End; i++ {
			shocked := table.Copy()
			var name string
			if i < len(scenarios) {
				name = scenarios[i].Name
				applyNamedShocks(shocked, scenarios[i].Shocks)
			} else {
				name = fmt.Sprintf("custom_%d", i-len(scenarios)+1)
				shock := correlatedShock(lower, len(table.Assets), batch.Rng)
				applyVectorShock(shocked, shock)
			}
			series, prjErr := shocked.PortfolioReturns(weights)
			if prjErr != nil {
				return fmt.Errorf("scenario %s: %w", name, prjErr)
			}
			results[i] = evaluate(name, series)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stress test failed: %w", err)
	}

	result := &Result{
		Baseline:   baseline,
		Predefined: results[:len(scenarios)],
	}
	if customCount > 0 {
		result.CustomSummary = summarize(results[len(scenarios):])
	}

	worstReturn, worstVaR := results[0], results[0]
	for _, r := range results[1:] {
		if r.MeanReturn < worstReturn.MeanReturn {
			worstReturn = r
		}
		if r.VaR95 > worstVaR.VaR95 {
			worstVaR = r
		}
	}
	result.WorstReturn = worstReturn
	result.WorstVaR = worstVaR

	t.log.Info().
		Int("predefined", len(scenarios)).
		Int("custom", customCount).
		Str("worst_return", worstReturn.Name).
		Str("worst_var", worstVaR.Name).
		Msg("Stress test complete")

	return result, nil
}

// applyNamedShocks adds the shock of every matching asset-class substring to
// each observation of that asset's column.
func applyNamedShocks(table *domain.ReturnTable, shocks map[string]float64) {
	for _, asset := range table.Assets {
		lowered := strings.ToLower(asset)
		total := 0.0
		for class, shock := range shocks {
			if strings.Contains(lowered, strings.ToLower(class)) {
				total += shock
			}
		}
		if total == 0 {
			continue
		}
		col := table.Data[asset]
		for i := range col {
			col[i] += total
		}
	}
}

// correlatedShock draws a standard-normal vector, correlates it through the
// Cholesky factor and scales it to a severe event.
func correlatedShock(lower *mat.TriDense, k int, rng *rand.Rand) []float64 {
	z := make([]float64, k)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	shock := make([]float64, k)
	for r := 0; r < k; r++ {
		v := 0.0
		for c := 0; c <= r; c++ {
			v += lower.At(r, c) * z[c]
		}
		shock[r] = v * customShockScale
	}
	return shock
}

func applyVectorShock(table *domain.ReturnTable, shock []float64) {
	for j, asset := range table.Assets {
		col := table.Data[asset]
		for i := range col {
			col[i] += shock[j]
		}
	}
}

func evaluate(name string, series []float64) ScenarioResult {
	return ScenarioResult{
		Name:       name,
		MeanReturn: calculations.Mean(series),
		VaR95:      calculations.HistoricalVaR(series, 0.95),
		VaR99:      calculations.HistoricalVaR(series, 0.99),
		ES95:       calculations.HistoricalES(series, 0.95),
		ES99:       calculations.HistoricalES(series, 0.99),
	}
}

func summarize(custom []ScenarioResult) *Summary {
	returns := make([]float64, len(custom))
	vars := make([]float64, len(custom))
	minRet, maxRet := math.Inf(1), math.Inf(-1)
	minVaR, maxVaR := math.Inf(1), math.Inf(-1)
	for i, r := range custom {
		returns[i] = r.MeanReturn
		vars[i] = r.VaR95
		minRet = math.Min(minRet, r.MeanReturn)
		maxRet = math.Max(maxRet, r.MeanReturn)
		minVaR = math.Min(minVaR, r.VaR95)
		maxVaR = math.Max(maxVaR, r.VaR95)
	}
	return &Summary{
		MeanReturn: calculations.Mean(returns),
		MinReturn:  minRet,
		MaxReturn:  maxRet,
		StdReturn:  calculations.StdDev(returns),
		MeanVaR95:  calculations.Mean(vars),
		MinVaR95:   minVaR,
		MaxVaR95:   maxVaR,
		StdVaR95:   calculations.StdDev(vars),
		Scenarios:  len(custom),
	}
}
