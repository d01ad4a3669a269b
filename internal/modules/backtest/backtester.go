// Package backtest rolls a fixed-width window over a return series,
// estimating VaR per window and model in parallel and aggregating breach
// statistics against the expected tail frequency.
package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/riskmetrics"
)

// WindowResult is one rolling window's estimates: per-model VaR fitted on
// [Start,End) and whether the realized return at TestIndex breached it.
type WindowResult struct {
	Index     int                `json:"index"`
	Start     int                `json:"start"`
	End       int                `json:"end"`
	TestIndex int                `json:"test_index"`
	Estimates map[string]float64 `json:"var_estimates"`
	Breaches  map[string]bool    `json:"breaches"`
}

// ModelSummary aggregates breach counts for one model. BreachRatio is the
// raw observed/expected quotient; no hypothesis-test p-value is attached.
type ModelSummary struct {
	Windows      int     `json:"windows"`
	Breaches     int     `json:"breaches"`
	ObservedRate float64 `json:"observed_rate"`
	ExpectedRate float64 `json:"expected_rate"`
	BreachRatio  float64 `json:"breach_ratio"`
}

// Result is the merged backtest output.
type Result struct {
	Confidence float64                 `json:"confidence"`
	Window     int                     `json:"window"`
	Step       int                     `json:"step"`
	Models     map[string]ModelSummary `json:"per_model_summary"`
	Windows    []WindowResult          `json:"per_window_detail"`
}

// Backtester runs rolling VaR backtests, one dispatch unit per window.
type Backtester struct {
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
}

// NewBacktester creates a rolling backtester.
func NewBacktester(cfg engine.Config, log zerolog.Logger) *Backtester {
	return &Backtester{
		dispatcher: engine.New(cfg, log),
		log:        log.With().Str("component", "backtest").Logger(),
	}
}

// Run fits each model's VaR on every rolling window of the series and
// checks whether the return immediately after the window fell below the
// negative estimate. Windows advance by step and each must leave one
// observation after it to test against.
func (b *Backtester) Run(
	ctx context.Context,
	series []float64,
	models []string,
	confidence float64,
	window, step int,
) (*Result, error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("confidence level must be in (0, 1), got %v", confidence)
	}
	if window < 2 {
		return nil, fmt.Errorf("window size must be at least 2, got %d", window)
	}
	if step < 1 {
		return nil, fmt.Errorf("step size must be positive, got %d", step)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models requested")
	}
	for _, model := range models {
		if !riskmetrics.SupportedModel(model) {
			return nil, fmt.Errorf("unsupported model %q", model)
		}
	}
	if len(series) <= window {
		return nil, fmt.Errorf("need more than %d observations for a window of %d, got %d", window, window, len(series))
	}

	starts := windowStarts(len(series), window, step)
	windows := make([]WindowResult, len(starts))

	err := b.dispatcher.Run(ctx, len(starts), func(_ context.Context, batch engine.Batch) error {
		for i := batch.Start; i < batch.End; i++ {
			start := starts[i]
			end := start + window
			slice := series[start:end]
			realized := series[end]

			wr := WindowResult{
				Index:     i,
				Start:     start,
				End:       end,
				TestIndex: end,
				Estimates: make(map[string]float64, len(models)),
				Breaches:  make(map[string]bool, len(models)),
			}
			for _, model := range models {
				estimate, varErr := riskmetrics.ModelVaR(slice, model, confidence, b.log)
				if varErr != nil {
					return fmt.Errorf("window %d model %s: %w", i, model, varErr)
				}
				wr.Estimates[model] = estimate
				wr.Breaches[model] = realized < -estimate
			}
			windows[i] = wr
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backtest failed: %w", err)
	}

	expected := 1 - confidence
	summaries := make(map[string]ModelSummary, len(models))
	for _, model := range models {
		breaches := 0
		for _, wr := range windows {
			if wr.Breaches[model] {
				breaches++
			}
		}
		observed := float64(breaches) / float64(len(windows))
		summaries[model] = ModelSummary{
			Windows:      len(windows),
			Breaches:     breaches,
			ObservedRate: observed,
			ExpectedRate: expected,
			BreachRatio:  observed / expected,
		}
	}

	b.log.Info().
		Int("windows", len(windows)).
		Int("models", len(models)).
		Float64("confidence", confidence).
		Msg("Backtest complete")

	return &Result{
		Confidence: confidence,
		Window:     window,
		Step:       step,
		Models:     summaries,
		Windows:    windows,
	}, nil
}

// windowStarts enumerates rolling window start indices leaving one
// observation beyond each window for the breach check.
func windowStarts(total, window, step int) []int {
	var starts []int
	for start := 0; start+window < total; start += step {
		starts = append(starts, start)
	}
	return starts
}
