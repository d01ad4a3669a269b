// Package riskmetrics computes VaR and Expected Shortfall for one return
// series under multiple statistical models concurrently: Gaussian
// parametric, empirical historical and EVT tail fits.
package riskmetrics

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
	"github.com/quantsingularity/riskoptimizer/internal/modules/montecarlo"
	"github.com/quantsingularity/riskoptimizer/internal/modules/tailrisk"
)

// Supported model names.
const (
	ModelParametric = "parametric"
	ModelHistorical = "historical"
	ModelEVT        = "evt"
)

// SupportedModel reports whether the model name is known.
func SupportedModel(name string) bool {
	switch name {
	case ModelParametric, ModelHistorical, ModelEVT:
		return true
	default:
		return false
	}
}

// ModelMetrics maps var_<pct>/es_<pct> keys to loss magnitudes for one
// model.
type ModelMetrics map[string]float64

// Result holds per-model tail metrics.
type Result struct {
	Models map[string]ModelMetrics `json:"models"`
}

// Calculator computes batch risk metrics, one dispatch unit per model.
type Calculator struct {
	dispatcher *engine.Dispatcher
	log        zerolog.Logger
}

// NewCalculator creates a batch risk calculator.
func NewCalculator(cfg engine.Config, log zerolog.Logger) *Calculator {
	// One model per unit: a batch floor above 1 would glue models together.
	cfg.BatchFloor = 1
	return &Calculator{
		dispatcher: engine.New(cfg, log),
		log:        log.With().Str("component", "riskmetrics").Logger(),
	}
}

// Run computes VaR/ES for every requested model at every confidence level.
// All confidence levels of a model are computed together in its unit of
// work. Unknown model names fail validation before any work is dispatched.
func (c *Calculator) Run(ctx context.Context, series []float64, models []string, confidences []float64) (*Result, error) {
	if len(series) < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", len(series))
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no models requested")
	}
	for _, model := range models {
		if !SupportedModel(model) {
			return nil, fmt.Errorf("unsupported model %q", model)
		}
	}
	for _, conf := range confidences {
		if conf <= 0 || conf >= 1 {
			return nil, fmt.Errorf("confidence level must be in (0, 1), got %v", conf)
		}
	}
	if len(confidences) == 0 {
		return nil, fmt.Errorf("no confidence levels provided")
	}

	perModel := make([]ModelMetrics, len(models))
	err := c.dispatcher.Run(ctx, len(models), func(_ context.Context, batch engine.Batch) error {
		for i := batch.Start; i < batch.End; i++ {
			metrics, calcErr := c.modelMetrics(series, models[i], confidences)
			if calcErr != nil {
				return calcErr
			}
			perModel[i] = metrics
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch risk calculation failed: %w", err)
	}

	result := &Result{Models: make(map[string]ModelMetrics, len(models))}
	for i, model := range models {
		result.Models[model] = perModel[i]
	}
	return result, nil
}

// modelMetrics computes all confidence levels for one model.
func (c *Calculator) modelMetrics(series []float64, model string, confidences []float64) (ModelMetrics, error) {
	metrics := make(ModelMetrics, 2*len(confidences))

	var tail *tailrisk.Model
	effective := model
	if model == ModelEVT {
		tail = tailrisk.NewModel(series, c.log)
		if _, err := tail.FitPOTQuantile(tailrisk.DefaultThresholdQuantile); err != nil {
			c.log.Warn().Err(err).Msg("EVT tail fit unavailable, falling back to historical method")
			effective = ModelHistorical
			tail = nil
		}
	}

	for _, conf := range confidences {
		var varValue, esValue float64
		var err error
		switch effective {
		case ModelParametric:
			mean := calculations.Mean(series)
			std := calculations.StdDev(series)
			varValue = calculations.ParametricVaR(mean, std, conf)
			esValue = calculations.ParametricES(mean, std, conf)
		case ModelHistorical:
			varValue = calculations.HistoricalVaR(series, conf)
			esValue = calculations.HistoricalES(series, conf)
		case ModelEVT:
			varValue, err = tail.VaR(conf, tailrisk.MethodEVT)
			if err != nil {
				return nil, err
			}
			esValue, err = tail.ES(conf, tailrisk.MethodEVT)
			if err != nil {
				return nil, err
			}
		}

		key := montecarlo.ConfidenceKey(conf)
		metrics["var_"+key] = varValue
		metrics["es_"+key] = esValue
	}
	return metrics, nil
}

// ModelVaR computes a single VaR estimate for one model at one confidence
// level. Used by the backtester for per-window estimates; EVT degrades to
// historical when the tail cannot be fitted.
func ModelVaR(series []float64, model string, confidence float64, log zerolog.Logger) (float64, error) {
	switch model {
	case ModelParametric:
		return calculations.ParametricVaR(calculations.Mean(series), calculations.StdDev(series), confidence), nil
	case ModelHistorical:
		return calculations.HistoricalVaR(series, confidence), nil
	case ModelEVT:
		tail := tailrisk.NewModel(series, log)
		if _, err := tail.FitPOTQuantile(tailrisk.DefaultThresholdQuantile); err != nil {
			return calculations.HistoricalVaR(series, confidence), nil
		}
		return tail.VaR(confidence, tailrisk.MethodEVT)
	default:
		return 0, fmt.Errorf("unsupported model %q", model)
	}
}
